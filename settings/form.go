package settings

import (
	"net/url"
	"time"

	"github.com/google/go-querystring/query"
)

// Form is the request shape of a settings update. Flags are sent only when set.
type Form struct {
	AutoPH              bool   `url:"auto_ph,omitempty"`
	Refill              bool   `url:"refill,omitempty"`
	Circulate           bool   `url:"circulate,omitempty"`
	PhStabilizeInterval string `url:"ph_stabilize_interval,omitempty"`
	PhDoseLength        string `url:"ph_dose_length,omitempty"`
	RefillDoseLength    string `url:"refill_dose_length,omitempty"`
}

func FormFrom(s Settings) Form {
	return Form{
		AutoPH:              s.AutoPH,
		Refill:              s.RefillMode == RefillOn,
		Circulate:           s.RefillMode == RefillCirculate,
		PhStabilizeInterval: s.PhStabilizeInterval.String(),
		PhDoseLength:        s.PhDoseLength.String(),
		RefillDoseLength:    s.RefillDoseLength.String(),
	}
}

func (f Form) Values() (url.Values, error) {
	return query.Values(f)
}

// Merge lays the supplied fields over current and seals the result. Missing
// durations keep their current value; the auto_ph and refill flags are off
// unless present.
func Merge(current Settings, form url.Values) (Settings, error) {
	c := current
	c.AutoPH = form.Has("auto_ph")
	switch {
	case form.Has("circulate"):
		c.RefillMode = RefillCirculate
	case form.Has("refill"):
		c.RefillMode = RefillOn
	default:
		c.RefillMode = RefillOff
	}

	fields := []struct {
		name string
		dst  *time.Duration
	}{
		{"ph_stabilize_interval", &c.PhStabilizeInterval},
		{"ph_dose_length", &c.PhDoseLength},
		{"refill_dose_length", &c.RefillDoseLength},
	}
	for _, f := range fields {
		v := form.Get(f.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return current, &ValidationError{Field: f.name, Reason: err.Error()}
		}
		*f.dst = d.Truncate(time.Millisecond)
	}
	return Seal(c), nil
}
