package controller

import (
	"fmt"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/settings"
	"github.com/robfig/cron/v3"
	logger "github.com/sirupsen/logrus"
)

const DefaultRefillSchedule = "0 */6 * * *"

type RefillPump interface {
	Doser
	SetContinuous(id data.PumpID, on bool) error
	Continuous(id data.PumpID) bool
}

// Refill drives the refill pump according to the refill mode. Trigger may be
// called from any goroutine; everything else runs on the actuation core.
type Refill struct {
	pump RefillPump
	due  chan struct{}
}

func NewRefill(p RefillPump) *Refill {
	return &Refill{pump: p, due: make(chan struct{}, 1)}
}

// Trigger asks for a refill pulse on the next step. Repeated triggers before
// then collapse into one.
func (r *Refill) Trigger() {
	select {
	case r.due <- struct{}{}:
	default:
	}
}

// Sync brings circulation in line with the settings and the enable state.
func (r *Refill) Sync(cfg settings.Settings, enabled bool) {
	want := cfg.RefillMode == settings.RefillCirculate && enabled && !r.pump.SafetyTripped()
	if want == r.pump.Continuous(data.Refill) {
		return
	}
	if err := r.pump.SetContinuous(data.Refill, want); err != nil {
		logger.Warnf("Could not set circulation [%v] [%v]", want, err)
	}
}

func (r *Refill) Step(cfg settings.Settings, enabled bool) {
	r.Sync(cfg, enabled)
	select {
	case <-r.due:
	default:
		return
	}
	if cfg.RefillMode != settings.RefillOn {
		logger.Debugf("Refill schedule fired, mode is [%v]", cfg.RefillMode)
		return
	}
	if _, err := r.pump.Pulse(data.Refill, cfg.RefillDoseLength, true); err != nil {
		logger.Warnf("Refill not delivered [%v]", err)
	}
}

// ScheduleRefill starts a cron that triggers r on spec.
func ScheduleRefill(spec string, r *Refill) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, r.Trigger); err != nil {
		return nil, fmt.Errorf("refill schedule %q: %w", spec, err)
	}
	c.Start()
	logger.Infof("Refill schedule [%v]", spec)
	return c, nil
}
