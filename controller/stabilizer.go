package controller

import (
	"context"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/settings"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

type State int

const (
	Idle State = iota
	AwaitingInterval
	Sampling
	Dosing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingInterval:
		return "awaiting-interval"
	case Sampling:
		return "sampling"
	case Dosing:
		return "dosing"
	default:
		return "unknown"
	}
}

// Band is the target pH range. A dose is triggered once the reading comes
// within Tolerance of either edge.
type Band struct {
	Min       float64
	Max       float64
	Tolerance float64
}

func DefaultBand() Band {
	return Band{Min: 5.5, Max: 6.5, Tolerance: 0.2}
}

// Decide returns the pump to correct ph with, if any. Low readings are checked
// first.
func (b Band) Decide(ph float64) (data.PumpID, bool) {
	if ph < b.Min+b.Tolerance {
		return data.PhUp, true
	}
	if ph > b.Max-b.Tolerance {
		return data.PhDown, true
	}
	return 0, false
}

type PHReader interface {
	ReadPH(ctx context.Context) (float64, error)
}

type Doser interface {
	Pulse(id data.PumpID, d time.Duration, automatic bool) (data.PumpPulseEvent, error)
	SafetyTripped() bool
}

type Enabler interface {
	Enabled() bool
}

// Stabilizer makes at most one state transition per Step. It belongs to the
// actuation core.
type Stabilizer struct {
	state       State
	lastAttempt time.Time
	dose        data.PumpID
	lastPH      float64
	band        Band
	sensor      PHReader
	doser       Doser
	enabler     Enabler
	clock       clockwork.Clock
	// OnSample sees every good pH reading.
	OnSample func(ph float64)
}

func NewStabilizer(band Band, sensor PHReader, doser Doser, enabler Enabler, clock clockwork.Clock) *Stabilizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Stabilizer{
		state:   Idle,
		band:    band,
		sensor:  sensor,
		doser:   doser,
		enabler: enabler,
		clock:   clock,
	}
}

func (s *Stabilizer) State() State {
	return s.state
}

func (s *Stabilizer) LastAttempt() time.Time {
	return s.lastAttempt
}

func (s *Stabilizer) LastPH() float64 {
	return s.lastPH
}

func (s *Stabilizer) Step(ctx context.Context, cfg settings.Settings) State {
	now := s.clock.Now()
	switch s.state {
	case Idle:
		if s.enabler.Enabled() {
			s.lastAttempt = now
			s.moveTo(AwaitingInterval)
		}

	case AwaitingInterval:
		if !s.enabler.Enabled() {
			s.moveTo(Idle)
			break
		}
		if now.Sub(s.lastAttempt) < cfg.PhStabilizeInterval || !cfg.AutoPH {
			break
		}
		if s.doser.SafetyTripped() {
			break
		}
		s.moveTo(Sampling)

	case Sampling:
		ph, err := s.sensor.ReadPH(ctx)
		if err != nil {
			// the timer may be stale after auto-pH was off, so restart it here
			logger.Errorf("pH read failed, skipping this cycle [%v]", err)
			s.lastAttempt = now
			s.moveTo(AwaitingInterval)
			break
		}
		s.lastPH = ph
		if s.OnSample != nil {
			s.OnSample(ph)
		}
		pump, ok := s.band.Decide(ph)
		if !ok {
			logger.Infof("pH [%.2f] within band, no dose", ph)
			s.lastAttempt = now
			s.moveTo(AwaitingInterval)
			break
		}
		logger.Infof("pH [%.2f] out of band, dosing with [%v]", ph, pump)
		s.dose = pump
		s.moveTo(Dosing)

	case Dosing:
		if _, err := s.doser.Pulse(s.dose, cfg.PhDoseLength, true); err != nil {
			logger.Warnf("pH dose not delivered [%v]", err)
		}
		s.lastAttempt = s.clock.Now()
		s.moveTo(AwaitingInterval)
	}
	return s.state
}

func (s *Stabilizer) moveTo(next State) {
	logger.Debugf("Stabilizer [%v] -> [%v]", s.state, next)
	s.state = next
}
