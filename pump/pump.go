package pump

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

// A rejected pulse never touched the pump and left no event.
var (
	ErrRejected      = errors.New("pump pulse rejected")
	ErrUnknownPump   = fmt.Errorf("%w: unknown pump", ErrRejected)
	ErrDisabled      = fmt.Errorf("%w: system disabled", ErrRejected)
	ErrSafetyTripped = fmt.Errorf("%w: overflow sensor tripped", ErrRejected)
	ErrPumpBusy      = fmt.Errorf("%w: pump held on", ErrRejected)
)

const DefaultPoll = time.Millisecond

// Driver switches pump outputs.
type Driver interface {
	Set(id data.PumpID, on bool) error
}

// SafetySensor is the reservoir overflow input.
type SafetySensor interface {
	Tripped() (bool, error)
}

type Enabler interface {
	Enabled() bool
}

type Recorder interface {
	Append(e data.PumpPulseEvent) bool
}

type Options struct {
	Driver  Driver
	Safety  SafetySensor
	Enabler Enabler
	Journal Recorder
	Clock   clockwork.Clock
	Poll    time.Duration
}

// Actuator is used from the actuation core only; the lock guards the
// continuous state against Halt from a shutdown path.
type Actuator struct {
	driver     Driver
	safety     SafetySensor
	enabler    Enabler
	journal    Recorder
	clock      clockwork.Clock
	poll       time.Duration
	lock       sync.Mutex
	continuous map[data.PumpID]bool
	observers  []func(data.PumpPulseEvent)
}

func NewActuator(opts Options) *Actuator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	return &Actuator{
		driver:     opts.Driver,
		safety:     opts.Safety,
		enabler:    opts.Enabler,
		journal:    opts.Journal,
		clock:      opts.Clock,
		poll:       opts.Poll,
		continuous: make(map[data.PumpID]bool),
	}
}

// Observe registers fn to be called with every recorded event.
func (a *Actuator) Observe(fn func(data.PumpPulseEvent)) {
	a.observers = append(a.observers, fn)
}

// SafetyTripped treats a sensor that cannot be read as tripped.
func (a *Actuator) SafetyTripped() bool {
	tripped, err := a.safety.Tripped()
	if err != nil {
		logger.Errorf("Overflow sensor read failed, assuming tripped [%v]", err)
		return true
	}
	return tripped
}

func (a *Actuator) check(id data.PumpID) error {
	if !id.Valid() {
		return ErrUnknownPump
	}
	if !a.enabler.Enabled() {
		return ErrDisabled
	}
	if a.SafetyTripped() {
		return ErrSafetyTripped
	}
	return nil
}

// Pulse runs pump id for d, stopping early if the overflow sensor trips. It
// blocks for the length of the pulse. The pump is always off on return.
func (a *Actuator) Pulse(id data.PumpID, d time.Duration, automatic bool) (data.PumpPulseEvent, error) {
	if err := a.check(id); err != nil {
		return data.PumpPulseEvent{}, err
	}
	a.lock.Lock()
	busy := a.continuous[id]
	a.lock.Unlock()
	if busy {
		return data.PumpPulseEvent{}, ErrPumpBusy
	}

	start := a.clock.Now()
	if err := a.driver.Set(id, true); err != nil {
		a.off(id)
		return data.PumpPulseEvent{}, fmt.Errorf("start %v: %w", id, err)
	}
	length, interrupted := a.run(d, start)
	a.off(id)

	e := data.PumpPulseEvent{
		Pump:        id,
		Timestamp:   start,
		PulseLength: length,
		Interrupted: interrupted,
		Automatic:   automatic,
	}
	if interrupted {
		logger.Warnf("Pump [%v] interrupted by overflow sensor after [%v] of [%v]", id, length, d)
	} else {
		logger.Infof("Pump [%v] pulsed for [%v]", id, length)
	}
	if a.journal != nil {
		a.journal.Append(e)
	}
	for _, fn := range a.observers {
		fn(e)
	}
	return e, nil
}

func (a *Actuator) run(d time.Duration, start time.Time) (time.Duration, bool) {
	for {
		elapsed := a.clock.Since(start)
		if elapsed >= d {
			return d, false
		}
		if a.SafetyTripped() {
			return elapsed, true
		}
		wait := a.poll
		if remaining := d - elapsed; remaining < wait {
			wait = remaining
		}
		a.clock.Sleep(wait)
	}
}

func (a *Actuator) off(id data.PumpID) {
	if err := a.driver.Set(id, false); err != nil {
		// nothing more we can do in software
		logger.Errorf("Failed to stop pump [%v] [%v]", id, err)
	}
}

// SetContinuous holds a pump on (circulation) or releases it. Switching on is
// gated like a pulse; switching off always goes through.
func (a *Actuator) SetContinuous(id data.PumpID, on bool) error {
	if on {
		if err := a.check(id); err != nil {
			return err
		}
	} else if !id.Valid() {
		return ErrUnknownPump
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.continuous[id] == on {
		return nil
	}
	if err := a.driver.Set(id, on); err != nil {
		return fmt.Errorf("set %v: %w", id, err)
	}
	a.continuous[id] = on
	logger.Infof("Pump [%v] continuous [%v]", id, on)
	return nil
}

func (a *Actuator) Continuous(id data.PumpID) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.continuous[id]
}

// Halt switches every pump off.
func (a *Actuator) Halt() {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, id := range data.Pumps {
		a.off(id)
		a.continuous[id] = false
	}
}
