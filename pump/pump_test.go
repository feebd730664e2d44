package pump

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/journal"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// steppingClock moves fake time forward whenever the code under test sleeps,
// so a pulse runs to completion on the test goroutine.
type steppingClock struct {
	clockwork.FakeClock
}

func (c steppingClock) Sleep(d time.Duration) {
	c.Advance(d)
}

type recordingDriver struct {
	lock   sync.Mutex
	state  map[data.PumpID]bool
	writes int
	fail   error
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{state: make(map[data.PumpID]bool)}
}

func (d *recordingDriver) Set(id data.PumpID, on bool) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.writes++
	if on && d.fail != nil {
		return d.fail
	}
	d.state[id] = on
	return nil
}

func (d *recordingDriver) on(id data.PumpID) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.state[id]
}

// tripAfter trips once the clock has moved on by at from the first pump start.
type tripAfter struct {
	clock   clockwork.Clock
	start   time.Time
	at      time.Duration
	never   bool
	tripped bool
	err     error
}

func (s *tripAfter) Tripped() (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.tripped {
		return true, nil
	}
	if s.never || s.start.IsZero() {
		return false, nil
	}
	return s.clock.Since(s.start) >= s.at, nil
}

type enabled bool

func (e enabled) Enabled() bool { return bool(e) }

type fixture struct {
	clock   steppingClock
	driver  *recordingDriver
	safety  *tripAfter
	journal *journal.Journal
	act     *Actuator
}

func newFixture(on bool) *fixture {
	f := &fixture{
		clock:   steppingClock{clockwork.NewFakeClock()},
		driver:  newRecordingDriver(),
		journal: journal.New(5),
	}
	f.safety = &tripAfter{clock: f.clock, never: true}
	f.act = NewActuator(Options{
		Driver:  f.driver,
		Safety:  f.safety,
		Enabler: enabled(on),
		Journal: f.journal,
		Clock:   f.clock,
		Poll:    time.Millisecond,
	})
	return f
}

func TestPulseFullLength(t *testing.T) {
	f := newFixture(true)
	start := f.clock.Now()

	e, err := f.act.Pulse(data.PhUp, 750*time.Millisecond, true)
	require.NoError(t, err)
	assert.Equal(t, data.PhUp, e.Pump)
	assert.Equal(t, 750*time.Millisecond, e.PulseLength)
	assert.False(t, e.Interrupted)
	assert.True(t, e.Automatic)
	assert.Equal(t, start, e.Timestamp)
	assert.Equal(t, 750*time.Millisecond, f.clock.Since(start))
	assert.False(t, f.driver.on(data.PhUp))
	assert.Equal(t, []data.PumpPulseEvent{e}, f.journal.Drain())
}

func TestPulseInterrupted(t *testing.T) {
	for _, at := range []time.Duration{time.Millisecond, 37 * time.Millisecond, 999 * time.Millisecond} {
		f := newFixture(true)
		f.safety.never = false
		f.safety.start = f.clock.Now()
		f.safety.at = at

		e, err := f.act.Pulse(data.PhDown, time.Second, false)
		require.NoError(t, err)
		assert.Equal(t, at, e.PulseLength)
		assert.True(t, e.Interrupted)
		assert.False(t, e.Automatic)
		assert.False(t, f.driver.on(data.PhDown))
		assert.Equal(t, 1, f.journal.Len())
	}
}

func TestPulseNeverLeavesPumpOn(t *testing.T) {
	f := newFixture(true)
	for i := 0; i < 2; i++ {
		_, err := f.act.Pulse(data.Refill, 5*time.Second, false)
		require.NoError(t, err)
		assert.False(t, f.driver.on(data.Refill))
	}
	assert.Equal(t, 2, f.journal.Len())
}

func TestPulseRejected(t *testing.T) {
	f := newFixture(false)
	_, err := f.act.Pulse(data.PhUp, time.Second, true)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.ErrorIs(t, err, ErrRejected)

	f = newFixture(true)
	f.safety.tripped = true
	_, err = f.act.Pulse(data.PhUp, time.Second, true)
	assert.ErrorIs(t, err, ErrSafetyTripped)

	f = newFixture(true)
	_, err = f.act.Pulse(data.PumpID(42), time.Second, true)
	assert.ErrorIs(t, err, ErrUnknownPump)

	// a sensor that cannot be read counts as tripped
	f = newFixture(true)
	f.safety.err = errors.New("pin gone")
	_, err = f.act.Pulse(data.PhUp, time.Second, true)
	assert.ErrorIs(t, err, ErrSafetyTripped)

	assert.Zero(t, f.driver.writes)
	assert.Zero(t, f.journal.Len())
}

func TestPulseDriverFailure(t *testing.T) {
	f := newFixture(true)
	f.driver.fail = errors.New("relay stuck")
	_, err := f.act.Pulse(data.PhUp, time.Second, true)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.False(t, f.driver.on(data.PhUp))
	assert.Zero(t, f.journal.Len())
}

func TestObservers(t *testing.T) {
	f := newFixture(true)
	var seen []data.PumpPulseEvent
	f.act.Observe(func(e data.PumpPulseEvent) { seen = append(seen, e) })
	e, err := f.act.Pulse(data.PhUp, 200*time.Millisecond, true)
	require.NoError(t, err)
	assert.Equal(t, []data.PumpPulseEvent{e}, seen)
}

func TestContinuous(t *testing.T) {
	f := newFixture(true)
	require.NoError(t, f.act.SetContinuous(data.Refill, true))
	assert.True(t, f.driver.on(data.Refill))
	assert.True(t, f.act.Continuous(data.Refill))

	_, err := f.act.Pulse(data.Refill, 5*time.Second, true)
	assert.ErrorIs(t, err, ErrPumpBusy)
	assert.True(t, f.driver.on(data.Refill))

	f.act.Halt()
	assert.False(t, f.driver.on(data.Refill))
	assert.False(t, f.act.Continuous(data.Refill))

	f.safety.tripped = true
	assert.ErrorIs(t, f.act.SetContinuous(data.Refill, true), ErrSafetyTripped)
	assert.NoError(t, f.act.SetContinuous(data.Refill, false))
}

func TestGPIODriver(t *testing.T) {
	up := &gpiotest.Pin{N: "GPIO17"}
	down := &gpiotest.Pin{N: "GPIO27"}
	d, err := NewGPIODriver(map[data.PumpID]gpio.PinIO{data.PhUp: up, data.PhDown: down}, true)
	require.NoError(t, err)
	// active low relays start high
	assert.Equal(t, gpio.High, up.Read())

	require.NoError(t, d.Set(data.PhUp, true))
	assert.Equal(t, gpio.Low, up.Read())
	assert.Equal(t, gpio.High, down.Read())

	assert.Error(t, d.Set(data.Refill, true))
}

func TestGPIOSafety(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO23", L: gpio.High}
	s := NewGPIOSafety(pin, gpio.Low)
	tripped, err := s.Tripped()
	require.NoError(t, err)
	assert.False(t, tripped)

	pin.L = gpio.Low
	tripped, err = s.Tripped()
	require.NoError(t, err)
	assert.True(t, tripped)
}
