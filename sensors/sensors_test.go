package sensors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gr-butler/hydro/settings"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
)

func TestVoltageToPH(t *testing.T) {
	cal := settings.DefaultCalibration()

	assert.InDelta(t, 4.0, VoltageToPH(cal, cal.PH4Volts), 0.001)
	assert.InDelta(t, 7.0, VoltageToPH(cal, cal.PH7Volts), 0.001)
	assert.InDelta(t, 10.0, VoltageToPH(cal, cal.PH10Volts), 0.001)

	// midway along each segment
	assert.InDelta(t, 5.5, VoltageToPH(cal, (cal.PH4Volts+cal.PH7Volts)/2), 0.001)
	assert.InDelta(t, 8.5, VoltageToPH(cal, (cal.PH7Volts+cal.PH10Volts)/2), 0.001)

	// clamped
	assert.Equal(t, 14.0, VoltageToPH(cal, 0.0001))
	assert.Equal(t, 0.0, VoltageToPH(cal, 10))
}

func TestVoltageToPHRisingProbe(t *testing.T) {
	cal := settings.SealCalibration(settings.Calibration{PH4Volts: 1.0, PH7Volts: 2.0, PH10Volts: 3.0})
	assert.InDelta(t, 4.0, VoltageToPH(cal, 1.0), 0.001)
	assert.InDelta(t, 6.0, VoltageToPH(cal, 5.0/3.0), 0.001)
	assert.InDelta(t, 9.0, VoltageToPH(cal, 8.0/3.0), 0.001)
}

func TestVoltageToTDS(t *testing.T) {
	assert.Equal(t, 0.0, VoltageToTDS(0, 25, 1))
	// 1V at 25°C on the DFRobot curve
	assert.InDelta(t, 367.5, VoltageToTDS(1.0, 25, 1), 0.1)
	// warmer water conducts better, so the same voltage is less dissolved solids
	assert.Less(t, VoltageToTDS(1.0, 30, 1), VoltageToTDS(1.0, 25, 1))
}

// slowPin takes delay of fake time to convert.
type slowPin struct {
	clock clockwork.FakeClock
	delay time.Duration
}

func (s slowPin) Read() (analog.Sample, error) {
	s.clock.Advance(s.delay)
	return analog.Sample{}, nil
}

func TestBusTimesOutWhenHeld(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBus("adc", 5*time.Millisecond, clock)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = b.Do(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	result := make(chan error, 1)
	go func() {
		result <- b.Do(context.Background(), func() error { return nil })
	}()
	clock.BlockUntil(1)

	clock.Advance(b.Bound() - time.Millisecond)
	select {
	case err := <-result:
		require.Fail(t, "gave up before the bound", "%v", err)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Millisecond)
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrTimedOut)
	case <-time.After(time.Second):
		require.Fail(t, "still waiting for the bus")
	}
}

func TestBusFreeAfterUse(t *testing.T) {
	b := NewBus("env", 5*time.Millisecond, clockwork.NewFakeClock())
	for i := 0; i < 3; i++ {
		assert.NoError(t, b.Do(context.Background(), func() error { return nil }))
	}
	boom := errors.New("boom")
	assert.ErrorIs(t, b.Do(context.Background(), func() error { return boom }), boom)
}

func TestConversionOverrunIsAnError(t *testing.T) {
	cal := settings.DefaultCalibration()
	clock := clockwork.NewFakeClock()
	opts := Options{ADCConversion: time.Millisecond, EnvConversion: time.Millisecond, Clock: clock}

	s := New(slowPin{clock: clock, delay: 30 * time.Millisecond}, nil, nil, cal, opts)
	_, err := s.Read(context.Background(), PH)
	assert.ErrorIs(t, err, ErrTimedOut)

	// within the bound is fine
	s = New(slowPin{clock: clock, delay: 3 * time.Millisecond}, nil, nil, cal, opts)
	_, err = s.Read(context.Background(), PH)
	assert.NoError(t, err)
}

func TestReading(t *testing.T) {
	cal := settings.DefaultCalibration()
	ph := NewSimADC(cal.PH7Volts)
	tds := NewSimADC(1.0)
	s := New(ph, tds, &SimEnv{TemperatureC: 25, Humidity: 60}, cal, DefaultOptions())

	now := time.Unix(1700000000, 0)
	r, err := s.Reading(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, now, r.Timestamp)
	assert.InDelta(t, 7.0, r.PH, 0.01)
	assert.InDelta(t, 25.0, r.Temperature, 0.01)
	assert.InDelta(t, 60.0, r.Humidity, 0.01)
	assert.InDelta(t, 367.5, r.TDS, 0.2)
}

func TestReadingOptionalSensors(t *testing.T) {
	cal := settings.DefaultCalibration()
	tds := NewSimADC(1.0)
	tds.Fail(errors.New("wire fell off"))
	s := New(NewSimADC(cal.PH4Volts), tds, nil, cal, DefaultOptions())

	r, err := s.Reading(context.Background(), time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 4.0, r.PH, 0.01)
	assert.Zero(t, r.TDS)
	assert.Zero(t, r.Temperature)

	_, err = s.Read(context.Background(), Atmosphere)
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestReadingPHFailure(t *testing.T) {
	ph := NewSimADC(1.5)
	ph.Fail(errors.New("i2c nack"))
	s := New(ph, nil, nil, settings.DefaultCalibration(), DefaultOptions())
	_, err := s.ReadPH(context.Background())
	assert.ErrorIs(t, err, ErrDevice)
}
