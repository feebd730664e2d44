package sensors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/settings"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

/*
 * Sensors owns the probe handles. Every read goes through the bus the device
 * sits on, so pH and TDS (one ADC) never convert at the same time.
 */

var (
	ErrTimedOut  = errors.New("sensor bus timed out")
	ErrDevice    = errors.New("sensor device error")
	ErrNotFitted = errors.New("sensor not fitted")
)

// wait bound is the expected conversion time times this
const SafetyFactor = 3

type Channel int

const (
	PH Channel = iota
	TDS
	Atmosphere
)

func (c Channel) String() string {
	switch c {
	case PH:
		return "ph"
	case TDS:
		return "tds"
	case Atmosphere:
		return "atmosphere"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ADCPin is the part of a periph analog pin we use.
type ADCPin interface {
	Read() (analog.Sample, error)
}

// EnvSensor is a temperature/humidity device such as the BME280.
type EnvSensor interface {
	Sense(e *physic.Env) error
}

// Bus serialises access to a shared device bus with a bounded wait.
type Bus struct {
	name       string
	sem        *semaphore.Weighted
	conversion time.Duration
	clock      clockwork.Clock
}

func NewBus(name string, conversion time.Duration, clock clockwork.Clock) *Bus {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bus{name: name, sem: semaphore.NewWeighted(1), conversion: conversion, clock: clock}
}

func (b *Bus) Bound() time.Duration {
	return b.conversion * SafetyFactor
}

// Do runs fn holding the bus. Waiting longer than the bound, or a conversion
// that takes longer than the bound, returns ErrTimedOut.
func (b *Bus) Do(ctx context.Context, fn func() error) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wait := b.clock.AfterFunc(b.Bound(), cancel)
	err := b.sem.Acquire(wctx, 1)
	wait.Stop()
	if err != nil {
		return fmt.Errorf("%w: %s busy", ErrTimedOut, b.name)
	}
	defer b.sem.Release(1)

	start := b.clock.Now()
	err = fn()
	if took := b.clock.Since(start); took > b.Bound() {
		return fmt.Errorf("%w: %s conversion took %v", ErrTimedOut, b.name, took)
	}
	return err
}

// Raw is an unconverted reading.
type Raw struct {
	Volts        float64
	TemperatureC float64
	Humidity     float64
}

type Options struct {
	ADCConversion time.Duration
	EnvConversion time.Duration
	TDSFactor     float64
	Clock         clockwork.Clock
}

func DefaultOptions() Options {
	return Options{
		ADCConversion: 10 * time.Millisecond,
		EnvConversion: 50 * time.Millisecond,
		TDSFactor:     1.0,
	}
}

type Sensors struct {
	adc *Bus
	env *Bus
	ph  ADCPin
	tds ADCPin
	atm EnvSensor
	cal settings.Calibration
	k   float64
}

// New takes the device handles; tds and atm may be nil when not fitted.
func New(ph ADCPin, tds ADCPin, atm EnvSensor, cal settings.Calibration, opts Options) *Sensors {
	if opts.TDSFactor == 0 {
		opts.TDSFactor = 1.0
	}
	return &Sensors{
		adc: NewBus("adc", opts.ADCConversion, opts.Clock),
		env: NewBus("env", opts.EnvConversion, opts.Clock),
		ph:  ph,
		tds: tds,
		atm: atm,
		cal: cal,
		k:   opts.TDSFactor,
	}
}

func (s *Sensors) Read(ctx context.Context, ch Channel) (Raw, error) {
	switch ch {
	case PH, TDS:
		pin := s.ph
		if ch == TDS {
			pin = s.tds
		}
		if pin == nil {
			return Raw{}, fmt.Errorf("%w: %v", ErrNotFitted, ch)
		}
		var raw Raw
		err := s.adc.Do(ctx, func() error {
			sample, err := pin.Read()
			if err != nil {
				return fmt.Errorf("%w: %v read: %v", ErrDevice, ch, err)
			}
			raw.Volts = float64(sample.V) / float64(physic.Volt)
			return nil
		})
		return raw, err
	case Atmosphere:
		if s.atm == nil {
			return Raw{}, fmt.Errorf("%w: %v", ErrNotFitted, ch)
		}
		var raw Raw
		err := s.env.Do(ctx, func() error {
			em := physic.Env{}
			if err := s.atm.Sense(&em); err != nil {
				return fmt.Errorf("%w: %v read: %v", ErrDevice, ch, err)
			}
			raw.TemperatureC = em.Temperature.Celsius()
			raw.Humidity = math.Round(float64(em.Humidity)/float64(physic.PercentRH)*10) / 10
			return nil
		})
		return raw, err
	default:
		return Raw{}, fmt.Errorf("%w: unknown channel %v", ErrDevice, ch)
	}
}

func (s *Sensors) ReadPH(ctx context.Context) (float64, error) {
	raw, err := s.Read(ctx, PH)
	if err != nil {
		return 0, err
	}
	return math.Round(VoltageToPH(s.cal, raw.Volts)*100) / 100, nil
}

// Reading needs the pH probe; the optional sensors are read on a best effort
// basis and left at zero when missing or failing.
func (s *Sensors) Reading(ctx context.Context, now time.Time) (data.SensorReading, error) {
	r := data.SensorReading{Timestamp: now}
	ph, err := s.ReadPH(ctx)
	if err != nil {
		return r, err
	}
	r.PH = ph

	temperature := 25.0
	if s.atm != nil {
		atm, err := s.Read(ctx, Atmosphere)
		if err != nil {
			logger.Warnf("Atmosphere read failed [%v]", err)
		} else {
			r.Temperature = atm.TemperatureC
			r.Humidity = atm.Humidity
			temperature = atm.TemperatureC
		}
	}
	if s.tds != nil {
		raw, err := s.Read(ctx, TDS)
		if err != nil {
			logger.Warnf("TDS read failed [%v]", err)
		} else {
			r.TDS = VoltageToTDS(raw.Volts, temperature, s.k)
		}
	}
	return r, nil
}
