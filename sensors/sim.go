package sensors

import (
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// SimADC is a stand in analog input for running without hardware.
type SimADC struct {
	lock  sync.Mutex
	volts float64
	err   error
}

func NewSimADC(volts float64) *SimADC {
	return &SimADC{volts: volts}
}

func (s *SimADC) Set(volts float64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.volts = volts
}

// Fail makes every following read return err, nil clears it.
func (s *SimADC) Fail(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.err = err
}

func (s *SimADC) Read() (analog.Sample, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		return analog.Sample{}, s.err
	}
	v := physic.ElectricPotential(s.volts * float64(physic.Volt))
	return analog.Sample{V: v, Raw: int32(s.volts * 1000)}, nil
}

// SimEnv reports a fixed temperature and humidity.
type SimEnv struct {
	TemperatureC float64
	Humidity     float64
}

func (s *SimEnv) Sense(e *physic.Env) error {
	e.Temperature = physic.ZeroCelsius + physic.Temperature(s.TemperatureC*float64(physic.Kelvin))
	e.Humidity = physic.RelativeHumidity(s.Humidity * float64(physic.PercentRH))
	return nil
}
