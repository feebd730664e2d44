package pump

import (
	"fmt"

	"github.com/gr-butler/hydro/data"
	"periph.io/x/conn/v3/gpio"
)

// GPIODriver drives relay pins. Most relay boards switch on a low input.
type GPIODriver struct {
	pins      map[data.PumpID]gpio.PinIO
	activeLow bool
}

func NewGPIODriver(pins map[data.PumpID]gpio.PinIO, activeLow bool) (*GPIODriver, error) {
	d := &GPIODriver{pins: pins, activeLow: activeLow}
	for id, p := range pins {
		if p == nil {
			return nil, fmt.Errorf("no pin for pump [%v]", id)
		}
		if err := d.Set(id, false); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *GPIODriver) level(on bool) gpio.Level {
	if d.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

func (d *GPIODriver) Set(id data.PumpID, on bool) error {
	p, ok := d.pins[id]
	if !ok {
		return fmt.Errorf("no pin for pump [%v]", id)
	}
	return p.Out(d.level(on))
}

// GPIOSafety reads the overflow float switch.
type GPIOSafety struct {
	pin       gpio.PinIn
	tripLevel gpio.Level
}

func NewGPIOSafety(pin gpio.PinIn, tripLevel gpio.Level) *GPIOSafety {
	return &GPIOSafety{pin: pin, tripLevel: tripLevel}
}

func (s *GPIOSafety) Tripped() (bool, error) {
	if s.pin == nil {
		return true, fmt.Errorf("overflow sensor pin missing")
	}
	return s.pin.Read() == s.tripLevel, nil
}
