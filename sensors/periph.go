package sensors

import (
	"fmt"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/devices/v3/bmxx80"
)

type HardwareOpts struct {
	ADCBus        string // "" is the default bus
	ADCAddr       uint16
	PHChannel     int
	TDSChannel    int
	TDSEnabled    bool
	EnvBus        string
	EnvAddr       uint16
	EnvEnabled    bool
	MaxInputVolts float64
}

// Devices are the opened probe handles and the buses they live on.
type Devices struct {
	PH    ADCPin
	TDS   ADCPin
	Atm   EnvSensor
	buses []i2c.BusCloser
}

func (d *Devices) Close() {
	for _, b := range d.buses {
		_ = b.Close()
	}
}

// OpenDevices expects host.Init to have been called. Any failure here is fatal
// to the caller, there is no sensible default for a missing pH probe.
func OpenDevices(opts HardwareOpts) (*Devices, error) {
	d := &Devices{}

	bus, err := i2creg.Open(opts.ADCBus)
	if err != nil {
		return nil, fmt.Errorf("open adc I²C bus [%v]: %w", opts.ADCBus, err)
	}
	d.buses = append(d.buses, bus)

	logger.Infof("Starting ADS1115 ADC [%x]", opts.ADCAddr)
	adcOpts := ads1x15.DefaultOpts
	if opts.ADCAddr != 0 {
		adcOpts.I2cAddress = opts.ADCAddr
	}
	adc, err := ads1x15.NewADS1115(bus, &adcOpts)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("ads1115: %w", err)
	}

	maxV := physic.ElectricPotential(opts.MaxInputVolts * float64(physic.Volt))
	if maxV == 0 {
		maxV = 5 * physic.Volt
	}
	phPin, err := adc.PinForChannel(ads1x15.Channel(opts.PHChannel), maxV, 1*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("ph channel: %w", err)
	}
	d.PH = phPin

	if opts.TDSEnabled {
		tdsPin, err := adc.PinForChannel(ads1x15.Channel(opts.TDSChannel), maxV, 1*physic.Hertz, ads1x15.BestQuality)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("tds channel: %w", err)
		}
		d.TDS = tdsPin
	}

	if opts.EnvEnabled {
		// the env sensor sits on its own bus so it never waits on the ADC
		envBus, err := i2creg.Open(opts.EnvBus)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open env I²C bus [%v]: %w", opts.EnvBus, err)
		}
		d.buses = append(d.buses, envBus)
		logger.Infof("Starting BME280 reader [%x]", opts.EnvAddr)
		bme, err := bmxx80.NewI2C(envBus, opts.EnvAddr, &bmxx80.DefaultOpts)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("bme280: %w", err)
		}
		d.Atm = bme
	}

	logger.Info("Sensors initialized.")
	return d, nil
}
