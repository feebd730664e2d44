package main

import (
	"fmt"

	"github.com/gr-butler/hydro/config"
	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/env"
	"github.com/gr-butler/hydro/pump"
	"github.com/gr-butler/hydro/sensors"
	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/gpio/gpioutil"
	"periph.io/x/host/v3"
)

// hardware is everything the actuation core drives. In test mode the pins are
// gpiotest pins and the probes are simulated.
type hardware struct {
	driver    pump.Driver
	safety    pump.SafetySensor
	button    gpio.PinIn
	status    gpio.PinOut
	heartbeat gpio.PinOut
	ph        sensors.ADCPin
	tds       sensors.ADCPin
	atm       sensors.EnvSensor
	devices   *sensors.Devices
}

func (h *hardware) Close() {
	if h.devices != nil {
		h.devices.Close()
	}
}

func initHardware(cfg config.Config, testMode bool) (*hardware, error) {
	if testMode {
		return simulatedHardware(cfg)
	}
	logger.Info("Initialize periph host...")
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	h := &hardware{}
	pins := map[data.PumpID]gpio.PinIO{}
	for id, name := range map[data.PumpID]string{
		data.PhDown: cfg.Pins.PhDown,
		data.PhUp:   cfg.Pins.PhUp,
		data.Refill: cfg.Pins.Refill,
	} {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("no gpio [%v] for pump [%v]", name, id)
		}
		pins[id] = p
	}
	driver, err := pump.NewGPIODriver(pins, cfg.Pins.ActiveLow)
	if err != nil {
		return nil, err
	}
	h.driver = driver

	overflow := gpioreg.ByName(cfg.Pins.Overflow)
	if overflow == nil {
		return nil, fmt.Errorf("no gpio [%v] for the overflow sensor", cfg.Pins.Overflow)
	}
	if err := overflow.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("overflow sensor: %w", err)
	}
	h.safety = pump.NewGPIOSafety(overflow, gpio.Low)

	if button := gpioreg.ByName(cfg.Pins.Button); button != nil {
		if err := button.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("enable button: %w", err)
		}
		debounced, err := gpioutil.Debounce(button, env.ButtonSettle, 0, gpio.FallingEdge)
		if err != nil {
			return nil, fmt.Errorf("enable button: %w", err)
		}
		h.button = debounced
	} else {
		logger.Warnf("No gpio [%v] for the enable button", cfg.Pins.Button)
	}
	h.status = gpioreg.ByName(cfg.Pins.StatusLed)
	h.heartbeat = gpioreg.ByName(cfg.Pins.Heartbeat)

	devices, err := sensors.OpenDevices(sensors.HardwareOpts{
		ADCBus:        cfg.Sensors.ADCBus,
		ADCAddr:       cfg.Sensors.ADCAddr,
		PHChannel:     cfg.Sensors.PHChannel,
		TDSChannel:    cfg.Sensors.TDSChannel,
		TDSEnabled:    cfg.Sensors.TDSEnabled,
		EnvBus:        cfg.Sensors.EnvBus,
		EnvAddr:       cfg.Sensors.EnvAddr,
		EnvEnabled:    cfg.Sensors.EnvEnabled,
		MaxInputVolts: env.MaxADCVolts,
	})
	if err != nil {
		return nil, err
	}
	h.devices = devices
	h.ph = devices.PH
	h.tds = devices.TDS
	h.atm = devices.Atm
	return h, nil
}

func simulatedHardware(cfg config.Config) (*hardware, error) {
	logger.Info("TEST MODE: simulated pins and probes")
	pins := map[data.PumpID]gpio.PinIO{
		data.PhDown: &gpiotest.Pin{N: cfg.Pins.PhDown},
		data.PhUp:   &gpiotest.Pin{N: cfg.Pins.PhUp},
		data.Refill: &gpiotest.Pin{N: cfg.Pins.Refill},
	}
	driver, err := pump.NewGPIODriver(pins, cfg.Pins.ActiveLow)
	if err != nil {
		return nil, err
	}
	h := &hardware{
		driver:    driver,
		safety:    pump.NewGPIOSafety(&gpiotest.Pin{N: cfg.Pins.Overflow, L: gpio.High}, gpio.Low),
		button:    &gpiotest.Pin{N: cfg.Pins.Button, L: gpio.High, EdgesChan: make(chan gpio.Level)},
		status:    &gpiotest.Pin{N: cfg.Pins.StatusLed},
		heartbeat: &gpiotest.Pin{N: cfg.Pins.Heartbeat},
		ph:        sensors.NewSimADC(env.SimPHVolts),
	}
	if cfg.Sensors.TDSEnabled {
		h.tds = sensors.NewSimADC(env.SimTDSVolts)
	}
	if cfg.Sensors.EnvEnabled {
		h.atm = &sensors.SimEnv{TemperatureC: 21, Humidity: 55}
	}
	return h, nil
}
