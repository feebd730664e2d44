package led

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

const FlashDuration = time.Millisecond * 100

type LED struct {
	Name    string
	lock    *sync.Mutex
	on      bool
	gpioPin gpio.PinOut
}

// NewLED takes an already looked up pin; a nil pin gives an LED that only logs.
func NewLED(name string, pin gpio.PinOut) *LED {
	logger.Infof("Creating new LED [%v] on pin [%v]", name, pin)
	l := &LED{
		Name:    name,
		lock:    &sync.Mutex{},
		gpioPin: pin,
	}
	if pin == nil {
		logger.Errorf("No pin for LED [%v]", name)
		return l
	}
	_ = l.gpioPin.Out(gpio.Low)
	return l
}

func (l *LED) On() {
	l.Set(true)
}

func (l *LED) Off() {
	l.Set(false)
}

func (l *LED) Set(on bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.on = on
	if l.gpioPin != nil {
		_ = l.gpioPin.Out(gpio.Level(on))
	}
}

// Flash briefly inverts the LED and restores it.
func (l *LED) Flash() {
	if l.gpioPin == nil {
		return
	}
	if !l.lock.TryLock() {
		// a flash is already in progress, dropping this one is fine
		logger.Debugf("LED [%v] busy", l.Name)
		return
	}
	defer l.lock.Unlock()
	_ = l.gpioPin.Out(gpio.Level(!l.on))
	time.Sleep(FlashDuration)
	_ = l.gpioPin.Out(gpio.Level(l.on))
}

func (l *LED) IsOn() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.on
}
