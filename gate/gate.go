// Package gate is the system enable switch. Every pump action checks it.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

const DefaultMinDelay = 5 * time.Second

// Indicator mirrors the state, normally the status LED.
type Indicator interface {
	Set(on bool)
}

type Gate struct {
	lock      sync.Mutex
	enabled   bool
	last      time.Time
	minDelay  time.Duration
	clock     clockwork.Clock
	indicator Indicator
}

func New(clock clockwork.Clock, minDelay time.Duration, enabled bool, indicator Indicator) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	g := &Gate{enabled: enabled, minDelay: minDelay, clock: clock, indicator: indicator}
	if indicator != nil {
		indicator.Set(enabled)
	}
	return g
}

func (g *Gate) Enabled() bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.enabled
}

// Toggle flips the state unless the last flip was less than minDelay ago.
// It reports whether the state changed.
func (g *Gate) Toggle() bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	now := g.clock.Now()
	if !g.last.IsZero() && now.Sub(g.last) < g.minDelay {
		logger.Infof("Ignoring toggle, last change [%v] ago", now.Sub(g.last))
		return false
	}
	g.last = now
	g.enabled = !g.enabled
	if g.indicator != nil {
		g.indicator.Set(g.enabled)
	}
	logger.Infof("System enabled [%v]", g.enabled)
	return true
}

// WatchButton calls pressed on each debounced falling edge until ctx is done.
func WatchButton(ctx context.Context, pin gpio.PinIn, pressed func()) {
	if pin == nil {
		logger.Warn("No enable button fitted")
		return
	}
	logger.Info("Starting enable button monitor")
	defer func() { _ = pin.Halt() }()
	for {
		if ctx.Err() != nil {
			return
		}
		if pin.WaitForEdge(time.Second) && pin.Read() == gpio.Low {
			pressed()
		}
	}
}
