package gate

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type indicator struct {
	states []bool
}

func (i *indicator) Set(on bool) {
	i.states = append(i.states, on)
}

func TestToggleDebounce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ind := &indicator{}
	g := New(clock, 5*time.Second, true, ind)
	assert.True(t, g.Enabled())

	assert.True(t, g.Toggle())
	assert.False(t, g.Enabled())

	// inside the window: ignored
	clock.Advance(4999 * time.Millisecond)
	assert.False(t, g.Toggle())
	assert.False(t, g.Enabled())

	clock.Advance(time.Millisecond)
	assert.True(t, g.Toggle())
	assert.True(t, g.Enabled())

	assert.Equal(t, []bool{true, false, true}, ind.states)
}

func TestToggleWithoutIndicator(t *testing.T) {
	g := New(clockwork.NewFakeClock(), DefaultMinDelay, false, nil)
	assert.True(t, g.Toggle())
	assert.True(t, g.Enabled())
}

func TestWatchButton(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO24", L: gpio.Low, EdgesChan: make(chan gpio.Level, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	presses := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		WatchButton(ctx, pin, func() { presses <- struct{}{} })
		close(done)
	}()

	pin.EdgesChan <- gpio.Low
	select {
	case <-presses:
	case <-time.After(5 * time.Second):
		require.Fail(t, "button press not seen")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.Fail(t, "watcher did not stop")
	}
}
