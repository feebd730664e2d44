package link

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepthClamped(t *testing.T) {
	assert.Equal(t, MinDepth, cap(New(0, nil).commands))
	assert.Equal(t, MaxDepth, cap(New(10, nil).commands))
	assert.Equal(t, 3, cap(New(3, nil).responses))
}

func TestAwaitWithoutServiceTimesOut(t *testing.T) {
	l := New(2, nil)
	cmd := Command{Seq: 1, Kind: KindReading}
	require.NoError(t, l.SendCommand(cmd, 10*time.Millisecond))
	_, err := l.AwaitResponse(cmd, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestSendCommandBackpressure(t *testing.T) {
	l := New(1, nil)
	require.NoError(t, l.SendCommand(Command{Seq: 1, Kind: KindReading}, time.Millisecond))
	err := l.SendCommand(Command{Seq: 2, Kind: KindReading}, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)

	c, ok := l.Poll()
	require.True(t, ok)
	assert.Equal(t, uint64(1), c.Seq)
	_, ok = l.Poll()
	assert.False(t, ok)
}

func TestAwaitDiscardsMismatch(t *testing.T) {
	l := New(4, nil)
	cmd := Command{Seq: 7, Kind: KindGetSettings}
	l.Respond(Response{Seq: 6, Kind: KindGetSettings})
	l.Respond(Response{Seq: 7, Kind: KindReading})
	l.Respond(Response{Seq: 7, Kind: KindGetSettings, Settings: settings.Defaults()})

	r, err := l.AwaitResponse(cmd, time.Second)
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), r.Settings)
	assert.Empty(t, l.responses)
}

func TestRespondEvictsStale(t *testing.T) {
	l := New(1, nil)
	l.Respond(Response{Seq: 1, Kind: KindReading})
	l.Respond(Response{Seq: 2, Kind: KindReading})

	r, err := l.AwaitResponse(Command{Seq: 2, Kind: KindReading}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Seq)
}

// serve answers commands until stop is closed, the way the core does.
func serve(l *Link, stop chan struct{}, handle func(Command) Response) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if c, ok := l.Poll(); ok {
			r := handle(c)
			r.Seq, r.Kind = c.Seq, c.Kind
			l.Respond(r)
			continue
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClientRoundTrip(t *testing.T) {
	l := New(2, nil)
	stop := make(chan struct{})
	defer close(stop)
	now := time.UnixMilli(1700000000000)
	var acks []uint64
	go serve(l, stop, func(c Command) Response {
		switch c.Kind {
		case KindReading:
			return Response{Reading: data.SensorReading{Timestamp: now, PH: 6.1}}
		case KindUpdateSettings:
			return Response{Settings: c.Settings}
		case KindMergeSettings:
			merged, err := settings.Merge(settings.Defaults(), c.Form)
			return Response{Settings: merged, Err: err}
		case KindDrainEvents:
			return Response{Events: []data.PumpPulseEvent{{Pump: data.PhUp, Timestamp: now, PulseLength: time.Second}}, Token: 7}
		case KindAckEvents:
			acks = append(acks, c.Token)
			return Response{}
		case KindToggleEnable:
			return Response{Enabled: false, Toggled: true}
		}
		return Response{Err: errors.New("unsupported")}
	})

	c := NewClient(l, time.Second)
	reading, err := c.RequestReading()
	require.NoError(t, err)
	assert.Equal(t, 6.1, reading.PH)

	s := settings.Defaults()
	s.AutoPH = false
	got, err := c.UpdateSettings(s)
	require.NoError(t, err)
	assert.False(t, got.AutoPH)

	events, err := c.DrainEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, data.PhUp, events[0].Pump)

	merged, err := c.MergeSettings(url.Values{"circulate": {"on"}})
	require.NoError(t, err)
	assert.Equal(t, settings.RefillCirculate, merged.RefillMode)

	enabled, toggled, err := c.ToggleEnable()
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.True(t, toggled)

	_, err = c.SaveSettings()
	assert.EqualError(t, err, "unsupported")

	// the ack is sent before DrainEvents returns
	assert.Equal(t, []uint64{7}, acks)
}

func TestClientTimesOutWithoutCore(t *testing.T) {
	c := NewClient(New(1, nil), 20*time.Millisecond)
	_, err := c.GetSettings()
	assert.ErrorIs(t, err, ErrTimedOut)
}
