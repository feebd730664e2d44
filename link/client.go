package link

import (
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/settings"
	logger "github.com/sirupsen/logrus"
)

const DefaultTimeout = 5 * time.Second

// Client is the network side end of the link. One request is in flight at a
// time; other callers wait for the slot, up to the timeout.
type Client struct {
	link    *Link
	slot    chan struct{}
	seq     atomic.Uint64
	timeout time.Duration
}

func NewClient(l *Link, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{link: l, slot: make(chan struct{}, 1), timeout: timeout}
}

func (c *Client) roundTrip(cmd Command) (Response, error) {
	select {
	case c.slot <- struct{}{}:
	case <-c.link.clock.After(c.timeout):
		return Response{}, fmt.Errorf("%w: waiting for a free slot", ErrTimedOut)
	}
	defer func() { <-c.slot }()

	cmd.Seq = c.seq.Add(1)
	if err := c.link.SendCommand(cmd, c.timeout); err != nil {
		return Response{}, err
	}
	r, err := c.link.AwaitResponse(cmd, c.timeout)
	if err != nil {
		return Response{}, err
	}
	return r, r.Err
}

func (c *Client) RequestReading() (data.SensorReading, error) {
	r, err := c.roundTrip(Command{Kind: KindReading})
	return r.Reading, err
}

func (c *Client) GetSettings() (settings.Settings, error) {
	r, err := c.roundTrip(Command{Kind: KindGetSettings})
	return r.Settings, err
}

// UpdateSettings returns the settings in force afterwards, which are the old
// ones if the candidate was rejected.
func (c *Client) UpdateSettings(candidate settings.Settings) (settings.Settings, error) {
	r, err := c.roundTrip(Command{Kind: KindUpdateSettings, Settings: candidate})
	return r.Settings, err
}

func (c *Client) SaveSettings() (settings.Settings, error) {
	r, err := c.roundTrip(Command{Kind: KindSaveSettings})
	return r.Settings, err
}

// MergeSettings lays posted form fields over the settings in force, on the
// core, so concurrent updates never merge against a stale copy.
func (c *Client) MergeSettings(form url.Values) (settings.Settings, error) {
	r, err := c.roundTrip(Command{Kind: KindMergeSettings, Form: form})
	return r.Settings, err
}

// DrainEvents collects the pending events and then acknowledges them. The core
// only forgets events once the ack arrives, so a drain that times out loses
// nothing. If the ack itself fails the events are returned anyway and will be
// delivered again with the next drain.
func (c *Client) DrainEvents() ([]data.PumpPulseEvent, error) {
	r, err := c.roundTrip(Command{Kind: KindDrainEvents})
	if err != nil {
		return nil, err
	}
	if len(r.Events) == 0 {
		return r.Events, nil
	}
	if _, err := c.roundTrip(Command{Kind: KindAckEvents, Token: r.Token}); err != nil {
		logger.Warnf("Event ack failed, [%v] events may be delivered twice [%v]", len(r.Events), err)
	}
	return r.Events, nil
}

// ToggleEnable reports the state afterwards and whether the toggle was accepted.
func (c *Client) ToggleEnable() (bool, bool, error) {
	r, err := c.roundTrip(Command{Kind: KindToggleEnable})
	return r.Enabled, r.Toggled, err
}
