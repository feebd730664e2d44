// Package link is the only path between the network side and the actuation
// core: a bounded command queue and a bounded response queue.
package link

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/settings"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

var ErrTimedOut = errors.New("core link timed out")

const (
	MinDepth = 1
	MaxDepth = 4
)

type Kind int

const (
	KindReading Kind = iota + 1
	KindGetSettings
	KindUpdateSettings
	KindSaveSettings
	KindDrainEvents
	KindToggleEnable
	KindAckEvents
	KindMergeSettings
)

func (k Kind) String() string {
	switch k {
	case KindReading:
		return "reading"
	case KindGetSettings:
		return "get-settings"
	case KindUpdateSettings:
		return "update-settings"
	case KindSaveSettings:
		return "save-settings"
	case KindDrainEvents:
		return "drain-events"
	case KindToggleEnable:
		return "toggle-enable"
	case KindAckEvents:
		return "ack-events"
	case KindMergeSettings:
		return "merge-settings"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Command struct {
	Seq      uint64
	Kind     Kind
	Settings settings.Settings // KindUpdateSettings only
	Form     url.Values        // KindMergeSettings only
	Token    uint64            // KindAckEvents only
}

// Response answers exactly one Command, matched on Seq and Kind.
type Response struct {
	Seq      uint64
	Kind     Kind
	Reading  data.SensorReading
	Settings settings.Settings
	Events   []data.PumpPulseEvent
	Token    uint64 // acknowledges Events
	Enabled  bool
	Toggled  bool
	Err      error
}

func (r Response) answers(c Command) bool {
	return r.Seq == c.Seq && r.Kind == c.Kind
}

type Link struct {
	commands  chan Command
	responses chan Response
	clock     clockwork.Clock
}

func New(depth int, clock clockwork.Clock) *Link {
	if depth < MinDepth {
		depth = MinDepth
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Link{
		commands:  make(chan Command, depth),
		responses: make(chan Response, depth),
		clock:     clock,
	}
}

// SendCommand queues cmd. A full queue is backpressure: wait up to timeout.
func (l *Link) SendCommand(cmd Command, timeout time.Duration) error {
	select {
	case l.commands <- cmd:
		return nil
	default:
	}
	select {
	case l.commands <- cmd:
		return nil
	case <-l.clock.After(timeout):
		return fmt.Errorf("%w: command queue full", ErrTimedOut)
	}
}

// AwaitResponse waits for the answer to cmd. Responses for anything else are
// dropped.
func (l *Link) AwaitResponse(cmd Command, timeout time.Duration) (Response, error) {
	deadline := l.clock.After(timeout)
	for {
		select {
		case r := <-l.responses:
			if r.answers(cmd) {
				return r, nil
			}
			logger.Warnf("Discarding unmatched response [%v #%v], waiting for [%v #%v]", r.Kind, r.Seq, cmd.Kind, cmd.Seq)
		case <-deadline:
			return Response{}, fmt.Errorf("%w: no response to %v", ErrTimedOut, cmd.Kind)
		}
	}
}

// Poll is used by the actuation core between steps; it never blocks.
func (l *Link) Poll() (Command, bool) {
	select {
	case c := <-l.commands:
		return c, true
	default:
		return Command{}, false
	}
}

// Respond never blocks the actuation core. If the queue is full of answers
// nobody is waiting for, the oldest is dropped.
func (l *Link) Respond(r Response) {
	for i := 0; i <= cap(l.responses); i++ {
		select {
		case l.responses <- r:
			return
		default:
		}
		select {
		case old := <-l.responses:
			logger.Warnf("Dropping stale response [%v #%v]", old.Kind, old.Seq)
		default:
		}
	}
	logger.Errorf("Could not queue response [%v #%v]", r.Kind, r.Seq)
}
