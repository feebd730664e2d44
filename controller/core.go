// Package controller is the actuation core. It owns the settings, the journal
// and all sensor and pump hardware; everything else talks to it over a link.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/journal"
	"github.com/gr-butler/hydro/link"
	"github.com/gr-butler/hydro/nvs"
	"github.com/gr-butler/hydro/settings"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

const DefaultTick = 100 * time.Millisecond

type Sensors interface {
	PHReader
	Reading(ctx context.Context, now time.Time) (data.SensorReading, error)
}

type Pumps interface {
	RefillPump
	Halt()
}

type Gate interface {
	Enabler
	Toggle() bool
}

type Options struct {
	Link     *link.Link
	Settings *settings.Store
	Journal  *journal.Journal
	NVS      nvs.Store
	Sensors  Sensors
	Pumps    Pumps
	Gate     Gate
	Band     Band
	Clock    clockwork.Clock
	Tick     time.Duration
}

type Core struct {
	link       *link.Link
	settings   *settings.Store
	journal    *journal.Journal
	nvs        nvs.Store
	sensors    Sensors
	pumps      Pumps
	gate       Gate
	clock      clockwork.Clock
	tick       time.Duration
	stabilizer *Stabilizer
	refill     *Refill
	toggles    chan struct{}
}

func NewCore(opts Options) *Core {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Band == (Band{}) {
		opts.Band = DefaultBand()
	}
	c := &Core{
		link:     opts.Link,
		settings: opts.Settings,
		journal:  opts.Journal,
		nvs:      opts.NVS,
		sensors:  opts.Sensors,
		pumps:    opts.Pumps,
		gate:     opts.Gate,
		clock:    opts.Clock,
		tick:     opts.Tick,
		refill:   NewRefill(opts.Pumps),
		toggles:  make(chan struct{}, 1),
	}
	c.stabilizer = NewStabilizer(opts.Band, opts.Sensors, opts.Pumps, opts.Gate, opts.Clock)
	c.settings.OnApply = func(s settings.Settings) {
		c.refill.Sync(s, c.gate.Enabled())
	}
	return c
}

func (c *Core) Stabilizer() *Stabilizer {
	return c.stabilizer
}

func (c *Core) Refill() *Refill {
	return c.refill
}

// RequestToggle queues a button press for the next step. It never blocks.
func (c *Core) RequestToggle() {
	select {
	case c.toggles <- struct{}{}:
	default:
	}
}

// Start loads the persisted state. Run calls it; tests driving Step call it
// directly.
func (c *Core) Start() {
	cfg := c.settings.Load()
	c.restoreJournal()
	c.refill.Sync(cfg, c.gate.Enabled())
}

// Run services the link and steps the controllers until ctx is done, then
// switches every pump off and saves the journal.
func (c *Core) Run(ctx context.Context) error {
	logger.Infof("Actuation core starting, tick [%v]", c.tick)
	c.Start()
	ticker := c.clock.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return nil
		case <-ticker.Chan():
			c.Step(ctx)
		}
	}
}

// Step is one pass of the core loop. A dose in progress runs to completion
// before the next command is looked at.
func (c *Core) Step(ctx context.Context) {
	for {
		cmd, ok := c.link.Poll()
		if !ok {
			break
		}
		c.link.Respond(c.handle(ctx, cmd))
	}
	select {
	case <-c.toggles:
		c.toggle()
	default:
	}
	cfg := c.settings.Active()
	c.stabilizer.Step(ctx, cfg)
	c.refill.Step(cfg, c.gate.Enabled())
}

func (c *Core) toggle() bool {
	if !c.gate.Toggle() {
		return false
	}
	c.refill.Sync(c.settings.Active(), c.gate.Enabled())
	return true
}

func (c *Core) handle(ctx context.Context, cmd link.Command) link.Response {
	r := link.Response{Seq: cmd.Seq, Kind: cmd.Kind}
	switch cmd.Kind {
	case link.KindReading:
		r.Reading, r.Err = c.sensors.Reading(ctx, c.clock.Now())
	case link.KindGetSettings:
		r.Settings = c.settings.Active()
	case link.KindUpdateSettings:
		r.Settings, r.Err = c.settings.Apply(cmd.Settings)
	case link.KindSaveSettings:
		r.Err = c.settings.Persist()
		r.Settings = c.settings.Active()
	case link.KindMergeSettings:
		candidate, err := settings.Merge(c.settings.Active(), cmd.Form)
		if err != nil {
			r.Settings, r.Err = c.settings.Active(), err
			break
		}
		r.Settings, r.Err = c.settings.Apply(candidate)
	case link.KindDrainEvents:
		// nothing is forgotten until the requester acks, so a drain whose
		// answer is never read loses no events
		r.Events, r.Token = c.journal.Pending()
	case link.KindAckEvents:
		if n := c.journal.Ack(cmd.Token); n > 0 {
			logger.Debugf("Events delivered [%v]", n)
		}
	case link.KindToggleEnable:
		r.Toggled = c.toggle()
		r.Enabled = c.gate.Enabled()
	default:
		r.Err = fmt.Errorf("unknown command [%v]", cmd.Kind)
	}
	if r.Err != nil {
		logger.Warnf("Command [%v #%v] failed [%v]", cmd.Kind, cmd.Seq, r.Err)
	}
	return r
}

// Shutdown switches every pump off and saves any undelivered events.
func (c *Core) Shutdown() {
	logger.Info("Actuation core stopping")
	c.pumps.Halt()
	blob, err := data.EncodeEvents(c.journal.Snapshot())
	if err != nil {
		logger.Errorf("Failed to encode journal [%v]", err)
		return
	}
	if err := c.nvs.Put(nvs.JournalBlob, blob); err != nil {
		logger.Errorf("Failed to save journal [%v]", err)
		return
	}
	logger.Infof("Saved [%v] undelivered events", c.journal.Len())
}

func (c *Core) restoreJournal() {
	blob, err := c.nvs.Get(nvs.JournalBlob)
	if errors.Is(err, nvs.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Errorf("Failed to read saved journal [%v]", err)
		return
	}
	events, bad := data.DecodeEvents(blob)
	if bad > 0 {
		logger.Warnf("Dropped [%v] corrupt journal records", bad)
	}
	c.journal.Restore(events)
	// restored events are only saved again on a clean shutdown
	if err := c.nvs.Put(nvs.JournalBlob, []byte{}); err != nil {
		logger.Errorf("Failed to clear saved journal [%v]", err)
	}
	logger.Infof("Restored [%v] undelivered events", len(events))
}
