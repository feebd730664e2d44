package data

import "time"

// Mailbox is the /json/mailbox.json document the collector polls. Times are
// unix seconds, pulse lengths milliseconds.
type Mailbox struct {
	Time        int64          `json:"time"`
	PH          float64        `json:"ph"`
	TDS         float64        `json:"tds"`
	Temperature float64        `json:"temperature"`
	Humidity    float64        `json:"humidity"`
	PulseEvents []MailboxEvent `json:"pulse_events"`
}

type MailboxEvent struct {
	Time      int64  `json:"time"`
	Type      PumpID `json:"type"`
	Len       int64  `json:"len"`
	Interrupt bool   `json:"interrupt"`
	Auto      bool   `json:"auto"`
}

func NewMailbox(r SensorReading, events []PumpPulseEvent) Mailbox {
	m := Mailbox{
		Time:        r.Timestamp.Unix(),
		PH:          r.PH,
		TDS:         r.TDS,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		PulseEvents: make([]MailboxEvent, 0, len(events)),
	}
	for _, e := range events {
		m.PulseEvents = append(m.PulseEvents, MailboxEvent{
			Time:      e.Timestamp.Unix(),
			Type:      e.Pump,
			Len:       e.PulseLength.Milliseconds(),
			Interrupt: e.Interrupted,
			Auto:      e.Automatic,
		})
	}
	return m
}

func (m Mailbox) Reading() SensorReading {
	return SensorReading{
		Timestamp:   time.Unix(m.Time, 0),
		PH:          m.PH,
		TDS:         m.TDS,
		Temperature: m.Temperature,
		Humidity:    m.Humidity,
	}
}

func (m Mailbox) Events() []PumpPulseEvent {
	out := make([]PumpPulseEvent, 0, len(m.PulseEvents))
	for _, e := range m.PulseEvents {
		out = append(out, PumpPulseEvent{
			Pump:        e.Type,
			Timestamp:   time.Unix(e.Time, 0),
			PulseLength: time.Duration(e.Len) * time.Millisecond,
			Interrupted: e.Interrupt,
			Automatic:   e.Auto,
		})
	}
	return out
}
