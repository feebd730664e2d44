package data

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// records shared between the actuation core and everything that reports on it

type PumpID uint8

const (
	// values match the pump ids the collector database has always used
	PhDown PumpID = 1
	PhUp   PumpID = 2
	Refill PumpID = 3
)

var Pumps = []PumpID{PhUp, PhDown, Refill}

func (p PumpID) Valid() bool {
	return p == PhUp || p == PhDown || p == Refill
}

func (p PumpID) String() string {
	switch p {
	case PhUp:
		return "ph_up"
	case PhDown:
		return "ph_down"
	case Refill:
		return "refill"
	default:
		return fmt.Sprintf("pump(%d)", uint8(p))
	}
}

// SensorReading is a point in time snapshot. Sensors that are not fitted read zero.
type SensorReading struct {
	Timestamp   time.Time `json:"timestamp"`
	PH          float64   `json:"ph"`
	TDS         float64   `json:"tds"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

const (
	EventMagic        uint32 = 0x45445948 // "HYDE"
	EventVersionMajor uint8  = 1
	EventVersionMinor uint8  = 0
	EventRecordSize          = 28

	eventBodySize = EventRecordSize - 8
)

var ErrBadRecord = errors.New("bad record")

// PumpPulseEvent records one pump activation, complete or interrupted.
type PumpPulseEvent struct {
	Pump        PumpID
	Timestamp   time.Time
	PulseLength time.Duration
	Interrupted bool
	Automatic   bool
}

// Checksum is used by every persisted record.
func Checksum(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// MarshalBinary writes the fixed size, checksummed event record.
func (e PumpPulseEvent) MarshalBinary() ([]byte, error) {
	if !e.Pump.Valid() {
		return nil, fmt.Errorf("%w: unknown pump [%v]", ErrBadRecord, e.Pump)
	}
	b := make([]byte, EventRecordSize)
	binary.LittleEndian.PutUint32(b[0:], EventMagic)
	b[4] = EventVersionMajor
	b[5] = EventVersionMinor
	b[6] = uint8(e.Pump)
	var flags uint8
	if e.Interrupted {
		flags |= 1
	}
	if e.Automatic {
		flags |= 2
	}
	b[7] = flags
	binary.LittleEndian.PutUint64(b[8:], uint64(e.Timestamp.UnixMilli()))
	binary.LittleEndian.PutUint32(b[16:], uint32(e.PulseLength.Milliseconds()))
	binary.LittleEndian.PutUint64(b[eventBodySize:], Checksum(b[:eventBodySize]))
	return b, nil
}

// UnmarshalBinary decodes and validates a single event record.
func (e *PumpPulseEvent) UnmarshalBinary(b []byte) error {
	if len(b) != EventRecordSize {
		return fmt.Errorf("%w: event length [%v]", ErrBadRecord, len(b))
	}
	if binary.LittleEndian.Uint32(b[0:]) != EventMagic {
		return fmt.Errorf("%w: event magic", ErrBadRecord)
	}
	if b[4] != EventVersionMajor || b[5] != EventVersionMinor {
		return fmt.Errorf("%w: event version [%v.%v]", ErrBadRecord, b[4], b[5])
	}
	if binary.LittleEndian.Uint64(b[eventBodySize:]) != Checksum(b[:eventBodySize]) {
		return fmt.Errorf("%w: event checksum", ErrBadRecord)
	}
	pump := PumpID(b[6])
	if !pump.Valid() {
		return fmt.Errorf("%w: unknown pump [%v]", ErrBadRecord, b[6])
	}
	*e = PumpPulseEvent{
		Pump:        pump,
		Timestamp:   time.UnixMilli(int64(binary.LittleEndian.Uint64(b[8:]))),
		PulseLength: time.Duration(binary.LittleEndian.Uint32(b[16:])) * time.Millisecond,
		Interrupted: b[7]&1 != 0,
		Automatic:   b[7]&2 != 0,
	}
	return nil
}

// EncodeEvents concatenates event records.
func EncodeEvents(events []PumpPulseEvent) ([]byte, error) {
	out := make([]byte, 0, len(events)*EventRecordSize)
	for _, e := range events {
		b, err := e.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeEvents returns every valid record in b and the number of records rejected.
func DecodeEvents(b []byte) ([]PumpPulseEvent, int) {
	events := []PumpPulseEvent{}
	bad := 0
	for len(b) >= EventRecordSize {
		var e PumpPulseEvent
		if err := e.UnmarshalBinary(b[:EventRecordSize]); err != nil {
			bad++
		} else {
			events = append(events, e)
		}
		b = b[EventRecordSize:]
	}
	if len(b) > 0 {
		bad++
	}
	return events, bad
}
