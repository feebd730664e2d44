package data

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRecord(t *testing.T) {
	e := PumpPulseEvent{
		Pump:        PhDown,
		Timestamp:   time.UnixMilli(1700000000123),
		PulseLength: 750 * time.Millisecond,
		Interrupted: true,
		Automatic:   true,
	}
	b, err := e.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, EventRecordSize)

	var got PumpPulseEvent
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, e.Pump, got.Pump)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, e.PulseLength, got.PulseLength)
	assert.True(t, got.Interrupted)
	assert.True(t, got.Automatic)
}

func TestEventRecordCorruption(t *testing.T) {
	b, err := PumpPulseEvent{Pump: PhUp, Timestamp: time.Now(), PulseLength: time.Second}.MarshalBinary()
	require.NoError(t, err)

	b[17] ^= 0xff
	var got PumpPulseEvent
	assert.ErrorIs(t, got.UnmarshalBinary(b), ErrBadRecord)
	assert.ErrorIs(t, got.UnmarshalBinary(b[:10]), ErrBadRecord)

	_, err = PumpPulseEvent{Pump: PumpID(9)}.MarshalBinary()
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestDecodeEventsSkipsBadRecords(t *testing.T) {
	events := []PumpPulseEvent{
		{Pump: PhUp, Timestamp: time.UnixMilli(1000), PulseLength: time.Second},
		{Pump: PhDown, Timestamp: time.UnixMilli(2000), PulseLength: 500 * time.Millisecond},
		{Pump: Refill, Timestamp: time.UnixMilli(3000), PulseLength: 30 * time.Second},
	}
	b, err := EncodeEvents(events)
	require.NoError(t, err)

	// corrupt the middle record and leave a torn tail
	b[EventRecordSize+2] ^= 0x01
	b = append(b, 0x01, 0x02)

	got, bad := DecodeEvents(b)
	assert.Equal(t, 2, bad)
	require.Len(t, got, 2)
	assert.Equal(t, PhUp, got[0].Pump)
	assert.Equal(t, Refill, got[1].Pump)
}

func TestPumpID(t *testing.T) {
	assert.Equal(t, "ph_up", PhUp.String())
	assert.Equal(t, "ph_down", PhDown.String())
	assert.Equal(t, "refill", Refill.String())
	assert.False(t, PumpID(0).Valid())
	assert.Len(t, Pumps, 3)
}

func TestMailboxJSON(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMailbox(
		SensorReading{Timestamp: now, PH: 6.12, Temperature: 20.5},
		[]PumpPulseEvent{{Pump: PhDown, Timestamp: now, PulseLength: 1500 * time.Millisecond, Interrupted: true}},
	)
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":1700000000,"ph":6.12,"tds":0,"temperature":20.5,"humidity":0,
		"pulse_events":[{"time":1700000000,"type":1,"len":1500,"interrupt":true,"auto":false}]}`, string(b))

	assert.Equal(t, 6.12, m.Reading().PH)
	events := m.Events()
	require.Len(t, events, 1)
	assert.Equal(t, PhDown, events[0].Pump)
	assert.Equal(t, 1500*time.Millisecond, events[0].PulseLength)
	assert.True(t, events[0].Interrupted)
}

func TestMailboxWithoutEvents(t *testing.T) {
	b, err := json.Marshal(NewMailbox(SensorReading{}, nil))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"pulse_events":[]`)
}
