package db

import (
	"context"
	"testing"
	"time"

	"github.com/gr-butler/hydro/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Migrate(context.Background()))
	return d
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	assert.Error(t, err)
}

func TestMigrateTwice(t *testing.T) {
	d := openTest(t)
	assert.NoError(t, d.Migrate(context.Background()))
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: "postgres"}
	assert.Equal(t, "VALUES ($1, $2, $3)", pg.rebind("VALUES (?, ?, ?)"))
	my := &DB{driver: "mysql"}
	assert.Equal(t, "VALUES (?, ?)", my.rebind("VALUES (?, ?)"))
}

func TestPulses(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)
	older := time.Unix(1700000000, 0).UTC()
	newer := older.Add(time.Hour)
	require.NoError(t, d.WritePulse(ctx, data.PumpPulseEvent{Pump: data.PhUp, Timestamp: older, PulseLength: time.Second, Automatic: true}))
	require.NoError(t, d.WritePulse(ctx, data.PumpPulseEvent{Pump: data.Refill, Timestamp: newer, PulseLength: 12 * time.Second, Interrupted: true}))

	got, err := d.RecentPulses(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, data.Refill, got[0].Pump)
	assert.True(t, newer.Equal(got[0].Timestamp))
	assert.Equal(t, 12*time.Second, got[0].PulseLength)
	assert.True(t, got[0].Interrupted)
	assert.Equal(t, data.PhUp, got[1].Pump)
	assert.True(t, got[1].Automatic)

	got, err = d.RecentPulses(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReadings(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)
	ts := time.Unix(1700000000, 0)
	require.NoError(t, d.WriteReading(ctx, data.SensorReading{Timestamp: ts, PH: 6.1, Temperature: 19.5}))
	require.NoError(t, d.WriteReading(ctx, data.SensorReading{Timestamp: ts.Add(time.Minute), PH: 6.3}))

	ph, err := d.LatestValue(ctx, SensorPH)
	require.NoError(t, err)
	assert.Equal(t, 6.3, ph)

	temp, err := d.LatestValue(ctx, SensorTemperature)
	require.NoError(t, err)
	assert.Equal(t, 19.5, temp)

	_, err = d.LatestValue(ctx, SensorHumidity)
	assert.Error(t, err)

	var count int
	require.NoError(t, d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensor_readings").Scan(&count))
	assert.Equal(t, 3, count)
}
