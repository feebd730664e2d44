// Package db writes readings and pump pulses to the collection database.
// The schema matches the tables the collector has always filled.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gr-butler/hydro/data"
	_ "github.com/lib/pq"
	logger "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// sensor_type_index values
const (
	SensorPH = iota
	SensorTDS
	SensorTemperature
	SensorHumidity
)

const DefaultSensorID = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pump_pulses (
		timestamp TIMESTAMP NOT NULL,
		pump_id INTEGER NOT NULL,
		pulse_length INTEGER NOT NULL,
		interrupted BOOLEAN NOT NULL,
		automatic BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		timestamp TIMESTAMP NOT NULL,
		sensor_id INTEGER NOT NULL,
		sensor_reading DOUBLE PRECISION NOT NULL,
		sensor_type_index INTEGER NOT NULL
	)`,
}

type DB struct {
	db     *sql.DB
	driver string
	// SensorID is written with every reading.
	SensorID int
}

// Open connects with driver "postgres", "mysql" or "sqlite". MySQL DSNs need
// parseTime=true to read timestamps back.
func Open(driver string, dsn string) (*DB, error) {
	switch driver {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported database driver [%v]", driver)
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", driver, err)
	}
	if driver == "sqlite" {
		// one writer, and :memory: databases are per connection
		conn.SetMaxOpenConns(1)
	}
	return &DB{db: conn, driver: driver, SensorID: DefaultSensorID}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (d *DB) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) WritePulse(ctx context.Context, e data.PumpPulseEvent) error {
	_, err := d.db.ExecContext(ctx,
		d.rebind("INSERT INTO pump_pulses (timestamp, pump_id, pulse_length, interrupted, automatic) VALUES (?, ?, ?, ?, ?)"),
		e.Timestamp.UTC(), int(e.Pump), e.PulseLength.Milliseconds(), e.Interrupted, e.Automatic)
	if err != nil {
		return fmt.Errorf("write pulse: %w", err)
	}
	return nil
}

// WriteReading stores pH and whichever optional sensors reported a value.
func (d *DB) WriteReading(ctx context.Context, r data.SensorReading) error {
	type value struct {
		index int
		v     float64
	}
	values := []value{{SensorPH, r.PH}}
	if r.TDS != 0 {
		values = append(values, value{SensorTDS, r.TDS})
	}
	if r.Temperature != 0 {
		values = append(values, value{SensorTemperature, r.Temperature})
	}
	if r.Humidity != 0 {
		values = append(values, value{SensorHumidity, r.Humidity})
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write reading: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	query := d.rebind("INSERT INTO sensor_readings (timestamp, sensor_id, sensor_reading, sensor_type_index) VALUES (?, ?, ?, ?)")
	for _, val := range values {
		if _, err := tx.ExecContext(ctx, query, r.Timestamp.UTC(), d.SensorID, val.v, val.index); err != nil {
			return fmt.Errorf("write reading: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write reading: %w", err)
	}
	logger.Debugf("Stored [%v] sensor values", len(values))
	return nil
}

// RecentPulses returns up to limit pulses, newest first.
func (d *DB) RecentPulses(ctx context.Context, limit int) ([]data.PumpPulseEvent, error) {
	rows, err := d.db.QueryContext(ctx,
		d.rebind("SELECT timestamp, pump_id, pulse_length, interrupted, automatic FROM pump_pulses ORDER BY timestamp DESC LIMIT ?"),
		limit)
	if err != nil {
		return nil, fmt.Errorf("recent pulses: %w", err)
	}
	defer rows.Close()
	out := []data.PumpPulseEvent{}
	for rows.Next() {
		var (
			ts          time.Time
			pump        int
			lengthMs    int64
			interrupted bool
			automatic   bool
		)
		if err := rows.Scan(&ts, &pump, &lengthMs, &interrupted, &automatic); err != nil {
			return nil, fmt.Errorf("recent pulses: %w", err)
		}
		out = append(out, data.PumpPulseEvent{
			Pump:        data.PumpID(pump),
			Timestamp:   ts,
			PulseLength: time.Duration(lengthMs) * time.Millisecond,
			Interrupted: interrupted,
			Automatic:   automatic,
		})
	}
	return out, rows.Err()
}

// LatestValue returns the newest stored value of one sensor type.
func (d *DB) LatestValue(ctx context.Context, sensorType int) (float64, error) {
	var v float64
	err := d.db.QueryRowContext(ctx,
		d.rebind("SELECT sensor_reading FROM sensor_readings WHERE sensor_type_index = ? ORDER BY timestamp DESC LIMIT 1"),
		sensorType).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("latest value: %w", err)
	}
	return v, nil
}
