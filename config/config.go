// Package config loads the daemon configuration: defaults, then an optional
// YAML file, then HYDRO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gr-butler/hydro/env"
	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Band struct {
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Tolerance float64 `yaml:"tolerance"`
}

type Pins struct {
	PhDown    string `yaml:"ph_down"`
	PhUp      string `yaml:"ph_up"`
	Refill    string `yaml:"refill"`
	ActiveLow bool   `yaml:"active_low"`
	Overflow  string `yaml:"overflow"`
	Button    string `yaml:"button"`
	StatusLed string `yaml:"status_led"`
	Heartbeat string `yaml:"heartbeat_led"`
}

type Sensors struct {
	ADCBus     string  `yaml:"adc_bus"`
	ADCAddr    uint16  `yaml:"adc_addr"`
	PHChannel  int     `yaml:"ph_channel"`
	TDSChannel int     `yaml:"tds_channel"`
	TDSEnabled bool    `yaml:"tds_enabled"`
	TDSFactor  float64 `yaml:"tds_factor"`
	EnvBus     string  `yaml:"env_bus"`
	EnvAddr    uint16  `yaml:"env_addr"`
	EnvEnabled bool    `yaml:"env_enabled"`
}

type MQTT struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Config struct {
	Listen          string        `yaml:"listen"`
	StorePath       string        `yaml:"store_path"`
	Tick            time.Duration `yaml:"tick"`
	LinkDepth       int           `yaml:"link_depth"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	JournalCapacity int           `yaml:"journal_capacity"`
	ToggleDelay     time.Duration `yaml:"toggle_delay"`
	RefillSchedule  string        `yaml:"refill_schedule"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	Band            Band          `yaml:"band"`
	Pins            Pins          `yaml:"pins"`
	Sensors         Sensors       `yaml:"sensors"`
	MQTT            MQTT          `yaml:"mqtt"`
	Database        Database      `yaml:"database"`
}

func Default() Config {
	return Config{
		Listen:          ":80",
		StorePath:       "hydro.db",
		Tick:            100 * time.Millisecond,
		LinkDepth:       2,
		CommandTimeout:  5 * time.Second,
		JournalCapacity: 5,
		ToggleDelay:     5 * time.Second,
		RefillSchedule:  "0 */6 * * *",
		RateLimit:       2,
		RateBurst:       4,
		Band:            Band{Min: 5.5, Max: 6.5, Tolerance: 0.2},
		Pins: Pins{
			PhDown:    env.PhDownPumpOut,
			PhUp:      env.PhUpPumpOut,
			Refill:    env.RefillPumpOut,
			Overflow:  env.OverflowIn,
			Button:    env.EnableButton,
			StatusLed: env.StatusLed,
			Heartbeat: env.HeartbeatLed,
		},
		Sensors: Sensors{
			ADCBus:     env.ADCBus,
			ADCAddr:    env.ADCAddr,
			PHChannel:  env.PHChannel,
			TDSChannel: env.TDSChannel,
			TDSEnabled: true,
			TDSFactor:  1.0,
			EnvBus:     env.EnvBus,
			EnvAddr:    env.EnvAddr,
			EnvEnabled: true,
		},
		MQTT: MQTT{Topic: "hydro"},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and then the environment.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config %v: %w", path, err)
		}
		logger.Infof("Loaded config [%v]", path)
	}
	if err := c.applyEnv(); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// LoadEnvFile reads KEY=value pairs into the environment. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"HYDRO_LISTEN":          &c.Listen,
		"HYDRO_STORE":           &c.StorePath,
		"HYDRO_REFILL_SCHEDULE": &c.RefillSchedule,
		"HYDRO_MQTT_BROKER":     &c.MQTT.Broker,
		"HYDRO_MQTT_TOPIC":      &c.MQTT.Topic,
		"HYDRO_DB_DRIVER":       &c.Database.Driver,
		"HYDRO_DB_DSN":          &c.Database.DSN,
	}
	for key, field := range str {
		if v, ok := os.LookupEnv(key); ok {
			*field = v
		}
	}
	if v, ok := os.LookupEnv("HYDRO_COMMAND_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HYDRO_COMMAND_TIMEOUT: %w", err)
		}
		c.CommandTimeout = d
	}
	if v, ok := os.LookupEnv("HYDRO_JOURNAL_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HYDRO_JOURNAL_CAPACITY: %w", err)
		}
		c.JournalCapacity = n
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.Band.Min >= c.Band.Max:
		return fmt.Errorf("band min [%v] must be below max [%v]", c.Band.Min, c.Band.Max)
	case c.Band.Tolerance < 0:
		return fmt.Errorf("band tolerance [%v] is negative", c.Band.Tolerance)
	case c.LinkDepth < 1 || c.LinkDepth > 4:
		return fmt.Errorf("link depth [%v] must be 1 to 4", c.LinkDepth)
	case c.CommandTimeout <= 0:
		return fmt.Errorf("command timeout [%v] must be positive", c.CommandTimeout)
	case c.Tick <= 0:
		return fmt.Errorf("tick [%v] must be positive", c.Tick)
	case c.JournalCapacity < 1:
		return fmt.Errorf("journal capacity [%v] must be at least 1", c.JournalCapacity)
	}
	return nil
}
