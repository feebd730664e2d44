package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gr-butler/hydro/api"
	"github.com/gr-butler/hydro/broker"
	"github.com/gr-butler/hydro/buffer"
	"github.com/gr-butler/hydro/config"
	"github.com/gr-butler/hydro/controller"
	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/env"
	"github.com/gr-butler/hydro/gate"
	"github.com/gr-butler/hydro/journal"
	"github.com/gr-butler/hydro/led"
	"github.com/gr-butler/hydro/link"
	"github.com/gr-butler/hydro/nvs"
	"github.com/gr-butler/hydro/pump"
	"github.com/gr-butler/hydro/sensors"
	"github.com/gr-butler/hydro/settings"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	logger "github.com/sirupsen/logrus"
)

const version = "GRB-Hydro-1.0.0"

type hydro struct {
	client    *link.Client
	heartbeat *led.LED
	broker    *broker.Broker
	trend     *buffer.SampleBuffer
	pulses    chan data.PumpPulseEvent
}

var Prom_ph = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ph",
		Help: "Reservoir pH",
	},
)

var Prom_phControl = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ph_control_sample",
		Help: "pH at the last stabilizer check",
	},
)

var Prom_phTrend = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "ph_trend",
		Help: "pH average, minimum and maximum over the trend window",
	},
	[]string{"stat"},
)

var Prom_tds = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "tds_ppm",
		Help: "Total dissolved solids ppm",
	},
)

var Prom_temperature = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "temperature",
		Help: "Temperature C",
	},
)

var Prom_humidity = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "relative_humidity",
		Help: "Relative Humidity",
	},
)

var Prom_enabled = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "system_enabled",
		Help: "1 when pumps may run",
	},
)

var Prom_pumpPulses = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pump_pulses_total",
		Help: "Pump pulses by pump",
	},
	[]string{"pump"},
)

var Prom_pumpSeconds = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pump_run_seconds_total",
		Help: "Pump run time by pump",
	},
	[]string{"pump"},
)

var Prom_pumpInterrupted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pump_interrupted_total",
		Help: "Pulses cut short by the overflow sensor",
	},
	[]string{"pump"},
)

var Prom_readFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "reading_failures_total",
		Help: "Readings that timed out or failed",
	},
)

// called by prometheus
func init() {
	logger.Infof("%v: Initialize prometheus...", time.Now().Format(time.RFC822))
	prometheus.MustRegister(
		Prom_ph,
		Prom_phControl,
		Prom_phTrend,
		Prom_tds,
		Prom_temperature,
		Prom_humidity,
		Prom_enabled,
		Prom_pumpPulses,
		Prom_pumpSeconds,
		Prom_pumpInterrupted,
		Prom_readFailures)
}

// indicatorFunc lets a plain function mirror the enable state.
type indicatorFunc func(on bool)

func (f indicatorFunc) Set(on bool) {
	f(on)
}

func main() {
	logger.Infof("Starting hydro controller [%v]", version)

	args := env.Args{
		Test:    flag.Bool("test", false, "test mode, simulated hardware and nothing persisted"),
		Verbose: flag.Bool("verbose", false, "debug logging"),
		Config:  flag.String("config", "", "YAML config file"),
		EnvFile: flag.String("env", ".env", "environment file"),
	}
	flag.Parse()

	if *args.Verbose {
		logger.SetLevel(logger.DebugLevel)
	}
	if *args.Test {
		logger.Info("TEST MODE")
	}
	if err := config.LoadEnvFile(*args.EnvFile); err != nil {
		logger.Warnf("Failed to read env file [%v]", err)
	}
	cfg, err := config.Load(*args.Config)
	if err != nil {
		logger.Fatalf("Bad configuration [%v]", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("%v: Initialize hardware...", time.Now().Format(time.RFC822))
	hw, err := initHardware(cfg, *args.Test)
	if err != nil {
		logger.Fatalf("Failed to initialise hardware!! [%v]", err)
	}
	defer hw.Close()

	var store nvs.Store
	if *args.Test {
		store = nvs.NewMemory()
	} else {
		bolt, err := nvs.OpenBolt(cfg.StorePath)
		if err != nil {
			logger.Fatalf("Failed to open store [%v] [%v]", cfg.StorePath, err)
		}
		defer bolt.Close()
		store = bolt
	}

	h := &hydro{
		heartbeat: led.NewLED("Heartbeat", hw.heartbeat),
		trend:     buffer.NewBuffer(env.TrendSamples),
		pulses:    make(chan data.PumpPulseEvent, 16),
	}

	status := led.NewLED("Status", hw.status)
	g := gate.New(nil, cfg.ToggleDelay, true, indicatorFunc(func(on bool) {
		status.Set(on)
		if on {
			Prom_enabled.Set(1)
		} else {
			Prom_enabled.Set(0)
		}
	}))

	probes := sensors.New(hw.ph, hw.tds, hw.atm, settings.LoadCalibration(store), sensors.Options{
		ADCConversion: env.ADCConvert,
		EnvConversion: env.EnvConvert,
		TDSFactor:     cfg.Sensors.TDSFactor,
	})
	events := journal.New(cfg.JournalCapacity)
	pumps := pump.NewActuator(pump.Options{
		Driver:  hw.driver,
		Safety:  hw.safety,
		Enabler: g,
		Journal: events,
	})
	pumps.Observe(h.observePulse)

	l := link.New(cfg.LinkDepth, nil)
	core := controller.NewCore(controller.Options{
		Link:     l,
		Settings: settings.NewStore(store),
		Journal:  events,
		NVS:      store,
		Sensors:  probes,
		Pumps:    pumps,
		Gate:     g,
		Band:     controller.Band(cfg.Band),
		Tick:     cfg.Tick,
	})
	core.Stabilizer().OnSample = Prom_phControl.Set

	refills, err := controller.ScheduleRefill(cfg.RefillSchedule, core.Refill())
	if err != nil {
		logger.Fatalf("Bad refill schedule [%v]", err)
	}
	defer refills.Stop()

	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		if err := core.Run(ctx); err != nil {
			logger.Errorf("Actuation core stopped [%v]", err)
		}
	}()
	go gate.WatchButton(ctx, hw.button, core.RequestToggle)

	h.client = link.NewClient(l, cfg.CommandTimeout)

	if cfg.MQTT.Broker != "" && !*args.Test {
		b, err := broker.Connect(cfg.MQTT.Broker, cfg.MQTT.Topic)
		if err != nil {
			logger.Errorf("MQTT disabled [%v]", err)
		} else {
			h.broker = b
			defer b.Close()
		}
	}

	go h.heartbeatLoop(ctx)
	go h.Reporting(ctx)

	// start web service
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(h.client, rate.Limit(cfg.RateLimit), cfg.RateBurst).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting webservice on [%v]", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Webservice failed [%v]", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Webservice shutdown [%v]", err)
	}
	<-coreDone
	logger.Info("Exiting...")
}

func (h *hydro) heartbeatLoop(ctx context.Context) {
	logger.Info("Heartbeat started")
	ticker := time.NewTicker(env.HeartbeatInterval)
	defer ticker.Stop()
	for {
		logger.Debug("Sending heartbeat")
		h.heartbeat.Flash()
		select {
		case <-ctx.Done():
			h.heartbeat.Off()
			return
		case <-ticker.C:
		}
	}
}

// observePulse runs on the actuation core, so it must not block.
func (h *hydro) observePulse(e data.PumpPulseEvent) {
	name := e.Pump.String()
	Prom_pumpPulses.WithLabelValues(name).Inc()
	Prom_pumpSeconds.WithLabelValues(name).Add(e.PulseLength.Seconds())
	if e.Interrupted {
		Prom_pumpInterrupted.WithLabelValues(name).Inc()
	}
	select {
	case h.pulses <- e:
	default:
		logger.Warnf("Pulse queue full, not publishing [%v]", name)
	}
}
