package main

import (
	"context"
	"time"

	"github.com/gr-butler/hydro/env"

	logger "github.com/sirupsen/logrus"
)

// Reporting called as a go routine:
// * take a reading through the core link every report interval
// * update grafana endpoints and the pH trend
// * publish readings and pump pulses to MQTT when a broker is configured
func (h *hydro) Reporting(ctx context.Context) {
	ticker := time.NewTicker(env.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-h.pulses:
			if h.broker == nil {
				continue
			}
			if err := h.broker.PublishPulse(e); err != nil {
				logger.Errorf("Failed to publish pulse [%v]", err)
			}
		case <-ticker.C:
			h.report()
		}
	}
}

func (h *hydro) report() {
	logger.Info("Recording data")
	reading, err := h.client.RequestReading()
	if err != nil {
		Prom_readFailures.Inc()
		logger.Errorf("Reading failed [%v]", err)
		return
	}

	Prom_ph.Set(reading.PH)
	Prom_tds.Set(reading.TDS)
	Prom_temperature.Set(reading.Temperature)
	Prom_humidity.Set(reading.Humidity)

	h.trend.AddItem(reading.PH)
	avg, min, max := h.trend.GetAverageMinMax()
	Prom_phTrend.WithLabelValues("avg").Set(float64(avg))
	Prom_phTrend.WithLabelValues("min").Set(float64(min))
	Prom_phTrend.WithLabelValues("max").Set(float64(max))
	logger.Infof("pH [%.2f] trend avg [%.2f] min [%.2f] max [%.2f]", reading.PH, avg, min, max)

	if h.broker != nil {
		if err := h.broker.PublishReading(reading); err != nil {
			logger.Errorf("Failed to publish reading [%v]", err)
		}
	}
}
