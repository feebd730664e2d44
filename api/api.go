// Package api is the HTTP face of the controller. Every handler goes through
// the core link; nothing here touches hardware.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/link"
	"github.com/gr-butler/hydro/settings"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Backend is satisfied by *link.Client.
type Backend interface {
	RequestReading() (data.SensorReading, error)
	GetSettings() (settings.Settings, error)
	MergeSettings(form url.Values) (settings.Settings, error)
	SaveSettings() (settings.Settings, error)
	DrainEvents() ([]data.PumpPulseEvent, error)
	ToggleEnable() (bool, bool, error)
}

type Server struct {
	backend Backend
	limiter *rate.Limiter
	// OnMailbox sees every mailbox handed out.
	OnMailbox func(data.Mailbox)
}

func NewServer(b Backend, limit rate.Limit, burst int) *Server {
	return &Server{backend: b, limiter: rate.NewLimiter(limit, burst)}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/json/mailbox.json", s.mailbox).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	sr := r.PathPrefix("/api").Subrouter()
	sr.HandleFunc("/reading", s.reading).Methods("GET")
	sr.HandleFunc("/settings", s.getSettings).Methods("GET")
	sr.HandleFunc("/events", s.events).Methods("GET")

	// mutating requests are rate limited
	sr.Handle("/settings", s.limit(s.updateSettings)).Methods("POST")
	sr.Handle("/settings/save", s.limit(s.saveSettings)).Methods("POST")
	sr.Handle("/system/toggle", s.limit(s.toggle)).Methods("POST")
	return r
}

func (s *Server) limit(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	})
}

// SettingsView is the JSON shape of a settings record.
type SettingsView struct {
	Version             string `json:"version"`
	AutoPH              bool   `json:"auto_ph"`
	RefillMode          string `json:"refill_mode"`
	PhStabilizeInterval string `json:"ph_stabilize_interval"`
	PhDoseLength        string `json:"ph_dose_length"`
	RefillDoseLength    string `json:"refill_dose_length"`
}

func ViewOf(s settings.Settings) SettingsView {
	return SettingsView{
		Version:             s.Version.String(),
		AutoPH:              s.AutoPH,
		RefillMode:          s.RefillMode.String(),
		PhStabilizeInterval: s.PhStabilizeInterval.String(),
		PhDoseLength:        s.PhDoseLength.String(),
		RefillDoseLength:    s.RefillDoseLength.String(),
	}
}

type toggleView struct {
	Enabled bool `json:"enabled"`
	Toggled bool `json:"toggled"`
}

func (s *Server) mailbox(w http.ResponseWriter, r *http.Request) {
	reading, err := s.backend.RequestReading()
	if err != nil {
		fail(w, err)
		return
	}
	// events are only drained once the reading is in hand
	events, err := s.backend.DrainEvents()
	if err != nil {
		fail(w, err)
		return
	}
	m := data.NewMailbox(reading, events)
	if s.OnMailbox != nil {
		s.OnMailbox(m)
	}
	reply(w, m)
}

func (s *Server) reading(w http.ResponseWriter, r *http.Request) {
	reading, err := s.backend.RequestReading()
	if err != nil {
		fail(w, err)
		return
	}
	reply(w, reading)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	events, err := s.backend.DrainEvents()
	if err != nil {
		fail(w, err)
		return
	}
	reply(w, data.NewMailbox(data.SensorReading{}, events).PulseEvents)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.backend.GetSettings()
	if err != nil {
		fail(w, err)
		return
	}
	reply(w, ViewOf(current))
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// merged on the core against the settings in force
	applied, err := s.backend.MergeSettings(r.PostForm)
	if err != nil {
		fail(w, err)
		return
	}
	reply(w, ViewOf(applied))
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	saved, err := s.backend.SaveSettings()
	if err != nil {
		fail(w, err)
		return
	}
	reply(w, ViewOf(saved))
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	enabled, toggled, err := s.backend.ToggleEnable()
	if err != nil {
		fail(w, err)
		return
	}
	reply(w, toggleView{Enabled: enabled, Toggled: toggled})
}

// Status maps a backend error to an HTTP status.
func Status(err error) int {
	var verr *settings.ValidationError
	switch {
	case errors.Is(err, link.ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, err error) {
	code := Status(err)
	logger.Warnf("Request failed [%v] [%v]", code, err)
	http.Error(w, err.Error(), code)
}

func reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("JSON error [%v]", err)
	}
}
