// Package collector pulls the mailbox from a controller and stores it.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gr-butler/hydro/api"
	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/settings"
	logger "github.com/sirupsen/logrus"
)

type Sink interface {
	WritePulse(ctx context.Context, e data.PumpPulseEvent) error
	WriteReading(ctx context.Context, r data.SensorReading) error
}

type Client struct {
	base string
	http *http.Client
}

// New accepts a bare host or IP as well as a URL.
func New(base string, timeout time.Duration) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%v %v: %v %v", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

// Mailbox drains the controller's pending events along with a fresh reading.
func (c *Client) Mailbox(ctx context.Context) (data.Mailbox, error) {
	var m data.Mailbox
	err := c.get(ctx, "/json/mailbox.json", &m)
	return m, err
}

func (c *Client) Settings(ctx context.Context) (api.SettingsView, error) {
	var v api.SettingsView
	err := c.get(ctx, "/api/settings", &v)
	return v, err
}

// UpdateSettings posts f. Flags left false in f are switched off.
func (c *Client) UpdateSettings(ctx context.Context, f settings.Form) (api.SettingsView, error) {
	var v api.SettingsView
	vals, err := f.Values()
	if err != nil {
		return v, err
	}
	err = c.post(ctx, "/api/settings", vals.Encode(), &v)
	return v, err
}

func (c *Client) SaveSettings(ctx context.Context) (api.SettingsView, error) {
	var v api.SettingsView
	err := c.post(ctx, "/api/settings/save", "", &v)
	return v, err
}

type ToggleResult struct {
	Enabled bool `json:"enabled"`
	Toggled bool `json:"toggled"`
}

func (c *Client) Toggle(ctx context.Context) (ToggleResult, error) {
	var r ToggleResult
	err := c.post(ctx, "/api/system/toggle", "", &r)
	return r, err
}

// Collect fetches the mailbox and writes everything in it to sink. Events
// are written first; a failure part way is reported but the rest is still
// attempted, as the mailbox cannot be fetched again.
func Collect(ctx context.Context, c *Client, sink Sink) (data.Mailbox, error) {
	m, err := c.Mailbox(ctx)
	if err != nil {
		return m, fmt.Errorf("fetch mailbox: %w", err)
	}
	var failed error
	for _, e := range m.Events() {
		if err := sink.WritePulse(ctx, e); err != nil {
			logger.Errorf("Failed to store pulse [%+v] [%v]", e, err)
			failed = err
		}
	}
	if err := sink.WriteReading(ctx, m.Reading()); err != nil {
		logger.Errorf("Failed to store reading [%v]", err)
		failed = err
	}
	logger.Infof("Collected [%v] pulses, pH [%v]", len(m.PulseEvents), m.PH)
	return m, failed
}
