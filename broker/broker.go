// Package broker publishes readings and pump events over MQTT.
package broker

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gr-butler/hydro/data"
	logger "github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// Client is the part of mqtt.Client the broker uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Broker struct {
	client Client
	topic  string
}

// Connect dials url with a fresh client id.
func Connect(url string, topic string) (*Broker, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID("hydro-" + uuid.NewString()).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnf("MQTT connection lost [%v]", err)
	}
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("mqtt connect to %v timed out", url)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %v: %w", url, err)
	}
	logger.Infof("Connected to MQTT broker [%v]", url)
	return New(c, topic), nil
}

func New(c Client, topic string) *Broker {
	return &Broker{client: c, topic: topic}
}

type pulseMessage struct {
	Pump        string `json:"pump"`
	PumpID      uint8  `json:"pump_id"`
	Time        int64  `json:"time"`
	LengthMs    int64  `json:"len"`
	Interrupted bool   `json:"interrupt"`
	Automatic   bool   `json:"auto"`
}

// PublishReading sends the reading retained, so new subscribers see the latest.
func (b *Broker) PublishReading(r data.SensorReading) error {
	return b.publish(b.topic+"/reading", true, r)
}

func (b *Broker) PublishPulse(e data.PumpPulseEvent) error {
	return b.publish(b.topic+"/pulse", false, pulseMessage{
		Pump:        e.Pump.String(),
		PumpID:      uint8(e.Pump),
		Time:        e.Timestamp.Unix(),
		LengthMs:    e.PulseLength.Milliseconds(),
		Interrupted: e.Interrupted,
		Automatic:   e.Automatic,
	})
}

func (b *Broker) publish(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := b.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %v timed out", topic)
	}
	return token.Error()
}

func (b *Broker) Close() {
	b.client.Disconnect(250)
}
