// Package telemetry publishes instrument readings to an MQTT broker so
// long-running measurements can be watched remotely.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"benchlab/pkg/instrument"
)

type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string
	Username string
	Password string
}

// Message is one published reading set.
type Message struct {
	Taken    time.Time            `json:"taken"`
	Device   string               `json:"device"`
	Channel  int                  `json:"channel"`
	Readings []instrument.Reading `json:"readings"`
}

// Publisher wraps a connected MQTT client.
type Publisher struct {
	client mqtt.Client
	topic  string
	logger log.FieldLogger
}

// Connect dials the broker and returns a ready publisher.
func Connect(cfg Config, logger log.FieldLogger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID(cfg.ClientID)
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	return &Publisher{
		client: client,
		topic:  cfg.Topic,
		logger: logger.WithField("component", "telemetry"),
	}, nil
}

// Publish sends one message as JSON at QoS 0.
func (p *Publisher) Publish(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.logger.Debugf("publishing %d readings from %s to %s", len(msg.Readings), msg.Device, p.topic)
	if token := p.client.Publish(p.topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish reading: %v", token.Error())
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(100)
}
