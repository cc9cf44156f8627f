// Package mirror copies every outbound push to an MQTT broker so a local
// dashboard can follow the unit without going through the cellular link.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"i4.energy/across/polectl/dispatch"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish in time.
var ErrPublishTimeout = errors.New("mirror: publish timed out")

// Publisher is the part of an MQTT client the mirror uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Options configures the broker connection.
type Options struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Prefix   string        `yaml:"prefix"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether a broker is configured.
func (o Options) Enabled() bool { return o.Broker != "" }

// Connect dials the broker with auto-reconnect enabled. The client is
// disconnected when ctx is done.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	co.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", opts.Broker)
	})

	cli := mqtt.NewClient(co)
	t := cli.Connect()
	select {
	case <-t.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := t.Error(); err != nil {
		return nil, fmt.Errorf("mirror: connect %s: %w", opts.Broker, err)
	}
	go func() {
		<-ctx.Done()
		cli.Disconnect(500)
	}()
	return cli, nil
}

// Reporter forwards to Next and publishes a copy of each push on
// <Prefix><endpoint>. Mirror failures are logged and never change the
// outcome of the wrapped push.
type Reporter struct {
	Next      dispatch.Reporter
	Publisher Publisher
	Prefix    string
	QoS       byte
	Timeout   time.Duration
	Logger    *slog.Logger
}

func (r *Reporter) Push(ctx context.Context, endpoint, payload string) error {
	err := r.Next.Push(ctx, endpoint, payload)
	r.publish(endpoint, payload)
	return err
}

func (r *Reporter) Distress(ctx context.Context) error {
	err := r.Next.Distress(ctx)
	r.publish("/distress", dispatch.Distress)
	return err
}

// Topic returns the topic an endpoint is mirrored to.
func (r *Reporter) Topic(endpoint string) string {
	return strings.TrimSuffix(r.Prefix, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

func (r *Reporter) publish(endpoint, payload string) {
	topic := r.Topic(endpoint)
	if err := r.wait(r.Publisher.Publish(topic, r.QoS, false, payload)); err != nil && r.Logger != nil {
		r.Logger.Warn("mirror publish failed", "topic", topic, "error", err)
	}
}

func (r *Reporter) wait(t mqtt.Token) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if !t.WaitTimeout(timeout) {
		return ErrPublishTimeout
	}
	return t.Error()
}
