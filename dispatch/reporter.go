package dispatch

import (
	"context"
	"fmt"

	"i4.energy/across/polectl/pole"
)

// Outbound payload literals.
const (
	PayloadTrue  = "true"
	PayloadFalse = "false"
	Distress     = "SOS"
)

// FaultPayload is the bad-contact notice for a pole: "1OFF" or "2OFF".
func FaultPayload(id pole.ID) string {
	return fmt.Sprintf("%dOFF", int(id))
}

// PoleEndpoints are the push targets of one pole.
type PoleEndpoints struct {
	Data   string `yaml:"data"`
	Status string `yaml:"status"`
	Bad    string `yaml:"bad"`
	Init   string `yaml:"init"`
}

// Endpoints are all push targets of the unit.
type Endpoints struct {
	Pole1 PoleEndpoints `yaml:"pole1"`
	Pole2 PoleEndpoints `yaml:"pole2"`
	Error string        `yaml:"error"`
}

func DefaultEndpoints() Endpoints {
	def := func(id pole.ID) PoleEndpoints {
		return PoleEndpoints{
			Data:   "/" + id.String() + "/data",
			Status: "/" + id.String() + "/status",
			Bad:    "/" + id.String() + "/bad",
			Init:   "/" + id.String() + "/init",
		}
	}
	return Endpoints{Pole1: def(pole.One), Pole2: def(pole.Two), Error: "/error"}
}

// For returns the endpoints of a pole.
func (e Endpoints) For(id pole.ID) PoleEndpoints {
	if id == pole.Two {
		return e.Pole2
	}
	return e.Pole1
}

// Reporter is the outbound channel.
type Reporter interface {
	Push(ctx context.Context, endpoint, payload string) error
	// Distress signals that an unrecognised command was received.
	Distress(ctx context.Context) error
}

// Pusher is the HTTP-over-modem side of a session.
type Pusher interface {
	PushStatus(ctx context.Context, endpoint, payload string) error
}

// Texter is the SMS side of a session.
type Texter interface {
	SendSMS(ctx context.Context, body string) error
}

// HTTPReporter pushes through the modem's HTTP stack. Distress goes to the
// error endpoint.
type HTTPReporter struct {
	Pusher        Pusher
	ErrorEndpoint string
}

func (r HTTPReporter) Push(ctx context.Context, endpoint, payload string) error {
	return r.Pusher.PushStatus(ctx, endpoint, payload)
}

func (r HTTPReporter) Distress(ctx context.Context) error {
	return r.Pusher.PushStatus(ctx, r.ErrorEndpoint, Distress)
}

// SMSReporter sends every push as a text message "<endpoint> <payload>".
// Distress is the bare literal.
type SMSReporter struct {
	Texter Texter
}

func (r SMSReporter) Push(ctx context.Context, endpoint, payload string) error {
	return r.Texter.SendSMS(ctx, endpoint+" "+payload)
}

func (r SMSReporter) Distress(ctx context.Context) error {
	return r.Texter.SendSMS(ctx, Distress)
}
