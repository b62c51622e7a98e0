// Package events publishes ledger events for downstream consumers
// (reconciliation, notifications). Publication is best-effort and never
// blocks or fails a ledger write.
package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

const (
	SubjectSettled  = "ledger.settled"
	SubjectDebited  = "ledger.debited"
	SubjectRefunded = "ledger.refunded"
)

type Publisher interface {
	Publish(subject string, v any) error
}

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("tokenledger"))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.nc.Publish(subject, data)
}

func (p *NATSPublisher) Close() {
	p.nc.Drain()
}

// Noop is used when no event bus is configured.
type Noop struct{}

func (Noop) Publish(string, any) error { return nil }
