package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSBus implements MessageBus on top of a NATS connection.
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus connects to the NATS server described by cfg.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg = DefaultConfig()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSBus{conn: conn}, nil
}

// Publish sends data on the subject.
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b == nil || b.conn == nil || b.conn.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

// Subscribe registers a handler for the subject. NATS wildcard subjects are
// supported.
func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b == nil || b.conn == nil || b.conn.IsClosed() {
		return nil, ErrClosed
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is nil")
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains and closes the connection.
func (b *NATSBus) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if s == nil || s.sub == nil {
		return ErrClosed
	}
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Subject() string {
	if s == nil || s.sub == nil {
		return ""
	}
	return s.sub.Subject
}
