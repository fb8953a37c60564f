// Package queue wraps the NATS connection used for the reassignment hand-off
// and best-effort notification events.
package queue

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection.
type Client struct {
	conn *nats.Conn
}

// Connect dials the NATS server. Reconnection is handled by the client
// library; a short connect timeout keeps startup snappy.
func Connect(url string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}

// Publish sends a message to a subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for a subject. The returned subscription is
// kept alive until Close.
func (c *Client) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}
