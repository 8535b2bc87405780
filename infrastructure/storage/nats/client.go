// Package nats provides NATS JetStream-based event journaling and forwarding.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client defines the JetStream operations the journal and forwarder need.
// This allows for in-memory implementations in testing.
type Client interface {
	// Publish publishes a message to a subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// GetMessages retrieves all stored messages for a subject in order.
	GetMessages(ctx context.Context, subject string) ([][]byte, error)

	// Ping reports whether the connection is usable.
	Ping(ctx context.Context) error

	// Close closes the client connection.
	Close() error
}

// ErrNotConnected is returned when the NATS connection is down.
var ErrNotConnected = errors.New("nats: not connected")

// JetStreamClient is a Client backed by a NATS server with JetStream enabled.
type JetStreamClient struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	wait   time.Duration
}

// Connect dials url and ensures a stream capturing prefix.> exists.
func Connect(ctx context.Context, url, prefix string) (*JetStreamClient, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	conn, err := nats.Connect(url, nats.Name("roundtable"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(prefix),
		Subjects: []string{prefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	return &JetStreamClient{conn: conn, js: js, stream: stream, wait: 500 * time.Millisecond}, nil
}

func streamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_", "-", "_").Replace(prefix))
}

// Publish implements Client.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

// GetMessages reads every stored message on subject through an ordered consumer.
func (c *JetStreamClient) GetMessages(ctx context.Context, subject string) ([][]byte, error) {
	cons, err := c.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, err
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, err
	}
	pending := int(info.NumPending)

	out := make([][]byte, 0, pending)
	for len(out) < pending {
		batch, err := cons.Fetch(pending-len(out), jetstream.FetchMaxWait(c.wait))
		if err != nil {
			return nil, err
		}
		n := 0
		for msg := range batch.Messages() {
			out = append(out, msg.Data())
			n++
		}
		if err := batch.Error(); err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

// Ping implements Client.
func (c *JetStreamClient) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.conn.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close drains and closes the connection.
func (c *JetStreamClient) Close() error {
	return c.conn.Drain()
}

// MemoryClient is an in-process Client used by tests and local runs.
type MemoryClient struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	failWith error
}

// NewMemoryClient creates an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{messages: make(map[string][][]byte)}
}

// FailWith makes every subsequent Publish return err (nil restores).
func (c *MemoryClient) FailWith(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

// Publish implements Client.
func (c *MemoryClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.messages[subject] = append(c.messages[subject], append([]byte(nil), data...))
	return nil
}

// GetMessages implements Client.
func (c *MemoryClient) GetMessages(_ context.Context, subject string) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result, nil
}

// Ping implements Client.
func (c *MemoryClient) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Client.
func (c *MemoryClient) Close() error {
	return nil
}

// MessageCount returns the number of messages for a subject.
func (c *MemoryClient) MessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

var (
	_ Client = (*JetStreamClient)(nil)
	_ Client = (*MemoryClient)(nil)
)
