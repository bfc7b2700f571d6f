package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/publisher"
	"github.com/maxpert/geyser/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"
)

// KeyHeader carries the record key on JetStream messages
const KeyHeader = "key"

func init() {
	publisher.RegisterSink(cfg.EnvironmentNATS, func(env cfg.EnvironmentConfiguration) (publisher.Sink, error) {
		if env.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(NatsConfigFromEnvironment(env))
	})
}

// NatsConfig holds configuration for NatsSink
type NatsConfig struct {
	URL      string
	Name     string                // Connection name
	MaxAge   time.Duration         // Stream retention
	Storage  jetstream.StorageType // File or memory
	Timeout  time.Duration         // Per-publish timeout
	ClientID string
}

// NatsConfigFromEnvironment maps the [environments.nats] table
func NatsConfigFromEnvironment(env cfg.EnvironmentConfiguration) NatsConfig {
	config := NatsConfig{
		URL:     env.NatsURL,
		Name:    env.Name,
		MaxAge:  time.Duration(env.NATS.MaxAgeSeconds) * time.Second,
		Storage: jetstream.FileStorage,
		Timeout: time.Duration(env.NATS.TimeoutMS) * time.Millisecond,
	}
	if env.NATS.Storage == "memory" {
		config.Storage = jetstream.MemoryStorage
	}
	return config
}

// NatsSink implements the Sink interface for NATS JetStream publishing
type NatsSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NatsConfig

	// subjects with an ensured stream
	streams *xsync.MapOf[string, struct{}]

	errors    atomic.Int64
	statsMu   sync.Mutex
	lastStats nats.Statistics
}

// NewNatsSink creates a new NATS JetStream sink
func NewNatsSink(config NatsConfig) (*NatsSink, error) {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if config.Name != "" {
		opts = append(opts, nats.Name("geyser-"+config.Name))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{
		nc:      nc,
		js:      js,
		config:  config,
		streams: xsync.NewMapOf[string, struct{}](),
	}, nil
}

// Publish sends a message to NATS JetStream
// topic: JetStream subject (e.g., "geyser.accounts")
// key: Record key, carried in the "key" header
// value: Encoded event
func (n *NatsSink) Publish(topic string, key, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.config.Timeout)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		n.errors.Add(1)
		return err
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{KeyHeader: []string{string(key)}},
	}

	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		n.errors.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

// ensureStream creates the stream of a subject once per process
func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	if _, ok := n.streams.Load(topic); ok {
		return nil
	}

	streamName := sanitizeStreamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Storage:   n.config.Storage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    n.config.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.streams.Store(topic, struct{}{})
	return nil
}

// SinkStats returns connection counters since the previous call
func (n *NatsSink) SinkStats() telemetry.SinkStats {
	n.statsMu.Lock()
	defer n.statsMu.Unlock()

	cur := n.nc.Stats()
	out := telemetry.SinkStats{
		Messages: int64(cur.OutMsgs - n.lastStats.OutMsgs),
		Bytes:    int64(cur.OutBytes - n.lastStats.OutBytes),
		Errors:   n.errors.Swap(0),
	}
	n.lastStats = cur
	return out
}

// Close drains the connection so in-flight publishes complete
func (n *NatsSink) Close() error {
	if n.nc == nil {
		return nil
	}
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}

// sanitizeStreamName converts a subject to a valid JetStream stream name.
// Stream names can't contain ".", "*", ">" or whitespace.
func sanitizeStreamName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, topic)
}
