package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/encoding"
	"github.com/maxpert/geyser/event"
	"github.com/maxpert/geyser/telemetry"
	"github.com/rs/zerolog/log"
)

// BrokerConfig configures a BrokerPublisher
type BrokerConfig struct {
	Name            string              // Environment name
	Type            cfg.EnvironmentType // kafka or nats
	Sink            Sink                // Transport
	Codec           encoding.Codec      // Payload encoding
	Wrap            bool                // Encode inside the envelope, prefix keys
	Routing         *TopicRouting       // Topic per kind
	Keys            *KeyDeriver         // Record keys
	Filter          *ProgramFilter      // Program allow-list filter
	ShutdownTimeout time.Duration       // Bound on Close
}

// BrokerPublisher encodes events and hands them to a Kafka or NATS sink
type BrokerPublisher struct {
	config    BrokerConfig
	closeOnce sync.Once
	closeErr  error
}

// NewBrokerPublisher validates config and creates a publisher
func NewBrokerPublisher(config BrokerConfig) (*BrokerPublisher, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if config.Routing == nil {
		return nil, fmt.Errorf("routing is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}
	if config.Keys == nil {
		config.Keys = NewKeyDeriver(ClusterMainnet, config.Wrap)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	return &BrokerPublisher{config: config}, nil
}

func (b *BrokerPublisher) publisher() {}

func (b *BrokerPublisher) Name() string              { return b.config.Name }
func (b *BrokerPublisher) Type() cfg.EnvironmentType { return b.config.Type }
func (b *BrokerPublisher) Filter() *ProgramFilter    { return b.config.Filter }
func (b *BrokerPublisher) Wrap() bool                { return b.config.Wrap }

// Wants reports whether kind has a topic
func (b *BrokerPublisher) Wants(kind event.Kind) bool {
	return b.config.Routing.Wants(kind)
}

// Publish encodes ev and writes it to the sink. Events of an unwanted kind
// are dropped silently.
func (b *BrokerPublisher) Publish(ev event.Event) error {
	if ev == nil {
		return fmt.Errorf("environment %s: nil event", b.config.Name)
	}

	topic := b.config.Routing.TopicFor(ev)
	if topic == "" {
		return nil
	}

	start := time.Now()
	err := b.publish(topic, ev)
	observePublish(b.config.Name, ev.Kind(), start, err)
	if err != nil {
		return fmt.Errorf("environment %s: %w", b.config.Name, err)
	}
	return nil
}

func (b *BrokerPublisher) publish(topic string, ev event.Event) error {
	key, err := b.config.Keys.Key(ev)
	if err != nil {
		return err
	}

	var payload []byte
	if b.config.Wrap {
		payload, err = b.config.Codec.MarshalWrapped(ev)
	} else {
		payload, err = b.config.Codec.Marshal(ev)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Kind(), err)
	}

	if err := b.config.Sink.Publish(topic, key, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes the sink. If flushing takes longer than the shutdown timeout
// Close gives up and returns an error; the flush keeps running in the
// background.
func (b *BrokerPublisher) Close() error {
	b.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			done <- b.config.Sink.Close()
		}()

		timer := time.NewTimer(b.config.ShutdownTimeout)
		defer timer.Stop()

		select {
		case err := <-done:
			if err != nil {
				b.closeErr = fmt.Errorf("environment %s: failed to flush sink: %w", b.config.Name, err)
			}
		case <-timer.C:
			log.Error().
				Str("environment", b.config.Name).
				Dur("timeout", b.config.ShutdownTimeout).
				Msg("Timed out flushing sink")
			b.closeErr = fmt.Errorf("environment %s: sink flush timed out after %s", b.config.Name, b.config.ShutdownTimeout)
		}
	})
	return b.closeErr
}

// SinkStats forwards transport stats when the sink reports them
func (b *BrokerPublisher) SinkStats() telemetry.SinkStats {
	if sp, ok := b.config.Sink.(telemetry.StatsProvider); ok {
		return sp.SinkStats()
	}
	return telemetry.SinkStats{}
}

// observePublish records the upload counters and the publish duration
func observePublish(name string, kind event.Kind, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}

	switch kind {
	case event.KindAccount:
		telemetry.UploadAccountsTotal.With(status).Inc()
	case event.KindSlot:
		telemetry.UploadSlotsTotal.With(status).Inc()
	case event.KindTransaction:
		telemetry.UploadTransactionsTotal.With(status).Inc()
	}

	telemetry.PublishDurationSeconds.With(name, kind.String()).Observe(time.Since(start).Seconds())
}
