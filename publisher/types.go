package publisher

import (
	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/event"
)

// Sink represents a broker transport (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends a record to the sink. Sinks may buffer; a nil error means
	// the record was accepted, not that it was delivered.
	Publish(topic string, key, value []byte) error
	// Close flushes buffered records and releases resources
	Close() error
}

// Publisher delivers events for one environment. The only implementations
// are *BrokerPublisher and *HTTPPublisher.
type Publisher interface {
	// Name returns the environment name
	Name() string
	// Type returns the environment backend
	Type() cfg.EnvironmentType
	// Wants reports whether events of this kind are routed anywhere
	Wants(kind event.Kind) bool
	// Filter returns the program filter of the environment
	Filter() *ProgramFilter
	// Publish encodes and sends a single event
	Publish(ev event.Event) error
	// Close flushes pending events, bounded by the shutdown timeout
	Close() error

	publisher()
}
