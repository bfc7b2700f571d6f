package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/publisher"
	"github.com/maxpert/geyser/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20 // 1MB
)

func init() {
	publisher.RegisterSink(cfg.EnvironmentKafka, func(env cfg.EnvironmentConfiguration) (publisher.Sink, error) {
		config, err := KafkaConfigFromEnvironment(env)
		if err != nil {
			return nil, err
		}
		return NewKafkaSink(config)
	})
}

// KafkaSink implements the Sink interface for Kafka publishing
type KafkaSink struct {
	name   string
	writer *kafka.Writer
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Name             string             // Environment name, for logs
	Brokers          []string           // Kafka broker addresses
	ClientID         string             // Client id sent to brokers
	BatchSize        int                // Batch size (default: 100)
	BatchBytes       int64              // Max batch bytes (default: 1MB)
	BatchTimeout     time.Duration      // Max time a partial batch waits
	WriteTimeout     time.Duration      // Timeout of one produce request
	RequiredAcks     kafka.RequiredAcks // Ack requirement
	Compression      kafka.Compression  // Record batch compression (0 = none)
	Balancer         kafka.Balancer     // Partitioner (default: Hash)
	Async            bool               // Return before the broker acknowledges
	AutoCreateTopics bool               // Auto-create topics if they don't exist
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		BatchSize:    DefaultKafkaBatchSize,
		BatchBytes:   DefaultKafkaBatchBytes,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 30 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Lz4,
		Balancer:     &kafka.Hash{},
		Async:        true,
	}
}

// KafkaConfigFromEnvironment maps the [environments.kafka] table
func KafkaConfigFromEnvironment(env cfg.EnvironmentConfiguration) (KafkaConfig, error) {
	k := env.Kafka
	config := DefaultKafkaConfig(env.Brokers)
	config.Name = env.Name
	config.ClientID = k.ClientID
	config.AutoCreateTopics = k.AutoCreate

	if k.BatchSize > 0 {
		config.BatchSize = k.BatchSize
	}
	if k.BatchBytes > 0 {
		config.BatchBytes = k.BatchBytes
	}
	if k.BatchTimeoutMS > 0 {
		config.BatchTimeout = time.Duration(k.BatchTimeoutMS) * time.Millisecond
	}
	if k.WriteTimeoutMS > 0 {
		config.WriteTimeout = time.Duration(k.WriteTimeoutMS) * time.Millisecond
	}
	if k.Async != nil {
		config.Async = *k.Async
	}

	switch k.RequiredAcks {
	case "", "one":
		config.RequiredAcks = kafka.RequireOne
	case "none":
		config.RequiredAcks = kafka.RequireNone
	case "all":
		config.RequiredAcks = kafka.RequireAll
	default:
		return config, fmt.Errorf("invalid required_acks: %q", k.RequiredAcks)
	}

	switch k.Compression {
	case "", "lz4":
		config.Compression = kafka.Lz4
	case "none":
		config.Compression = 0
	case "gzip":
		config.Compression = kafka.Gzip
	case "snappy":
		config.Compression = kafka.Snappy
	case "zstd":
		config.Compression = kafka.Zstd
	default:
		return config, fmt.Errorf("invalid compression: %q", k.Compression)
	}

	switch k.Balancer {
	case "", "hash":
		config.Balancer = &kafka.Hash{}
	case "round_robin":
		config.Balancer = &kafka.RoundRobin{}
	default:
		return config, fmt.Errorf("invalid balancer: %q", k.Balancer)
	}

	return config, nil
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	// Set defaults if not provided
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.Balancer == nil {
		config.Balancer = &kafka.Hash{} // Partition by key for consistent routing
	}

	s := &KafkaSink{name: config.Name}
	s.writer = &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               config.Balancer,
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		BatchTimeout:           config.BatchTimeout,
		WriteTimeout:           config.WriteTimeout,
		RequiredAcks:           config.RequiredAcks,
		Compression:            config.Compression,
		Async:                  config.Async,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}
	if config.ClientID != "" {
		s.writer.Transport = &kafka.Transport{ClientID: config.ClientID}
	}
	if config.Async {
		s.writer.Completion = s.completion
	}

	return s, nil
}

// completion reports async delivery failures; they never reach Publish
func (k *KafkaSink) completion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	log.Warn().
		Err(err).
		Str("environment", k.name).
		Int("messages", len(messages)).
		Msg("Kafka delivery failed")
}

// Publish sends a message to Kafka
// topic: Kafka topic name
// key: Partition key (same key -> same partition)
// value: Encoded event
//
// With Async set this only enqueues; delivery errors are logged and counted
// by the writer stats.
func (k *KafkaSink) Publish(topic string, key, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	return k.writer.WriteMessages(context.Background(), msg)
}

// SinkStats returns writer counters since the previous call
func (k *KafkaSink) SinkStats() telemetry.SinkStats {
	stats := k.writer.Stats()
	return telemetry.SinkStats{
		Messages: stats.Messages,
		Bytes:    stats.Bytes,
		Errors:   stats.Errors,
	}
}

// Close flushes pending batches and releases the writer
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
