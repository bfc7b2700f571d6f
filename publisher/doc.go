// Package publisher routes validator events to downstream environments.
//
// Each configured environment becomes one Publisher with its own
// ProgramFilter. There are two kinds:
//
//  1. BrokerPublisher: encodes events with a codec from the encoding package
//     and writes them to a Sink (Kafka or NATS, see publisher/sink)
//  2. HTTPPublisher: POSTs events as JSON to <root_url>/<topic>
//
// # Topics
//
// Every event kind has one global topic. An empty topic disables the kind
// for every environment. Account updates may be routed to a different topic
// by owner program:
//
//	update_account_topic = "accounts"
//
//	[update_account_topic_overrides]
//	"accounts.wormhole" = ["WormT3McKhFJ2RkiGpdw9GKvNCrB2aB54gb2uV9MfQC"]
//
// # Record keys
//
//	account      "<cluster>:<base58 owner>"
//	slot         8-byte little-endian slot
//	transaction  64-byte signature
//
// With wrap_messages the payload is the envelope and every key is prefixed
// with its arm: 'A' (account), 'S' (slot) or 'T' (transaction).
//
// # Sinks
//
// Sink implementations register a SinkFactory from init(). Import the sink
// package for its side effects:
//
//	import _ "github.com/maxpert/geyser/publisher/sink"
//
// # Thread Safety
//
// Publishers are safe for concurrent use. Close is idempotent and bounded
// by shutdown_timeout_ms.
package publisher
