// Package encoding serializes events for the broker and HTTP publishers.
//
// Three formats are registered: "protobuf" (the default broker format),
// "msgpack" and "json". Each codec can also produce the wrapped form, a
// tagged union carrying exactly one event, so consumers of a shared topic can
// tell event kinds apart.
//
// Thread Safety: codecs are stateless and safe for concurrent use.
package encoding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/maxpert/geyser/event"
)

// Codec encodes events into payload bytes
type Codec interface {
	// Format returns the registered name of the codec
	Format() string
	// Marshal encodes the bare event
	Marshal(ev event.Event) ([]byte, error)
	// MarshalWrapped encodes the event inside the envelope
	MarshalWrapped(ev event.Event) ([]byte, error)
}

// CodecFactory creates a Codec
type CodecFactory func() Codec

var (
	codecFactories = make(map[string]CodecFactory)
	factoryMu      sync.RWMutex
)

// RegisterCodec registers a codec factory for a format
func RegisterCodec(format string, factory CodecFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	codecFactories[format] = factory
}

// NewCodec creates the codec registered for format
func NewCodec(format string) (Codec, error) {
	factoryMu.RLock()
	factory, exists := codecFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	return factory(), nil
}

// Formats lists the registered formats, sorted
func Formats() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	out := make([]string, 0, len(codecFactories))
	for f := range codecFactories {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func unknownEvent(ev event.Event) error {
	return fmt.Errorf("unsupported event type %T", ev)
}
