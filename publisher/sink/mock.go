package sink

import (
	"sync"
	"time"
)

// MockSink is a mock implementation of Sink for testing
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	CloseErr   error
	CloseDelay time.Duration // Close blocks this long before returning
	Closed     bool
	mu         sync.Mutex
}

// MockMessage represents a published message for testing
type MockMessage struct {
	Topic string
	Key   []byte
	Value []byte
}

// Publish records a message for later inspection in tests
func (m *MockSink) Publish(topic string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.Messages = append(m.Messages, MockMessage{
		Topic: topic,
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})

	return nil
}

// Close marks the sink closed after CloseDelay
func (m *MockSink) Close() error {
	if m.CloseDelay > 0 {
		time.Sleep(m.CloseDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return m.CloseErr
}

// Snapshot returns a copy of the recorded messages
func (m *MockSink) Snapshot() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.Messages...)
}

// IsClosed reports whether Close has completed
func (m *MockSink) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
