// Package writeversion tracks the highest account write_version seen so that
// synthesized account updates can be ordered after every real one.
package writeversion

import "sync"

// Counter is a monotonic write_version source shared by the account update
// path and the deletion synthesizer. It has its own lock so it never contends
// with allow-list reads.
type Counter struct {
	last uint64
	mu   sync.Mutex
}

// NewCounter creates a counter whose first Next returns start+1
func NewCounter(start uint64) *Counter {
	return &Counter{last: start}
}

// Observe records a write_version published by the validator
func (c *Counter) Observe(version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version > c.last {
		c.last = version
	}
}

// Next reserves a write_version strictly greater than every value observed
// or reserved so far.
func (c *Counter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last++
	return c.last
}

// Last returns the highest value observed or reserved
func (c *Counter) Last() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
