package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/encoding"
	"github.com/maxpert/geyser/event"
	"github.com/rs/zerolog/log"
)

// HTTPConfig configures an HTTPPublisher
type HTTPConfig struct {
	Name    string         // Environment name
	RootURL string         // Events are POSTed to RootURL/<topic>
	Routing *TopicRouting  // Per-kind topic, used as the request path
	Filter  *ProgramFilter // Program allow-list filter
	Timeout time.Duration  // Per-request timeout
	Retry   RetryPolicy    // Backoff for transient failures
	Client  *http.Client   // Optional; Timeout is ignored when set
}

// HTTPPublisher POSTs each event as JSON to a local endpoint
type HTTPPublisher struct {
	config    HTTPConfig
	client    *http.Client
	codec     encoding.Codec
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewHTTPPublisher creates a publisher for the root url
func NewHTTPPublisher(config HTTPConfig) (*HTTPPublisher, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if config.RootURL == "" {
		return nil, fmt.Errorf("root url is required")
	}
	if config.Routing == nil {
		return nil, fmt.Errorf("routing is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	config.RootURL = strings.TrimRight(config.RootURL, "/")

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &HTTPPublisher{
		config: config,
		client: client,
		codec:  encoding.JSONCodec{},
		stopCh: make(chan struct{}),
	}, nil
}

func (h *HTTPPublisher) publisher() {}

func (h *HTTPPublisher) Name() string              { return h.config.Name }
func (h *HTTPPublisher) Type() cfg.EnvironmentType { return cfg.EnvironmentHTTP }
func (h *HTTPPublisher) Filter() *ProgramFilter    { return h.config.Filter }

// Wants reports whether kind has a path
func (h *HTTPPublisher) Wants(kind event.Kind) bool {
	return h.config.Routing.Wants(kind)
}

// URL returns the endpoint events of kind are POSTed to
func (h *HTTPPublisher) URL(kind event.Kind) string {
	return h.config.RootURL + "/" + strings.TrimLeft(h.config.Routing.Topic(kind), "/")
}

// Publish POSTs ev, retrying transient failures
func (h *HTTPPublisher) Publish(ev event.Event) error {
	if ev == nil {
		return fmt.Errorf("environment %s: nil event", h.config.Name)
	}
	if !h.Wants(ev.Kind()) {
		return nil
	}

	payload, err := h.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("environment %s: failed to encode %s event: %w", h.config.Name, ev.Kind(), err)
	}

	url := h.URL(ev.Kind())
	start := time.Now()
	err = withRetry(h.config.Name, url, h.config.Retry, h.stopCh, func() error {
		return h.post(url, payload)
	})
	observePublish(h.config.Name, ev.Kind(), start, err)
	if err != nil {
		return fmt.Errorf("environment %s: %w", h.config.Name, err)
	}

	log.Debug().
		Str("environment", h.config.Name).
		Str("url", url).
		Msg("Published event")
	return nil
}

func (h *HTTPPublisher) post(url string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	err = fmt.Errorf("POST %s: unexpected status %d", url, resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return permanent(err)
}

// Close stops pending retries
func (h *HTTPPublisher) Close() error {
	h.closeOnce.Do(func() {
		close(h.stopCh)
		h.client.CloseIdleConnections()
	})
	return nil
}
