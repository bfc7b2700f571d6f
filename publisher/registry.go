package publisher

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/encoding"
	"github.com/rs/zerolog/log"
)

// SinkFactory creates the transport of a broker environment
type SinkFactory func(env cfg.EnvironmentConfiguration) (Sink, error)

var (
	sinkFactories = make(map[cfg.EnvironmentType]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for an environment type
func RegisterSink(envType cfg.EnvironmentType, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[envType] = factory
}

// SinkTypes lists the registered sink types, sorted
func SinkTypes() []cfg.EnvironmentType {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	out := make([]cfg.EnvironmentType, 0, len(sinkFactories))
	for t := range sinkFactories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func createSink(env cfg.EnvironmentConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[env.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s (is the sink package imported?)", env.Type)
	}

	return factory(env)
}

// NewPublisher builds the publisher of one environment around filter
func NewPublisher(c *cfg.Configuration, env cfg.EnvironmentConfiguration, filter *ProgramFilter) (Publisher, error) {
	routing, err := NewTopicRouting(c)
	if err != nil {
		return nil, err
	}

	if env.Type == cfg.EnvironmentHTTP {
		retries := 3
		if env.HTTP.MaxRetries != nil {
			retries = *env.HTTP.MaxRetries
		}
		return NewHTTPPublisher(HTTPConfig{
			Name:    env.Name,
			RootURL: env.URL,
			Routing: routing,
			Filter:  filter,
			Timeout: time.Duration(env.HTTP.TimeoutMS) * time.Millisecond,
			Retry: RetryPolicy{
				MaxRetries: retries,
				Initial:    time.Duration(env.HTTP.RetryInitialMS) * time.Millisecond,
				Max:        time.Duration(env.HTTP.RetryMaxMS) * time.Millisecond,
			},
		})
	}

	codec, err := encoding.NewCodec(c.Format)
	if err != nil {
		return nil, err
	}

	snk, err := createSink(env)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	pub, err := NewBrokerPublisher(BrokerConfig{
		Name:            env.Name,
		Type:            env.Type,
		Sink:            snk,
		Codec:           codec,
		Wrap:            c.WrapMessages,
		Routing:         routing,
		Keys:            NewKeyDeriver(ParseCluster(c.Cluster), c.WrapMessages),
		Filter:          filter,
		ShutdownTimeout: time.Duration(c.ShutdownTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		snk.Close()
		return nil, err
	}
	return pub, nil
}

// NewPublishers builds every configured environment. On error, publishers
// already built are closed.
func NewPublishers(c *cfg.Configuration) ([]Publisher, error) {
	pubs := make([]Publisher, 0, len(c.Environments))

	fail := func(err error) ([]Publisher, error) {
		for _, p := range pubs {
			if cerr := p.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		return nil, err
	}

	for _, env := range c.Environments {
		filter, err := NewProgramFilterFromConfig(env)
		if err != nil {
			return fail(fmt.Errorf("environment %q: %w", env.Name, err))
		}

		pub, err := NewPublisher(c, env, filter)
		if err != nil {
			return fail(fmt.Errorf("environment %q: %w", env.Name, err))
		}
		pubs = append(pubs, pub)

		log.Info().
			Str("environment", env.Name).
			Str("type", string(env.Type)).
			Int("programs", filter.Allowlist().Len()).
			Bool("remote_allowlist", filter.Allowlist().HasRemote()).
			Msg("Publisher initialized")
	}

	return pubs, nil
}
