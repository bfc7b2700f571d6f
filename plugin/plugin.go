// Package plugin is the host-facing surface: the account, slot and
// transaction callbacks of the validator, fanned out to every configured
// publisher.
//
// Callbacks may be invoked concurrently. A failure on one publisher never
// stops delivery to the others; all failures of a callback are returned
// together as a *CallbackError.
package plugin

import (
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/deletion"
	"github.com/maxpert/geyser/event"
	"github.com/maxpert/geyser/publisher"
	"github.com/maxpert/geyser/telemetry"
	"github.com/maxpert/geyser/writeversion"
	"github.com/rs/zerolog/log"
)

// DefaultStatsInterval is how often sink transport stats are sampled
const DefaultStatsInterval = 10 * time.Second

// Plugin routes validator callbacks to publishers
type Plugin struct {
	config     *cfg.Configuration
	publishers []publisher.Publisher
	versions   *writeversion.Counter
	synth      *deletion.Synthesizer
	collector  *telemetry.MetricsCollector

	// callbacks hold the read lock; Close takes the write lock
	mu     sync.RWMutex
	closed bool
}

// New validates c and builds one publisher per environment. Remote
// allow-lists are fetched before New returns.
func New(c *cfg.Configuration) (*Plugin, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	pubs, err := publisher.NewPublishers(c)
	if err != nil {
		return nil, err
	}

	return NewWithPublishers(c, pubs), nil
}

// NewWithPublishers creates a plugin around already built publishers
func NewWithPublishers(c *cfg.Configuration, pubs []publisher.Publisher) *Plugin {
	versions := writeversion.NewCounter(0)
	p := &Plugin{
		config:     c,
		publishers: pubs,
		versions:   versions,
		synth:      deletion.NewSynthesizer(versions),
	}

	providers := make(map[string]telemetry.StatsProvider)
	for _, pub := range pubs {
		if sp, ok := pub.(telemetry.StatsProvider); ok {
			providers[pub.Name()] = sp
		}
	}
	if len(providers) > 0 {
		p.collector = telemetry.NewMetricsCollector(providers, DefaultStatsInterval)
		p.collector.Start()
	}

	log.Info().
		Int("publishers", len(pubs)).
		Bool("accounts", p.AccountDataNotificationsEnabled()).
		Bool("transactions", p.TransactionNotificationsEnabled()).
		Bool("synthesize_deleted_accounts", c.SynthesizeDeletedAccounts).
		Msg("Plugin loaded")

	return p
}

// WriteVersions returns the shared write_version counter
func (p *Plugin) WriteVersions() *writeversion.Counter {
	return p.versions
}

// UpdateAccount handles an account write. Startup snapshot updates and
// updates without a transaction signature are dropped unless configured.
func (p *Plugin) UpdateAccount(ev *event.AccountUpdate, isStartup bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrNotLoaded
	}
	if ev == nil {
		return errors.New("update account: nil event")
	}

	p.versions.Observe(ev.WriteVersion)

	if isStartup && !p.config.PublishAllAccounts {
		return nil
	}
	if ev.TxnSignature == nil && !p.config.PublishAccountsWithoutSignature {
		return nil
	}

	var errs []error
	delivered := 0
	for _, pub := range p.publishers {
		if !pub.Wants(event.KindAccount) || !pub.Filter().WantsAccountKey(ev.Owner) {
			continue
		}
		delivered++
		if err := pub.Publish(ev); err != nil {
			errs = append(errs, err)
		}
	}

	if delivered == 0 {
		log.Debug().
			Stringer("pubkey", ev.Pubkey).
			Stringer("owner", ev.Owner).
			Uint64("slot", ev.Slot).
			Msg("Ignoring account update")
	}

	return collect("update account", errs)
}

// UpdateSlotStatus handles a slot commitment change. It also drives the
// refresh cadence of remote allow-lists; refreshes never block the callback.
func (p *Plugin) UpdateSlotStatus(slot, parent uint64, status event.SlotState) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrNotLoaded
	}

	for _, pub := range p.publishers {
		if _, started := pub.Filter().Allowlist().RefreshIfDue(slot); started {
			log.Debug().
				Str("environment", pub.Name()).
				Uint64("slot", slot).
				Msg("Allowlist refresh started")
		}
	}

	ev := &event.SlotStatus{Slot: slot, Parent: parent, Status: status}

	var errs []error
	for _, pub := range p.publishers {
		if !pub.Wants(event.KindSlot) {
			continue
		}
		if err := pub.Publish(ev); err != nil {
			errs = append(errs, err)
		}
	}

	return collect("update slot status", errs)
}

// NotifyTransaction handles a processed transaction. A publisher receives
// the transaction when its filter wants any of the account keys. Deleted
// accounts are synthesized from the balance arrays and delivered like
// account updates.
func (p *Plugin) NotifyTransaction(tx *event.Transaction) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrNotLoaded
	}
	if tx == nil {
		return errors.New("notify transaction: nil transaction")
	}

	var errs []error
	keys := tx.AccountKeys()

	if !tx.IsVote || p.config.PublishVoteTransactions {
		for _, pub := range p.publishers {
			if !pub.Wants(event.KindTransaction) || !pub.Filter().WantsAnyKey(keys) {
				continue
			}
			if err := pub.Publish(tx); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if p.config.SynthesizeDeletedAccounts {
		errs = append(errs, p.publishDeletions(tx)...)
	}

	return collect("notify transaction", errs)
}

func (p *Plugin) publishDeletions(tx *event.Transaction) []error {
	var accountPubs []publisher.Publisher
	for _, pub := range p.publishers {
		if pub.Wants(event.KindAccount) {
			accountPubs = append(accountPubs, pub)
		}
	}
	if len(accountPubs) == 0 {
		return nil
	}

	wanted := func(owner solana.PublicKey) bool {
		for _, pub := range accountPubs {
			if pub.Filter().WantsAccountKey(owner) {
				return true
			}
		}
		return false
	}

	synthesized := p.synth.Synthesize(tx, wanted)

	var errs []error
	for i := range synthesized {
		ev := &synthesized[i]
		for _, pub := range accountPubs {
			if !pub.Filter().WantsAccountKey(ev.Owner) {
				continue
			}
			if err := pub.Publish(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// AccountDataNotificationsEnabled reports whether any publisher wants
// account updates
func (p *Plugin) AccountDataNotificationsEnabled() bool {
	return p.anyWants(event.KindAccount)
}

// TransactionNotificationsEnabled reports whether transaction callbacks are
// needed, either to publish them or to synthesize deletions
func (p *Plugin) TransactionNotificationsEnabled() bool {
	if p.anyWants(event.KindTransaction) {
		return true
	}
	return p.config.SynthesizeDeletedAccounts && p.anyWants(event.KindAccount)
}

func (p *Plugin) anyWants(kind event.Kind) bool {
	for _, pub := range p.publishers {
		if pub.Wants(kind) {
			return true
		}
	}
	return false
}

// Close waits for running callbacks, then closes every publisher in
// parallel, so unload is bounded by the slowest single shutdown timeout.
// Later callbacks return ErrNotLoaded.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	errs := make([]error, len(p.publishers))
	var wg sync.WaitGroup
	for i, pub := range p.publishers {
		wg.Add(1)
		go func(i int, pub publisher.Publisher) {
			defer wg.Done()
			errs[i] = pub.Close()
		}(i, pub)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}

	if p.collector != nil {
		p.collector.Stop()
	}

	log.Info().Int("errors", failed).Msg("Plugin unloaded")
	return errors.Join(errs...)
}
