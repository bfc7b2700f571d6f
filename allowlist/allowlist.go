// Package allowlist maintains the set of program ids whose accounts are worth
// publishing.
//
// # Sources
//
// An Allowlist is built from a static list of base58 program ids, a remote
// URL, or both:
//
//   - Static only: the set is fixed for the life of the process.
//   - Remote: one blocking fetch at construction seeds the set (unioned with
//     the static list when present). Later refreshes are triggered through
//     RefreshIfDue and replace the whole set.
//
// # Thread Safety
//
// The member set is an immutable snapshot behind an atomic pointer. Readers
// never lock and always observe one complete snapshot. Refreshes build a new
// snapshot off to the side and swap it in only after a fetch fully succeeds,
// so a failed or slow refresh never changes what readers see.
//
// At most one refresh runs per Allowlist. The claim is an atomic flag taken
// with compare-and-swap and is always released, bounded by the HTTP client
// timeout.
package allowlist

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/maxpert/geyser/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultFetchTimeout bounds a single remote fetch, including the one at
// construction.
const DefaultFetchTimeout = 10 * time.Second

// Set is an immutable snapshot of program ids. Never mutate a Set obtained
// from an Allowlist.
type Set map[solana.PublicKey]struct{}

// Contains reports whether id is a member
func (s Set) Contains(id solana.PublicKey) bool {
	_, ok := s[id]
	return ok
}

// Options configures an Allowlist
type Options struct {
	Name         string        // Environment name, for logs and metrics
	Programs     []string      // Static base58 program ids (seed when URL is set)
	URL          string        // Remote allow-list document
	Auth         string        // Authorization header value for URL
	SlotInterval uint64        // Refresh when slot % SlotInterval == 0
	Timeout      time.Duration // Per-fetch timeout (default: DefaultFetchTimeout)
	HTTPClient   *http.Client  // Optional; Timeout is ignored when set
}

// Allowlist is a concurrently readable set of program ids with an optional
// remote refresh source.
type Allowlist struct {
	name    string
	members atomic.Pointer[Set]
	remote  *RemoteSource
}

// New creates an Allowlist. When opts.URL is set this performs one blocking
// fetch; it fails only if that fetch fails and there is no static seed to
// fall back to.
func New(opts Options) (*Allowlist, error) {
	seed := parsePrograms(opts.Name, opts.Programs)

	a := &Allowlist{name: opts.Name}

	if opts.URL == "" {
		a.store(seed)
		if found := a.SystemProgramsIn(); len(found) > 0 {
			log.Warn().
				Str("environment", opts.Name).
				Int("system_programs", len(found)).
				Msg("Static allowlist includes system programs, expect high account volume")
		}
		return a, nil
	}

	if opts.SlotInterval == 0 {
		return nil, fmt.Errorf("allowlist %q: slot interval must be > 0 when a url is configured", opts.Name)
	}

	remote := newRemoteSource(opts)
	a.remote = remote

	ctx, cancel := context.WithTimeout(context.Background(), remote.timeout)
	defer cancel()

	fetched, err := remote.Fetch(ctx)
	if err != nil {
		if len(seed) == 0 {
			return nil, fmt.Errorf("allowlist %q: initial fetch failed: %w", opts.Name, err)
		}
		log.Warn().
			Err(err).
			Str("environment", opts.Name).
			Int("seed", len(seed)).
			Msg("Initial allowlist fetch failed, starting from static list")
		fetched = make(Set, len(seed))
	}

	for id := range seed {
		fetched[id] = struct{}{}
	}
	a.store(fetched)

	log.Info().
		Str("environment", opts.Name).
		Int("programs", len(fetched)).
		Uint64("slot_interval", opts.SlotInterval).
		Msg("Loaded remote program allowlist")

	return a, nil
}

// NewStatic creates an Allowlist that never changes
func NewStatic(name string, programs ...solana.PublicKey) *Allowlist {
	set := make(Set, len(programs))
	for _, p := range programs {
		set[p] = struct{}{}
	}
	a := &Allowlist{name: name}
	a.store(set)
	return a
}

// Name returns the environment name the list belongs to
func (a *Allowlist) Name() string {
	return a.name
}

// Wants reports whether id is in the current snapshot
func (a *Allowlist) Wants(id solana.PublicKey) bool {
	return a.snapshot().Contains(id)
}

// WantsBytes is Wants for raw owner bytes. Anything that is not exactly 32
// bytes long is never a member.
func (a *Allowlist) WantsBytes(b []byte) bool {
	if len(b) != solana.PublicKeyLength {
		return false
	}
	return a.Wants(solana.PublicKeyFromBytes(b))
}

// Len returns the size of the current snapshot
func (a *Allowlist) Len() int {
	return len(a.snapshot())
}

// IsEmpty is Len() == 0
func (a *Allowlist) IsEmpty() bool {
	return a.Len() == 0
}

// HasRemote reports whether the list is refreshed from a URL
func (a *Allowlist) HasRemote() bool {
	return a.remote != nil
}

// Snapshot returns a copy of the current members
func (a *Allowlist) Snapshot() []solana.PublicKey {
	set := a.snapshot()
	out := make([]solana.PublicKey, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (a *Allowlist) snapshot() Set {
	p := a.members.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (a *Allowlist) store(set Set) {
	a.members.Store(&set)
	telemetry.AllowlistSize.With(a.name).Set(float64(len(set)))
}

// parsePrograms parses base58 ids, skipping (and logging) invalid entries
func parsePrograms(name string, programs []string) Set {
	set := make(Set, len(programs))
	for _, p := range programs {
		id, err := solana.PublicKeyFromBase58(p)
		if err != nil {
			log.Warn().
				Err(err).
				Str("environment", name).
				Str("program", p).
				Msg("Skipping invalid program id in allowlist")
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
