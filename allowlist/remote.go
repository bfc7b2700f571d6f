package allowlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/geyser/telemetry"
	"github.com/rs/zerolog/log"
)

// maxDocumentBytes caps the size of a remote allow-list document
const maxDocumentBytes = 16 << 20

// FetchError is returned when the remote allow-list cannot be used.
// StatusCode is 0 for transport and decoding failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch allowlist from %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch allowlist from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// remoteDocument is the body served by the allow-list endpoint:
//
//	{"result": ["<base58 program id>", ...]}
type remoteDocument struct {
	Result *[]string `json:"result"`
}

// RemoteSource fetches allow-list snapshots over HTTP
type RemoteSource struct {
	name     string
	url      string
	auth     string
	interval uint64
	timeout  time.Duration
	client   *http.Client

	inFlight atomic.Bool
	// lastMarker is marker+1 of the last refresh launched, 0 before any
	lastMarker atomic.Uint64
}

func newRemoteSource(opts Options) *RemoteSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &RemoteSource{
		name:     opts.Name,
		url:      opts.URL,
		auth:     opts.Auth,
		interval: opts.SlotInterval,
		timeout:  timeout,
		client:   client,
	}
}

// Due reports whether marker falls on the refresh cadence
func (r *RemoteSource) Due(marker uint64) bool {
	return marker%r.interval == 0
}

// Fetch performs one blocking GET of the allow-list document. Ids that do not
// parse are skipped.
func (r *RemoteSource) Fetch(ctx context.Context) (Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, &FetchError{URL: r.url, Err: err}
	}
	if r.auth != "" {
		req.Header.Set("Authorization", r.auth)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: r.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentBytes))
		return nil, &FetchError{URL: r.url, StatusCode: resp.StatusCode}
	}

	var doc remoteDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(&doc); err != nil {
		return nil, &FetchError{URL: r.url, Err: fmt.Errorf("decode document: %w", err)}
	}
	if doc.Result == nil {
		return nil, &FetchError{URL: r.url, Err: errors.New("document has no result field")}
	}

	set := make(Set, len(*doc.Result))
	skipped := 0
	for _, p := range *doc.Result {
		id, err := solana.PublicKeyFromBase58(p)
		if err != nil {
			skipped++
			continue
		}
		set[id] = struct{}{}
	}
	if skipped > 0 {
		log.Debug().
			Str("environment", r.name).
			Int("skipped", skipped).
			Msg("Skipped invalid program ids in remote allowlist")
	}

	return set, nil
}

// RefreshIfDue launches a background refresh when marker is on the cadence
// and no refresh is in flight. It never blocks. The returned future resolves
// once the refresh finishes; ok is false when nothing was launched.
//
// A failed refresh leaves the current snapshot in place.
func (a *Allowlist) RefreshIfDue(marker uint64) (fut *future.Future[error], ok bool) {
	r := a.remote
	if r == nil || !r.Due(marker) {
		return nil, false
	}

	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, false
	}

	// Another caller may have refreshed this marker between our Due check
	// and the claim
	if r.lastMarker.Load() == marker+1 {
		r.inFlight.Store(false)
		return nil, false
	}
	r.lastMarker.Store(marker + 1)

	p := future.NewPromise[error]()
	go a.refresh(r, marker, p)
	return p.Future(), true
}

// Refreshing reports whether a refresh is in flight
func (a *Allowlist) Refreshing() bool {
	return a.remote != nil && a.remote.inFlight.Load()
}

func (a *Allowlist) refresh(r *RemoteSource, marker uint64, p *future.Promise[error]) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	log.Debug().
		Str("environment", a.name).
		Uint64("slot", marker).
		Msg("Refreshing remote allowlist")

	set, err := r.Fetch(ctx)
	if err != nil {
		r.inFlight.Store(false)
		telemetry.AllowlistRefreshTotal.With(a.name, "failed").Inc()
		log.Warn().
			Err(err).
			Str("environment", a.name).
			Uint64("slot", marker).
			Int("retained", a.Len()).
			Msg("Allowlist refresh failed, keeping previous list")
		p.Set(nil, err)
		return
	}

	a.store(set)
	r.inFlight.Store(false)
	telemetry.AllowlistRefreshTotal.With(a.name, "success").Inc()

	log.Debug().
		Str("environment", a.name).
		Uint64("slot", marker).
		Int("programs", len(set)).
		Dur("took", time.Since(start)).
		Msg("Refreshed remote allowlist")

	p.Set(nil, nil)
}
