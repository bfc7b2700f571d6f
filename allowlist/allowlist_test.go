package allowlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sysvarID = "Sysvar1111111111111111111111111111111111111"
	voteID   = "Vote111111111111111111111111111111111111111"
	wormID   = "WormT3McKhFJ2RkiGpdw9GKvNCrB2aB54gb2uV9MfQC"
	serumID  = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

var (
	sysvar = solana.MustPublicKeyFromBase58(sysvarID)
	vote   = solana.MustPublicKeyFromBase58(voteID)
	worm   = solana.MustPublicKeyFromBase58(wormID)
	serum  = solana.MustPublicKeyFromBase58(serumID)
)

// allowlistServer serves a swappable allow-list document and counts hits
type allowlistServer struct {
	*httptest.Server
	mu     sync.Mutex
	body   string
	status int
	hits   atomic.Int32
	auth   atomic.Value
	block  chan struct{}
}

func newAllowlistServer(t *testing.T, body string) *allowlistServer {
	s := &allowlistServer{body: body, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.auth.Store(r.Header.Get("Authorization"))

		s.mu.Lock()
		body, status, block := s.body, s.status, s.block
		s.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *allowlistServer) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

func (s *allowlistServer) blockUntil(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = ch
}

func waitRefresh(t *testing.T, a *Allowlist, marker uint64) error {
	t.Helper()
	fut, ok := a.RefreshIfDue(marker)
	require.True(t, ok, "expected refresh to launch at marker %d", marker)
	_, err := fut.Get()
	return err
}

func TestNew_Static(t *testing.T) {
	a, err := New(Options{Name: "test", Programs: []string{sysvarID, voteID}})
	require.NoError(t, err)

	assert.Equal(t, 2, a.Len())
	assert.True(t, a.Wants(sysvar))
	assert.True(t, a.Wants(vote))
	assert.False(t, a.Wants(serum))
	assert.False(t, a.HasRemote())
}

func TestNew_StaticSkipsInvalidIDs(t *testing.T) {
	a, err := New(Options{Name: "test", Programs: []string{sysvarID, "not-base58-0OIl", "abc"}})
	require.NoError(t, err)

	assert.Equal(t, 1, a.Len())
	assert.True(t, a.Wants(sysvar))
}

func TestWants_MembershipMatchesStaticList(t *testing.T) {
	members := []solana.PublicKey{}
	for i := 0; i < 20; i++ {
		members = append(members, solana.NewWallet().PublicKey())
	}
	a := NewStatic("test", members...)

	for _, m := range members {
		assert.True(t, a.Wants(m))
		assert.True(t, a.WantsBytes(m.Bytes()))
	}
	for i := 0; i < 20; i++ {
		assert.False(t, a.Wants(solana.NewWallet().PublicKey()))
	}
}

func TestWantsBytes_WrongLength(t *testing.T) {
	a := NewStatic("test", sysvar)
	assert.False(t, a.WantsBytes(sysvar.Bytes()[:31]))
	assert.False(t, a.WantsBytes(nil))
}

func TestNew_RemoteUnionsSeed(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":["`+sysvarID+`","`+voteID+`"]}`)

	a, err := New(Options{
		Name:         "test",
		URL:          srv.URL + "/allowlist.txt",
		SlotInterval: 5,
		Programs:     []string{wormID},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, a.Len())
	assert.True(t, a.Wants(worm))
	assert.True(t, a.Wants(sysvar))
	assert.True(t, a.Wants(vote))
	assert.False(t, a.Wants(serum))
	assert.True(t, a.HasRemote())
}

func TestNew_RemoteSendsAuthHeader(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":[]}`)

	_, err := New(Options{
		Name:         "test",
		URL:          srv.URL,
		Auth:         "Bearer my_long_secret_token",
		SlotInterval: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer my_long_secret_token", srv.auth.Load())
}

func TestNew_RemoteRequiresSlotInterval(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":[]}`)

	_, err := New(Options{Name: "test", URL: srv.URL})
	assert.Error(t, err)
	assert.Zero(t, srv.hits.Load())
}

func TestNew_RemoteFailureWithoutSeed(t *testing.T) {
	srv := newAllowlistServer(t, "")
	srv.respond(http.StatusInternalServerError, "boom")

	_, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 5})
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
}

func TestNew_RemoteFailureFallsBackToSeed(t *testing.T) {
	srv := newAllowlistServer(t, "")
	srv.respond(http.StatusUnauthorized, "")

	a, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 5, Programs: []string{wormID}})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
	assert.True(t, a.Wants(worm))
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"result":[]}`},
		{"no content", http.StatusNoContent, ``},
		{"malformed json", http.StatusOK, `{"result":[`},
		{"missing result", http.StatusOK, `{"programs":[]}`},
		{"wrong type", http.StatusOK, `{"result":"` + sysvarID + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAllowlistServer(t, tt.body)
			srv.respond(tt.status, tt.body)

			r := newRemoteSource(Options{Name: "test", URL: srv.URL, SlotInterval: 1})
			_, err := r.Fetch(testContext(t))

			var fetchErr *FetchError
			assert.ErrorAs(t, err, &fetchErr)
		})
	}
}

func TestFetch_UnreachableServer(t *testing.T) {
	srv := newAllowlistServer(t, "")
	url := srv.URL
	srv.Close()

	r := newRemoteSource(Options{Name: "test", URL: url, SlotInterval: 1, Timeout: time.Second})
	_, err := r.Fetch(testContext(t))

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.StatusCode)
	assert.NotNil(t, fetchErr.Unwrap())
}

func TestFetch_SkipsMalformedIDs(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":["`+sysvarID+`","zzz","","`+voteID+`"]}`)

	r := newRemoteSource(Options{Name: "test", URL: srv.URL, SlotInterval: 1})
	set, err := r.Fetch(testContext(t))
	require.NoError(t, err)

	assert.Len(t, set, 2)
	assert.True(t, set.Contains(sysvar))
	assert.True(t, set.Contains(vote))
}

func TestRemoteSource_Due(t *testing.T) {
	r := newRemoteSource(Options{URL: "http://unused", SlotInterval: 5})

	assert.False(t, r.Due(1))
	assert.True(t, r.Due(5))
	assert.False(t, r.Due(9))
	assert.True(t, r.Due(10))
}

func TestRefreshIfDue_StaticNeverRefreshes(t *testing.T) {
	a := NewStatic("test", sysvar)
	_, ok := a.RefreshIfDue(0)
	assert.False(t, ok)
	assert.False(t, a.Refreshing())
}

func TestRefreshIfDue_FollowsCadence(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":[]}`)

	a, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, a.Len())

	srv.respond(http.StatusOK, `{"result":["`+sysvarID+`","`+voteID+`"]}`)

	// Off-cadence slot does nothing
	_, ok := a.RefreshIfDue(7)
	assert.False(t, ok)
	assert.False(t, a.Refreshing())
	assert.Equal(t, 0, a.Len())
	assert.False(t, a.Wants(sysvar))

	require.NoError(t, waitRefresh(t, a, 10))
	assert.False(t, a.Refreshing())
	assert.Equal(t, 2, a.Len())
	assert.True(t, a.Wants(sysvar))

	srv.respond(http.StatusOK, `{"result":["`+sysvarID+`","`+voteID+`","`+wormID+`"]}`)

	_, ok = a.RefreshIfDue(13)
	assert.False(t, ok)
	assert.Equal(t, 2, a.Len())
	assert.False(t, a.Wants(worm))

	require.NoError(t, waitRefresh(t, a, 15))
	assert.Equal(t, 3, a.Len())
	assert.True(t, a.Wants(worm))
}

func TestRefresh_FailureKeepsSnapshot(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":["`+sysvarID+`","`+voteID+`"]}`)

	a, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 1})
	require.NoError(t, err)
	before := a.Snapshot()

	for i, resp := range []struct {
		status int
		body   string
	}{
		{http.StatusBadGateway, ""},
		{http.StatusOK, "not json"},
		{http.StatusOK, `{}`},
	} {
		srv.respond(resp.status, resp.body)
		err := waitRefresh(t, a, uint64(i+1))
		assert.Error(t, err)
		assert.ElementsMatch(t, before, a.Snapshot())
		assert.False(t, a.Refreshing())
	}
}

func TestRefresh_ReplacesWholeSet(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":["`+sysvarID+`"]}`)

	// Seed is unioned once, at construction only
	a, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 1, Programs: []string{wormID}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []solana.PublicKey{sysvar, worm}, a.Snapshot())

	srv.respond(http.StatusOK, `{"result":["`+voteID+`"]}`)
	require.NoError(t, waitRefresh(t, a, 1))
	assert.ElementsMatch(t, []solana.PublicKey{vote}, a.Snapshot())

	srv.respond(http.StatusOK, `{"result":["`+serumID+`","`+sysvarID+`"]}`)
	require.NoError(t, waitRefresh(t, a, 2))
	assert.ElementsMatch(t, []solana.PublicKey{serum, sysvar}, a.Snapshot())
}

func TestRefresh_SingleFlight(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":[]}`)

	a, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 1})
	require.NoError(t, err)
	require.Equal(t, int32(1), srv.hits.Load())

	release := make(chan struct{})
	srv.blockUntil(release)
	srv.respond(http.StatusOK, `{"result":["`+sysvarID+`"]}`)

	first, ok := a.RefreshIfDue(100)
	require.True(t, ok)
	require.True(t, a.Refreshing())

	var launched atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(marker uint64) {
			defer wg.Done()
			if _, ok := a.RefreshIfDue(marker); ok {
				launched.Add(1)
			}
		}(uint64(100 + i))
	}
	wg.Wait()

	assert.Zero(t, launched.Load(), "no refresh may launch while one is in flight")

	srv.blockUntil(nil)
	close(release)
	_, err = first.Get()
	require.NoError(t, err)

	assert.Equal(t, int32(2), srv.hits.Load())
	assert.True(t, a.Wants(sysvar))
	assert.False(t, a.Refreshing())
}

func TestRefresh_SameMarkerRunsOnce(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":[]}`)

	a, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 10})
	require.NoError(t, err)

	require.NoError(t, waitRefresh(t, a, 20))

	// The marker was already refreshed, so a late caller does not fetch again
	_, ok := a.RefreshIfDue(20)
	assert.False(t, ok)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestRefresh_TimeoutReleasesClaim(t *testing.T) {
	srv := newAllowlistServer(t, `{"result":["`+sysvarID+`"]}`)

	a, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 1, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	hang := make(chan struct{})
	defer close(hang)
	srv.blockUntil(hang)

	err = waitRefresh(t, a, 1)
	require.Error(t, err)
	assert.False(t, a.Refreshing())
	assert.True(t, a.Wants(sysvar))

	// Next cadence tick can refresh again
	srv.blockUntil(nil)
	srv.respond(http.StatusOK, `{"result":["`+voteID+`"]}`)
	require.NoError(t, waitRefresh(t, a, 2))
	assert.True(t, a.Wants(vote))
}

func TestRefresh_ReadersNeverSeePartialSet(t *testing.T) {
	setA := `{"result":["` + sysvarID + `","` + voteID + `"]}`
	setB := `{"result":["` + wormID + `","` + serumID + `"]}`
	srv := newAllowlistServer(t, setA)

	a, err := New(Options{Name: "test", URL: srv.URL, SlotInterval: 1})
	require.NoError(t, err)

	stop := make(chan struct{})
	var bad atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := a.snapshot()
				inA := snap.Contains(sysvar) && snap.Contains(vote)
				inB := snap.Contains(worm) && snap.Contains(serum)
				if len(snap) != 2 || inA == inB {
					bad.Add(1)
				}
			}
		}()
	}

	for i := 1; i <= 20; i++ {
		if i%2 == 0 {
			srv.respond(http.StatusOK, setA)
		} else {
			srv.respond(http.StatusOK, setB)
		}
		require.NoError(t, waitRefresh(t, a, uint64(i)))
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, bad.Load())
	assert.ElementsMatch(t, []solana.PublicKey{sysvar, vote}, a.Snapshot())
}

func TestSystemProgramsIn(t *testing.T) {
	a := NewStatic("test", sysvar, worm, vote)
	assert.ElementsMatch(t, []solana.PublicKey{sysvar, vote}, a.SystemProgramsIn())
	assert.True(t, IsSystemProgram(solana.SystemProgramID))
	assert.False(t, IsSystemProgram(worm))
}

// testContext mirrors testing.T.Context (Go 1.24+): a context canceled
// just before the test's Cleanup-registered functions run.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
