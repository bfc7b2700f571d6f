package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/maxpert/geyser/allowlist"
	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/encoding"
	"github.com/maxpert/geyser/event"
	"github.com/maxpert/geyser/publisher"
	"github.com/maxpert/geyser/publisher/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *cfg.Configuration {
	c := cfg.Default()
	c.UpdateAccountTopic = "accounts"
	c.SlotStatusTopic = "slots"
	c.TransactionTopic = "transactions"
	return c
}

func newBroker(t *testing.T, c *cfg.Configuration, name string, list *allowlist.Allowlist, policy cfg.EmptyAllowlistPolicy) (*publisher.BrokerPublisher, *sink.MockSink) {
	t.Helper()

	routing, err := publisher.NewTopicRouting(c)
	require.NoError(t, err)

	mock := &sink.MockSink{}
	pub, err := publisher.NewBrokerPublisher(publisher.BrokerConfig{
		Name:    name,
		Type:    cfg.EnvironmentKafka,
		Sink:    mock,
		Codec:   encoding.ProtobufCodec{},
		Routing: routing,
		Keys:    publisher.NewKeyDeriver(publisher.ParseCluster(c.Cluster), c.WrapMessages),
		Filter:  publisher.NewProgramFilter(list, policy),
	})
	require.NoError(t, err)
	return pub, mock
}

func newTestPlugin(t *testing.T, c *cfg.Configuration, pubs ...publisher.Publisher) *Plugin {
	t.Helper()
	p := NewWithPublishers(c, pubs)
	t.Cleanup(func() { p.Close() })
	return p
}

func topics(msgs []sink.MockMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Topic
	}
	return out
}

func signed() *solana.Signature {
	sig := solana.Signature{1}
	return &sig
}

func TestUpdateAccount_FiltersByOwner(t *testing.T) {
	c := testConfig()
	owner := solana.NewWallet().PublicKey()
	pub, mock := newBroker(t, c, "prod", allowlist.NewStatic("prod", owner), cfg.EmptyAllowlistUnset)
	p := newTestPlugin(t, c, pub)

	require.NoError(t, p.UpdateAccount(&event.AccountUpdate{Owner: owner, WriteVersion: 7, TxnSignature: signed()}, false))
	require.NoError(t, p.UpdateAccount(&event.AccountUpdate{Owner: solana.NewWallet().PublicKey(), WriteVersion: 9, TxnSignature: signed()}, false))

	msgs := mock.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mainnet:"+owner.String(), string(msgs[0].Key))

	// Unpublished versions still move the counter
	assert.Equal(t, uint64(9), p.WriteVersions().Last())
}

func TestUpdateAccount_StartupAndUnsigned(t *testing.T) {
	c := testConfig()
	pub, mock := newBroker(t, c, "all", allowlist.NewStatic("all"), cfg.EmptyAllowAll)
	p := newTestPlugin(t, c, pub)

	ev := &event.AccountUpdate{Owner: solana.NewWallet().PublicKey(), TxnSignature: signed()}
	require.NoError(t, p.UpdateAccount(ev, true))
	require.NoError(t, p.UpdateAccount(&event.AccountUpdate{Owner: ev.Owner}, false))
	assert.Empty(t, mock.Snapshot())

	c.PublishAllAccounts = true
	c.PublishAccountsWithoutSignature = true
	require.NoError(t, p.UpdateAccount(ev, true))
	require.NoError(t, p.UpdateAccount(&event.AccountUpdate{Owner: ev.Owner}, false))
	assert.Len(t, mock.Snapshot(), 2)
}

func TestNotifyTransaction_SynthesizesDeletion(t *testing.T) {
	c := testConfig()
	a, b, cKey := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()

	interested, mockP := newBroker(t, c, "p", allowlist.NewStatic("p", a), cfg.EmptyAllowlistUnset)
	other, mockQ := newBroker(t, c, "q", allowlist.NewStatic("q"), cfg.EmptyDenyAll)
	p := newTestPlugin(t, c, interested, other)

	p.WriteVersions().Observe(1000)

	tx := &event.Transaction{
		Signature: solana.Signature{4, 2},
		Slot:      55,
		Transaction: event.SanitizedTransaction{
			Message: event.Message{StaticAccountKeys: []solana.PublicKey{a, b, cKey}},
		},
		Meta: event.TransactionStatusMeta{
			PreBalances:  []uint64{10, 5, 0},
			PostBalances: []uint64{10, 0, 0},
		},
	}
	require.NoError(t, p.NotifyTransaction(tx))

	msgs := mockP.Snapshot()
	assert.ElementsMatch(t, []string{"transactions", "accounts"}, topics(msgs))
	for _, m := range msgs {
		if m.Topic == "accounts" {
			assert.Equal(t, "mainnet:"+a.String(), string(m.Key), "synthetic event is keyed by the candidate owner")
		}
	}
	assert.Empty(t, mockQ.Snapshot())
	assert.Equal(t, uint64(1001), p.WriteVersions().Last())

	c.SynthesizeDeletedAccounts = false
	require.NoError(t, p.NotifyTransaction(tx))
	assert.Equal(t, []string{"transactions"}, topics(mockP.Snapshot()[2:]))
}

func TestNotifyTransaction_Votes(t *testing.T) {
	c := testConfig()
	a, b := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	pub, mock := newBroker(t, c, "p", allowlist.NewStatic("p", a), cfg.EmptyAllowlistUnset)
	p := newTestPlugin(t, c, pub)

	vote := &event.Transaction{
		IsVote: true,
		Transaction: event.SanitizedTransaction{
			Message: event.Message{StaticAccountKeys: []solana.PublicKey{a, b}},
		},
		Meta: event.TransactionStatusMeta{PreBalances: []uint64{5, 5}, PostBalances: []uint64{5, 0}},
	}

	require.NoError(t, p.NotifyTransaction(vote))
	assert.Empty(t, mock.Snapshot())

	c.PublishVoteTransactions = true
	require.NoError(t, p.NotifyTransaction(vote))
	assert.Equal(t, []string{"transactions"}, topics(mock.Snapshot()), "votes never synthesize deletions")
}

func TestNotifyTransaction_UnwantedKeys(t *testing.T) {
	c := testConfig()
	pub, mock := newBroker(t, c, "p", allowlist.NewStatic("p", solana.NewWallet().PublicKey()), cfg.EmptyAllowlistUnset)
	p := newTestPlugin(t, c, pub)

	tx := &event.Transaction{Transaction: event.SanitizedTransaction{
		Message: event.Message{StaticAccountKeys: []solana.PublicKey{solana.NewWallet().PublicKey()}},
	}}
	require.NoError(t, p.NotifyTransaction(tx))
	assert.Empty(t, mock.Snapshot())
}

func TestUpdateSlotStatus_PublishesAndRefreshes(t *testing.T) {
	var hits atomic.Int32
	program := solana.NewWallet().PublicKey()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `{"result":[%q]}`, program.String())
	}))
	defer srv.Close()

	list, err := allowlist.New(allowlist.Options{Name: "remote", URL: srv.URL, SlotInterval: 10})
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	c := testConfig()
	pub, mock := newBroker(t, c, "remote", list, cfg.EmptyAllowlistUnset)
	p := newTestPlugin(t, c, pub)

	require.NoError(t, p.UpdateSlotStatus(11, 10, event.SlotProcessed))
	require.NoError(t, p.UpdateSlotStatus(20, 19, event.SlotConfirmed))

	require.Eventually(t, func() bool { return hits.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"slots", "slots"}, topics(mock.Snapshot()))
	assert.Equal(t, []byte{20, 0, 0, 0, 0, 0, 0, 0}, mock.Snapshot()[1].Key)
}

func TestCallbackError_Aggregates(t *testing.T) {
	c := testConfig()
	first, mockA := newBroker(t, c, "a", allowlist.NewStatic("a"), cfg.EmptyAllowAll)
	second, mockB := newBroker(t, c, "b", allowlist.NewStatic("b"), cfg.EmptyAllowAll)
	third, mockC := newBroker(t, c, "c", allowlist.NewStatic("c"), cfg.EmptyAllowAll)

	errA := errors.New("broker a down")
	errB := errors.New("broker b down")
	mockA.PublishErr = errA
	mockB.PublishErr = errB
	p := newTestPlugin(t, c, first, second, third)

	err := p.UpdateSlotStatus(1, 0, event.SlotRooted)
	require.Error(t, err)

	var cbErr *CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Len(t, cbErr.Errs, 2)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), " | ")
	assert.True(t, strings.HasPrefix(err.Error(), "update slot status: "))

	assert.Len(t, mockC.Snapshot(), 1, "one failing publisher does not block the others")
}

func TestCapabilities(t *testing.T) {
	c := testConfig()
	c.UpdateAccountTopic = ""
	c.TransactionTopic = ""
	pub, _ := newBroker(t, c, "slots-only", allowlist.NewStatic("x"), cfg.EmptyAllowAll)
	p := newTestPlugin(t, c, pub)

	assert.False(t, p.AccountDataNotificationsEnabled())
	assert.False(t, p.TransactionNotificationsEnabled())

	c2 := testConfig()
	c2.TransactionTopic = ""
	pub2, _ := newBroker(t, c2, "accounts", allowlist.NewStatic("x"), cfg.EmptyAllowAll)
	p2 := newTestPlugin(t, c2, pub2)

	assert.True(t, p2.AccountDataNotificationsEnabled())
	assert.True(t, p2.TransactionNotificationsEnabled(), "synthesis needs transactions")

	c2.SynthesizeDeletedAccounts = false
	assert.False(t, p2.TransactionNotificationsEnabled())
}

func TestClose(t *testing.T) {
	c := testConfig()
	pub, mock := newBroker(t, c, "p", allowlist.NewStatic("p"), cfg.EmptyAllowAll)
	p := NewWithPublishers(c, []publisher.Publisher{pub})

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, mock.IsClosed())

	assert.ErrorIs(t, p.UpdateAccount(&event.AccountUpdate{}, false), ErrNotLoaded)
	assert.ErrorIs(t, p.UpdateSlotStatus(1, 0, event.SlotProcessed), ErrNotLoaded)
	assert.ErrorIs(t, p.NotifyTransaction(&event.Transaction{}), ErrNotLoaded)
}

func TestClose_PublishersInParallel(t *testing.T) {
	c := testConfig()
	var pubs []publisher.Publisher
	for _, name := range []string{"a", "b", "c"} {
		routing, err := publisher.NewTopicRouting(c)
		require.NoError(t, err)
		mock := &sink.MockSink{CloseDelay: time.Second}
		pub, err := publisher.NewBrokerPublisher(publisher.BrokerConfig{
			Name:            name,
			Type:            cfg.EnvironmentKafka,
			Sink:            mock,
			Codec:           encoding.ProtobufCodec{},
			Routing:         routing,
			Keys:            publisher.NewKeyDeriver(publisher.ParseCluster(c.Cluster), c.WrapMessages),
			Filter:          publisher.NewProgramFilter(allowlist.NewStatic(name), cfg.EmptyAllowAll),
			ShutdownTimeout: 200 * time.Millisecond,
		})
		require.NoError(t, err)
		pubs = append(pubs, pub)
	}
	p := NewWithPublishers(c, pubs)

	start := time.Now()
	err := p.Close()
	elapsed := time.Since(start)

	require.Error(t, err, "every sink outlives its timeout")
	for _, name := range []string{"a", "b", "c"} {
		assert.Contains(t, err.Error(), "environment "+name)
	}
	assert.Less(t, elapsed, 500*time.Millisecond, "close took %s", elapsed)
}

func TestNew_InvalidConfig(t *testing.T) {
	c := testConfig()
	_, err := New(c)
	assert.Error(t, err, "no environments")
}

func TestEnvironments(t *testing.T) {
	c := testConfig()
	c.TransactionTopic = ""
	program := solana.NewWallet().PublicKey()
	pub, _ := newBroker(t, c, "prod", allowlist.NewStatic("prod", program), cfg.EmptyAllowlistUnset)
	p := newTestPlugin(t, c, pub)

	envs := p.Environments()
	require.Len(t, envs, 1)
	assert.Equal(t, "prod", envs[0].Name)
	assert.Equal(t, "kafka", envs[0].Type)
	assert.Equal(t, []string{"account", "slot"}, envs[0].Kinds)
	assert.Equal(t, 1, envs[0].Programs)
	assert.False(t, envs[0].Remote)

	programs, ok := p.AllowlistPrograms("prod")
	require.True(t, ok)
	assert.Equal(t, []string{program.String()}, programs)

	_, ok = p.AllowlistPrograms("missing")
	assert.False(t, ok)
}

func TestReplay(t *testing.T) {
	c := testConfig()
	owner := solana.NewWallet().PublicKey()
	pub, mock := newBroker(t, c, "p", allowlist.NewStatic("p", owner), cfg.EmptyAllowlistUnset)
	p := newTestPlugin(t, c, pub)

	sig := solana.Signature{3}
	input := strings.Join([]string{
		fmt.Sprintf(`{"account":{"slot":1,"owner":%q,"pubkey":%q,"write_version":4,"txn_signature":%q}}`,
			owner, solana.NewWallet().PublicKey(), sig),
		``,
		`{"slot":{"slot":2,"parent":1,"status":"confirmed"}}`,
		`{}`,
	}, "\n")

	stats, err := p.Replay(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 1, stats.Failed, "empty record")
	assert.Equal(t, []string{"accounts", "slots"}, topics(mock.Snapshot()))

	_, err = p.Replay(context.Background(), strings.NewReader("not json\n"))
	assert.Error(t, err)
}
