package main

import (
	"math/rand"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/maxpert/geyser/event"
	"github.com/maxpert/geyser/plugin"
)

const (
	lamportsPerSignature = 5000
	maxAccountData       = 256
)

// SlotClock is the shared chain position. Workers read the current slot for
// accounts and transactions; slot records advance it.
// Thread-safe: atomic counters only.
type SlotClock struct {
	slot         uint64
	writeVersion uint64
}

func NewSlotClock(start uint64) *SlotClock {
	return &SlotClock{slot: start}
}

func (c *SlotClock) Current() uint64 {
	return atomic.LoadUint64(&c.slot)
}

// Advance moves to the next slot and returns it
func (c *SlotClock) Advance() uint64 {
	return atomic.AddUint64(&c.slot, 1)
}

func (c *SlotClock) NextWriteVersion() uint64 {
	return atomic.AddUint64(&c.writeVersion, 1)
}

// KindSelector selects callback kinds based on workload distribution.
// Not thread-safe; each worker owns one.
type KindSelector struct {
	thresholds [3]int
	rng        *rand.Rand
}

func NewKindSelector(dist WorkloadDistribution, rng *rand.Rand) *KindSelector {
	s := &KindSelector{rng: rng}
	s.thresholds[0] = dist.Account
	s.thresholds[1] = s.thresholds[0] + dist.Slot
	s.thresholds[2] = s.thresholds[1] + dist.Transaction
	return s
}

func (s *KindSelector) Select() event.Kind {
	r := s.rng.Intn(100)

	if r < s.thresholds[0] {
		return event.KindAccount
	}
	if r < s.thresholds[1] {
		return event.KindSlot
	}
	return event.KindTransaction
}

// Generator builds synthetic callback records. Not thread-safe; each worker
// owns one and shares the clock.
type Generator struct {
	clock     *SlotClock
	selector  *KindSelector
	owners    []solana.PublicKey
	deletePct int
	votePct   int
	rng       *rand.Rand
}

func NewGenerator(c *Config, clock *SlotClock, seed int64) *Generator {
	rng := rand.New(rand.NewSource(seed))
	return &Generator{
		clock:     clock,
		selector:  NewKindSelector(c.GetWorkloadDistribution(), rng),
		owners:    c.OwnerList(),
		deletePct: c.DeletePct,
		votePct:   c.VotePct,
		rng:       rng,
	}
}

// Next returns one record of a randomly selected kind
func (g *Generator) Next() (*plugin.Record, event.Kind) {
	kind := g.selector.Select()
	switch kind {
	case event.KindAccount:
		return &plugin.Record{Account: g.Account()}, kind
	case event.KindSlot:
		return &plugin.Record{Slot: g.Slot()}, kind
	default:
		return &plugin.Record{Transaction: g.Transaction()}, kind
	}
}

func (g *Generator) Account() *event.AccountUpdate {
	sig := g.signature()
	data := make([]byte, g.rng.Intn(maxAccountData+1))
	g.rng.Read(data)

	return &event.AccountUpdate{
		Slot:         g.clock.Current(),
		Pubkey:       g.pubkey(),
		Lamports:     uint64(g.rng.Int63n(1_000_000_000)) + 1,
		Owner:        g.owner(),
		RentEpoch:    uint64(g.rng.Intn(1000)),
		Data:         data,
		WriteVersion: g.clock.NextWriteVersion(),
		TxnSignature: &sig,
	}
}

func (g *Generator) Slot() *event.SlotStatus {
	slot := g.clock.Advance()
	return &event.SlotStatus{
		Slot:   slot,
		Parent: slot - 1,
		Status: event.SlotState(g.rng.Intn(3)),
	}
}

// Transaction builds a legacy transfer-style transaction: a fee payer, one to
// three writable accounts, and the owner program last. With deletePct, one
// writable account ends with a zero balance.
func (g *Generator) Transaction() *event.Transaction {
	sig := g.signature()
	writable := 1 + g.rng.Intn(3)

	keys := make([]solana.PublicKey, 0, writable+2)
	keys = append(keys, g.pubkey())
	for i := 0; i < writable; i++ {
		keys = append(keys, g.pubkey())
	}
	keys = append(keys, g.owner())

	pre := make([]uint64, len(keys))
	post := make([]uint64, len(keys))
	accounts := make([]uint32, 0, writable+1)
	for i := range keys[:len(keys)-1] {
		pre[i] = uint64(g.rng.Int63n(1_000_000_000)) + lamportsPerSignature
		post[i] = pre[i]
		accounts = append(accounts, uint32(i))
	}
	post[0] -= lamportsPerSignature
	pre[len(keys)-1], post[len(keys)-1] = 1, 1

	if g.rng.Intn(100) < g.deletePct {
		closed := 1 + g.rng.Intn(writable)
		post[0] += post[closed]
		post[closed] = 0
	}

	var blockhash solana.Hash
	g.rng.Read(blockhash[:])
	payload := make([]byte, 8)
	g.rng.Read(payload)

	return &event.Transaction{
		Signature: sig,
		IsVote:    g.rng.Intn(100) < g.votePct,
		Slot:      g.clock.Current(),
		Index:     uint64(g.rng.Intn(4096)),
		Transaction: event.SanitizedTransaction{
			Message: event.Message{
				Version: event.MessageLegacy,
				Header: event.MessageHeader{
					NumRequiredSignatures:       1,
					NumReadonlyUnsignedAccounts: 1,
				},
				StaticAccountKeys: keys,
				RecentBlockhash:   blockhash,
				Instructions: []event.CompiledInstruction{{
					ProgramIDIndex: uint32(len(keys) - 1),
					Accounts:       accounts,
					Data:           payload,
				}},
				IsWritableAccountCache: writableCache(len(keys)),
			},
			MessageHash: blockhash,
			Signatures:  []solana.Signature{sig},
		},
		Meta: event.TransactionStatusMeta{
			Fee:          lamportsPerSignature,
			PreBalances:  pre,
			PostBalances: post,
			LogMessages:  []string{"Program " + keys[len(keys)-1].String() + " success"},
		},
	}
}

func writableCache(n int) []bool {
	cache := make([]bool, n)
	for i := 0; i < n-1; i++ {
		cache[i] = true
	}
	return cache
}

func (g *Generator) owner() solana.PublicKey {
	return g.owners[g.rng.Intn(len(g.owners))]
}

// pubkey is random bytes rather than a derived keypair; nothing needs to sign
func (g *Generator) pubkey() solana.PublicKey {
	var pk solana.PublicKey
	g.rng.Read(pk[:])
	return pk
}

func (g *Generator) signature() solana.Signature {
	var sig solana.Signature
	g.rng.Read(sig[:])
	return sig
}
