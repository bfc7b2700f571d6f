// Package deletion infers account closures from transaction balances.
//
// The validator never emits an account update when an account is drained to
// zero lamports and reclaimed. A transaction whose post balance for an index
// is zero while its pre balance was not closed that account. The owner of
// the closed account is not recoverable from the transaction, so one event
// is produced per wanted, non-deleted account key of the transaction.
package deletion

import (
	"github.com/gagliardetto/solana-go"
	"github.com/maxpert/geyser/event"
	"github.com/maxpert/geyser/telemetry"
	"github.com/maxpert/geyser/writeversion"
	"github.com/rs/zerolog/log"
)

// WantsFunc reports whether some publisher wants accounts owned by owner
type WantsFunc func(owner solana.PublicKey) bool

// Synthesizer produces deleted-account updates. It has no state beyond the
// shared write_version counter.
type Synthesizer struct {
	versions *writeversion.Counter
}

// NewSynthesizer creates a synthesizer drawing write_versions from versions
func NewSynthesizer(versions *writeversion.Counter) *Synthesizer {
	return &Synthesizer{versions: versions}
}

// Synthesize returns the deleted-account updates for tx, nil if there are
// none. Every returned event carries the same write_version, reserved once
// per transaction.
func (s *Synthesizer) Synthesize(tx *event.Transaction, wants WantsFunc) []event.AccountUpdate {
	if tx == nil || tx.IsVote {
		return nil
	}

	zeroed := ZeroedIndexes(tx.Meta.PreBalances, tx.Meta.PostBalances)
	if len(zeroed) == 0 {
		return nil
	}

	keys := tx.AccountKeys()
	deleted := make([]solana.PublicKey, 0, len(zeroed))
	deletedSet := make(map[solana.PublicKey]struct{}, len(zeroed))
	for _, i := range zeroed {
		if i >= len(keys) {
			log.Debug().
				Stringer("signature", tx.Signature).
				Int("index", i).
				Int("account_keys", len(keys)).
				Msg("Zeroed balance index outside account keys, skipping")
			continue
		}
		if _, dup := deletedSet[keys[i]]; dup {
			continue
		}
		deletedSet[keys[i]] = struct{}{}
		deleted = append(deleted, keys[i])
	}
	if len(deleted) == 0 {
		return nil
	}

	owners := candidateOwners(keys, deletedSet, wants)
	if len(owners) == 0 {
		return nil
	}

	version := s.versions.Next()
	sig := tx.Signature

	out := make([]event.AccountUpdate, 0, len(deleted)*len(owners))
	for _, account := range deleted {
		for _, owner := range owners {
			out = append(out, event.AccountUpdate{
				Slot:         tx.Slot,
				Pubkey:       account,
				Lamports:     0,
				Owner:        owner,
				Executable:   false,
				RentEpoch:    0,
				Data:         []byte{},
				WriteVersion: version,
				TxnSignature: &sig,
			})
		}
	}

	telemetry.SyntheticDeletionsTotal.Add(float64(len(out)))
	log.Debug().
		Stringer("signature", tx.Signature).
		Int("deleted", len(deleted)).
		Int("owners", len(owners)).
		Uint64("write_version", version).
		Msg("Synthesized deleted accounts")

	return out
}

// ZeroedIndexes returns the indexes whose balance went from non-zero to
// zero. Post indexes without a pre balance are skipped.
func ZeroedIndexes(pre, post []uint64) []int {
	var out []int
	for i, after := range post {
		if after != 0 {
			continue
		}
		if i >= len(pre) {
			log.Debug().
				Int("index", i).
				Int("pre_balances", len(pre)).
				Int("post_balances", len(post)).
				Msg("Balance arrays differ in length, skipping index")
			continue
		}
		if pre[i] > 0 {
			out = append(out, i)
		}
	}
	return out
}

// candidateOwners returns the distinct wanted keys that were not deleted,
// in account-key order
func candidateOwners(keys []solana.PublicKey, deleted map[solana.PublicKey]struct{}, wants WantsFunc) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(keys))
	var out []solana.PublicKey
	for _, k := range keys {
		if _, gone := deleted[k]; gone {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if wants != nil && wants(k) {
			out = append(out, k)
		}
	}
	return out
}
