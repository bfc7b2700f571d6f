package publisher

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/maxpert/geyser/allowlist"
	"github.com/maxpert/geyser/cfg"
)

// ProgramFilter decides which owners an environment publishes. A list that
// is empty and has no remote source falls back to the environment's
// empty_allowlist policy.
type ProgramFilter struct {
	list   *allowlist.Allowlist
	policy cfg.EmptyAllowlistPolicy
}

// NewProgramFilter wraps an existing allow-list. A nil list is an empty
// static one.
func NewProgramFilter(list *allowlist.Allowlist, policy cfg.EmptyAllowlistPolicy) *ProgramFilter {
	if list == nil {
		list = allowlist.NewStatic("")
	}
	return &ProgramFilter{list: list, policy: policy}
}

// NewProgramFilterFromConfig builds the allow-list of an environment. With a
// remote url this blocks on the initial fetch.
func NewProgramFilterFromConfig(env cfg.EnvironmentConfiguration) (*ProgramFilter, error) {
	list, err := allowlist.New(allowlist.Options{
		Name:         env.Name,
		Programs:     env.ProgramAllowlist,
		URL:          env.ProgramAllowlistURL,
		Auth:         env.ProgramAllowlistAuth,
		SlotInterval: env.ProgramAllowlistSlotInterval,
		Timeout:      time.Duration(env.ProgramAllowlistTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return NewProgramFilter(list, env.EmptyAllowlist), nil
}

// WantsAccountKey reports whether accounts owned by owner are published
func (f *ProgramFilter) WantsAccountKey(owner solana.PublicKey) bool {
	return f.wantsAccountBytes(owner[:])
}

// wantsAccountBytes is WantsAccountKey for raw owner bytes. Slices that are
// not 32 bytes long are never wanted.
func (f *ProgramFilter) wantsAccountBytes(owner []byte) bool {
	if len(owner) != solana.PublicKeyLength {
		return false
	}
	if f.usesPolicy() {
		return f.policy == cfg.EmptyAllowAll
	}
	return f.list.WantsBytes(owner)
}

// WantsAnyKey reports whether any of keys is wanted
func (f *ProgramFilter) WantsAnyKey(keys []solana.PublicKey) bool {
	for _, k := range keys {
		if f.WantsAccountKey(k) {
			return true
		}
	}
	return false
}

// Allowlist returns the underlying allow-list
func (f *ProgramFilter) Allowlist() *allowlist.Allowlist {
	return f.list
}

// Policy returns the empty allow-list policy
func (f *ProgramFilter) Policy() cfg.EmptyAllowlistPolicy {
	return f.policy
}

func (f *ProgramFilter) usesPolicy() bool {
	return !f.list.HasRemote() && f.list.IsEmpty()
}
