package publisher

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/geyser/event"
	"github.com/mr-tron/base58"
)

// Wrapped record key prefixes, one per envelope arm
const (
	AccountKeyPrefix     byte = 'A'
	SlotKeyPrefix        byte = 'S'
	TransactionKeyPrefix byte = 'T'
)

// DefaultKeyCacheSize bounds the number of owners with a cached account key
const DefaultKeyCacheSize = 4096

// Cluster names the network in account keys
type Cluster string

const (
	ClusterMainnet Cluster = "mainnet"
	ClusterDevnet  Cluster = "devnet"
	ClusterTestnet Cluster = "testnet"
)

// ParseCluster maps well-known names case-insensitively. Anything else is a
// custom cluster and is kept verbatim: account keys read "<name>:<owner>",
// not "Custom(<name>):<owner>".
func ParseCluster(name string) Cluster {
	switch c := Cluster(strings.ToLower(name)); c {
	case ClusterMainnet, ClusterDevnet, ClusterTestnet:
		return c
	case "":
		return ClusterMainnet
	default:
		return Cluster(name)
	}
}

func (c Cluster) String() string { return string(c) }

// AccountKey returns "<cluster>:<base58 program id>"
func (c Cluster) AccountKey(owner []byte) string {
	return c.String() + ":" + base58.Encode(owner)
}

// KeyDeriver computes broker record keys
type KeyDeriver struct {
	cluster  Cluster
	wrap     bool
	accounts *lru.Cache[solana.PublicKey, []byte]
}

// NewKeyDeriver creates a deriver. With wrap set every key carries the
// prefix byte of its envelope arm.
func NewKeyDeriver(cluster Cluster, wrap bool) *KeyDeriver {
	cache, err := lru.New[solana.PublicKey, []byte](DefaultKeyCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &KeyDeriver{cluster: cluster, wrap: wrap, accounts: cache}
}

// Key returns the record key for ev. The returned slice must not be
// modified.
func (k *KeyDeriver) Key(ev event.Event) ([]byte, error) {
	switch e := ev.(type) {
	case *event.AccountUpdate:
		return k.AccountKey(e.Owner), nil
	case *event.SlotStatus:
		return k.SlotKey(e.Slot), nil
	case *event.Transaction:
		return k.TransactionKey(e.Signature), nil
	default:
		return nil, fmt.Errorf("no key for event %T", ev)
	}
}

// AccountKey returns the key shared by every account of owner
func (k *KeyDeriver) AccountKey(owner solana.PublicKey) []byte {
	if key, ok := k.accounts.Get(owner); ok {
		return key
	}

	s := k.cluster.AccountKey(owner[:])
	key := k.prefixed(AccountKeyPrefix, len(s))
	key = append(key, s...)
	k.accounts.Add(owner, key)
	return key
}

// SlotKey returns the 8-byte little-endian slot
func (k *KeyDeriver) SlotKey(slot uint64) []byte {
	key := k.prefixed(SlotKeyPrefix, 8)
	return binary.LittleEndian.AppendUint64(key, slot)
}

// TransactionKey returns the raw signature bytes
func (k *KeyDeriver) TransactionKey(sig solana.Signature) []byte {
	key := k.prefixed(TransactionKeyPrefix, len(sig))
	return append(key, sig[:]...)
}

func (k *KeyDeriver) prefixed(prefix byte, n int) []byte {
	if !k.wrap {
		return make([]byte, 0, n)
	}
	key := make([]byte, 0, n+1)
	return append(key, prefix)
}
