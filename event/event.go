// Package event holds the validator notifications routed by the publisher.
// These types are shared between the plugin, deletion and publisher packages.
package event

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Kind identifies the class of an event
type Kind uint8

const (
	KindAccount Kind = iota
	KindSlot
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindSlot:
		return "slot"
	case KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Event is implemented by *AccountUpdate, *SlotStatus and *Transaction only
type Event interface {
	Kind() Kind
	event()
}

// AccountUpdate is a write to a single account
type AccountUpdate struct {
	Slot         uint64            `json:"slot" msgpack:"slot"`
	Pubkey       solana.PublicKey  `json:"pubkey" msgpack:"pubkey"`
	Lamports     uint64            `json:"lamports" msgpack:"lamports"`
	Owner        solana.PublicKey  `json:"owner" msgpack:"owner"`
	Executable   bool              `json:"executable" msgpack:"executable"`
	RentEpoch    uint64            `json:"rent_epoch" msgpack:"rent_epoch"`
	Data         []byte            `json:"data" msgpack:"data"`
	WriteVersion uint64            `json:"write_version" msgpack:"write_version"`
	TxnSignature *solana.Signature `json:"txn_signature,omitempty" msgpack:"txn_signature,omitempty"`
}

func (*AccountUpdate) Kind() Kind { return KindAccount }
func (*AccountUpdate) event()     {}

// SlotState is the commitment level of a slot. Values match the wire enum.
type SlotState int32

const (
	SlotProcessed SlotState = 0
	SlotRooted    SlotState = 1
	SlotConfirmed SlotState = 2
)

func (s SlotState) String() string {
	switch s {
	case SlotProcessed:
		return "processed"
	case SlotRooted:
		return "rooted"
	case SlotConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name for human-readable encodings
func (s SlotState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SlotState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "processed":
		*s = SlotProcessed
	case "rooted":
		*s = SlotRooted
	case "confirmed":
		*s = SlotConfirmed
	default:
		return fmt.Errorf("unknown slot status %q", text)
	}
	return nil
}

// SlotStatus is a slot commitment transition. Parent is 0 when unknown.
type SlotStatus struct {
	Slot   uint64    `json:"slot" msgpack:"slot"`
	Parent uint64    `json:"parent" msgpack:"parent"`
	Status SlotState `json:"status" msgpack:"status"`
}

func (*SlotStatus) Kind() Kind { return KindSlot }
func (*SlotStatus) event()     {}

// Transaction is a processed transaction with its status metadata
type Transaction struct {
	Signature   solana.Signature      `json:"signature" msgpack:"signature"`
	IsVote      bool                  `json:"is_vote" msgpack:"is_vote"`
	Slot        uint64                `json:"slot" msgpack:"slot"`
	Index       uint64                `json:"index" msgpack:"index"`
	Transaction SanitizedTransaction  `json:"transaction" msgpack:"transaction"`
	Meta        TransactionStatusMeta `json:"transaction_status_meta" msgpack:"transaction_status_meta"`
}

func (*Transaction) Kind() Kind { return KindTransaction }
func (*Transaction) event()     {}

// AccountKeys returns every account key the balance arrays index into
func (t *Transaction) AccountKeys() []solana.PublicKey {
	return t.Transaction.Message.AccountKeys()
}
