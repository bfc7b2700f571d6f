package event

import (
	"github.com/gagliardetto/solana-go"
)

// MessageVersion distinguishes legacy messages from versioned (v0) ones
type MessageVersion uint8

const (
	MessageLegacy MessageVersion = 0
	MessageV0     MessageVersion = 1
)

// SanitizedTransaction is the signed transaction as seen by the validator
type SanitizedTransaction struct {
	Message                 Message            `json:"message" msgpack:"message"`
	MessageHash             solana.Hash        `json:"message_hash" msgpack:"message_hash"`
	IsSimpleVoteTransaction bool               `json:"is_simple_vote_transaction" msgpack:"is_simple_vote_transaction"`
	Signatures              []solana.Signature `json:"signatures" msgpack:"signatures"`
}

// Message covers both legacy and v0 messages.
// LoadedAddresses and AddressTableLookups are only set for v0.
type Message struct {
	Version                MessageVersion              `json:"version" msgpack:"version"`
	Header                 MessageHeader               `json:"header" msgpack:"header"`
	StaticAccountKeys      []solana.PublicKey          `json:"account_keys" msgpack:"account_keys"`
	RecentBlockhash        solana.Hash                 `json:"recent_block_hash" msgpack:"recent_block_hash"`
	Instructions           []CompiledInstruction       `json:"instructions" msgpack:"instructions"`
	AddressTableLookups    []MessageAddressTableLookup `json:"address_table_lookup,omitempty" msgpack:"address_table_lookup,omitempty"`
	LoadedAddresses        *LoadedAddresses            `json:"loaded_addresses,omitempty" msgpack:"loaded_addresses,omitempty"`
	IsWritableAccountCache []bool                      `json:"is_writable_account_cache" msgpack:"is_writable_account_cache"`
}

// AccountKeys returns static keys followed, for v0, by loaded writable then
// loaded readonly addresses. This is the order balances are reported in.
func (m *Message) AccountKeys() []solana.PublicKey {
	if m.Version != MessageV0 || m.LoadedAddresses == nil {
		return m.StaticAccountKeys
	}
	keys := make([]solana.PublicKey, 0, len(m.StaticAccountKeys)+
		len(m.LoadedAddresses.Writable)+len(m.LoadedAddresses.Readonly))
	keys = append(keys, m.StaticAccountKeys...)
	keys = append(keys, m.LoadedAddresses.Writable...)
	keys = append(keys, m.LoadedAddresses.Readonly...)
	return keys
}

type MessageHeader struct {
	NumRequiredSignatures       uint32 `json:"num_required_signatures" msgpack:"num_required_signatures"`
	NumReadonlySignedAccounts   uint32 `json:"num_readonly_signed_accounts" msgpack:"num_readonly_signed_accounts"`
	NumReadonlyUnsignedAccounts uint32 `json:"num_readonly_unsigned_accounts" msgpack:"num_readonly_unsigned_accounts"`
}

type CompiledInstruction struct {
	ProgramIDIndex uint32   `json:"program_id_index" msgpack:"program_id_index"`
	Accounts       []uint32 `json:"accounts" msgpack:"accounts"`
	Data           []byte   `json:"data" msgpack:"data"`
}

type MessageAddressTableLookup struct {
	AccountKey      solana.PublicKey `json:"account_key" msgpack:"account_key"`
	WritableIndexes []uint32         `json:"writable_indexes" msgpack:"writable_indexes"`
	ReadonlyIndexes []uint32         `json:"readonly_indexes" msgpack:"readonly_indexes"`
}

type LoadedAddresses struct {
	Writable []solana.PublicKey `json:"writable" msgpack:"writable"`
	Readonly []solana.PublicKey `json:"readonly" msgpack:"readonly"`
}

// TransactionStatusMeta is the execution result of a transaction
type TransactionStatusMeta struct {
	IsStatusErr       bool                      `json:"is_status_err" msgpack:"is_status_err"`
	ErrorInfo         string                    `json:"error_info" msgpack:"error_info"`
	Fee               uint64                    `json:"fee" msgpack:"fee"`
	PreBalances       []uint64                  `json:"pre_balances" msgpack:"pre_balances"`
	PostBalances      []uint64                  `json:"post_balances" msgpack:"post_balances"`
	InnerInstructions []InnerInstructions       `json:"inner_instructions" msgpack:"inner_instructions"`
	LogMessages       []string                  `json:"log_messages" msgpack:"log_messages"`
	PreTokenBalances  []TransactionTokenBalance `json:"pre_token_balances" msgpack:"pre_token_balances"`
	PostTokenBalances []TransactionTokenBalance `json:"post_token_balances" msgpack:"post_token_balances"`
	Rewards           []Reward                  `json:"rewards" msgpack:"rewards"`
}

type InnerInstructions struct {
	Index        uint32             `json:"index" msgpack:"index"`
	Instructions []InnerInstruction `json:"instructions" msgpack:"instructions"`
}

type InnerInstruction struct {
	Instruction CompiledInstruction `json:"instruction" msgpack:"instruction"`
	StackHeight *uint32             `json:"stack_height,omitempty" msgpack:"stack_height,omitempty"`
}

type UiTokenAmount struct {
	UiAmount       *float64 `json:"ui_amount,omitempty" msgpack:"ui_amount,omitempty"`
	Decimals       uint32   `json:"decimals" msgpack:"decimals"`
	Amount         string   `json:"amount" msgpack:"amount"`
	UiAmountString string   `json:"ui_amount_string" msgpack:"ui_amount_string"`
}

type TransactionTokenBalance struct {
	AccountIndex   uint32        `json:"account_index" msgpack:"account_index"`
	Mint           string        `json:"mint" msgpack:"mint"`
	UiTokenAccount UiTokenAmount `json:"ui_token_account" msgpack:"ui_token_account"`
	Owner          string        `json:"owner" msgpack:"owner"`
}

type Reward struct {
	Pubkey      string `json:"pubkey" msgpack:"pubkey"`
	Lamports    int64  `json:"lamports" msgpack:"lamports"`
	PostBalance uint64 `json:"post_balance" msgpack:"post_balance"`
	RewardType  int32  `json:"reward_type" msgpack:"reward_type"`
	Commission  uint32 `json:"commission" msgpack:"commission"`
}
