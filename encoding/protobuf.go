package encoding

import (
	"math"

	"github.com/maxpert/geyser/event"
	"google.golang.org/protobuf/encoding/protowire"
)

func init() {
	RegisterCodec("protobuf", func() Codec { return ProtobufCodec{} })
}

// Envelope field numbers of MessageWrapper
const (
	WrapperAccount     protowire.Number = 1
	WrapperSlot        protowire.Number = 2
	WrapperTransaction protowire.Number = 3
)

// ProtobufCodec writes events in protobuf wire format. Scalar fields with
// their zero value are omitted, as proto3 does; nested messages are always
// written.
//
//	UpdateAccountEvent   { slot=1 pubkey=2 lamports=3 owner=4 executable=5
//	                       rent_epoch=6 data=7 write_version=8 txn_signature=9 }
//	SlotStatusEvent      { slot=1 parent=2 status=3 }
//	TransactionEvent     { signature=1 is_vote=2 transaction=3
//	                       transaction_status_meta=4 slot=5 index=6 }
//	MessageWrapper       { oneof account=1 slot=2 transaction=3 }
type ProtobufCodec struct{}

func (ProtobufCodec) Format() string { return "protobuf" }

func (ProtobufCodec) Marshal(ev event.Event) ([]byte, error) {
	switch e := ev.(type) {
	case *event.AccountUpdate:
		return appendAccountUpdate(nil, e), nil
	case *event.SlotStatus:
		return appendSlotStatus(nil, e), nil
	case *event.Transaction:
		return appendTransaction(nil, e), nil
	default:
		return nil, unknownEvent(ev)
	}
}

func (c ProtobufCodec) MarshalWrapped(ev event.Event) ([]byte, error) {
	inner, err := c.Marshal(ev)
	if err != nil {
		return nil, err
	}

	var num protowire.Number
	switch ev.Kind() {
	case event.KindAccount:
		num = WrapperAccount
	case event.KindSlot:
		num = WrapperSlot
	default:
		num = WrapperTransaction
	}

	b := make([]byte, 0, len(inner)+protowire.SizeTag(num)+protowire.SizeVarint(uint64(len(inner))))
	return appendMessage(b, num, inner), nil
}

func appendAccountUpdate(b []byte, e *event.AccountUpdate) []byte {
	b = appendVarint(b, 1, e.Slot)
	b = appendBytes(b, 2, e.Pubkey[:])
	b = appendVarint(b, 3, e.Lamports)
	b = appendBytes(b, 4, e.Owner[:])
	b = appendBool(b, 5, e.Executable)
	b = appendVarint(b, 6, e.RentEpoch)
	b = appendBytes(b, 7, e.Data)
	b = appendVarint(b, 8, e.WriteVersion)
	if e.TxnSignature != nil {
		b = appendBytes(b, 9, e.TxnSignature[:])
	}
	return b
}

func appendSlotStatus(b []byte, e *event.SlotStatus) []byte {
	b = appendVarint(b, 1, e.Slot)
	b = appendVarint(b, 2, e.Parent)
	b = appendVarint(b, 3, uint64(e.Status))
	return b
}

func appendTransaction(b []byte, e *event.Transaction) []byte {
	b = appendBytes(b, 1, e.Signature[:])
	b = appendBool(b, 2, e.IsVote)
	b = appendMessage(b, 3, appendSanitizedTransaction(nil, &e.Transaction))
	b = appendMessage(b, 4, appendStatusMeta(nil, &e.Meta))
	b = appendVarint(b, 5, e.Slot)
	b = appendVarint(b, 6, e.Index)
	return b
}

// SanitizedTransaction { message=1 message_hash=2 is_simple_vote_transaction=3 signatures=4 }
func appendSanitizedTransaction(b []byte, t *event.SanitizedTransaction) []byte {
	b = appendMessage(b, 1, appendSanitizedMessage(nil, &t.Message))
	b = appendBytes(b, 2, t.MessageHash[:])
	b = appendBool(b, 3, t.IsSimpleVoteTransaction)
	for i := range t.Signatures {
		b = appendRawBytes(b, 4, t.Signatures[i][:])
	}
	return b
}

// SanitizedMessage { oneof legacy=1 v0=2 }
//
//	LegacyMessage   { header=1 account_keys=2 recent_block_hash=3 instructions=4
//	                  is_writable_account_cache=5 }
//	V0LoadedMessage { message=1 loaded_addresses=2 is_writable_account_cache=3 }
//	V0Message       { header=1 account_keys=2 recent_block_hash=3 instructions=4
//	                  address_table_lookup=5 }
func appendSanitizedMessage(b []byte, m *event.Message) []byte {
	if m.Version != event.MessageV0 {
		var legacy []byte
		legacy = appendMessageBody(legacy, m)
		legacy = appendPackedBools(legacy, 5, m.IsWritableAccountCache)
		return appendMessage(b, 1, legacy)
	}

	v0msg := appendMessageBody(nil, m)
	for i := range m.AddressTableLookups {
		v0msg = appendMessage(v0msg, 5, appendTableLookup(nil, &m.AddressTableLookups[i]))
	}

	var loaded []byte
	loaded = appendMessage(loaded, 1, v0msg)
	if m.LoadedAddresses != nil {
		var la []byte
		for i := range m.LoadedAddresses.Writable {
			la = appendRawBytes(la, 1, m.LoadedAddresses.Writable[i][:])
		}
		for i := range m.LoadedAddresses.Readonly {
			la = appendRawBytes(la, 2, m.LoadedAddresses.Readonly[i][:])
		}
		loaded = appendMessage(loaded, 2, la)
	}
	loaded = appendPackedBools(loaded, 3, m.IsWritableAccountCache)
	return appendMessage(b, 2, loaded)
}

func appendMessageBody(b []byte, m *event.Message) []byte {
	var h []byte
	h = appendVarint(h, 1, uint64(m.Header.NumRequiredSignatures))
	h = appendVarint(h, 2, uint64(m.Header.NumReadonlySignedAccounts))
	h = appendVarint(h, 3, uint64(m.Header.NumReadonlyUnsignedAccounts))
	b = appendMessage(b, 1, h)

	for i := range m.StaticAccountKeys {
		b = appendRawBytes(b, 2, m.StaticAccountKeys[i][:])
	}
	b = appendBytes(b, 3, m.RecentBlockhash[:])
	for i := range m.Instructions {
		b = appendMessage(b, 4, appendInstruction(nil, &m.Instructions[i]))
	}
	return b
}

// CompiledInstruction { program_id_index=1 accounts=2 data=3 }
func appendInstruction(b []byte, ix *event.CompiledInstruction) []byte {
	b = appendVarint(b, 1, uint64(ix.ProgramIDIndex))
	b = appendPackedUint32s(b, 2, ix.Accounts)
	b = appendBytes(b, 3, ix.Data)
	return b
}

// MessageAddressTableLookup { account_key=1 writable_indexes=2 readonly_indexes=3 }
func appendTableLookup(b []byte, l *event.MessageAddressTableLookup) []byte {
	b = appendBytes(b, 1, l.AccountKey[:])
	b = appendPackedUint32s(b, 2, l.WritableIndexes)
	b = appendPackedUint32s(b, 3, l.ReadonlyIndexes)
	return b
}

// TransactionStatusMeta { is_status_err=1 error_info=2 fee=3 pre_balances=4
// post_balances=5 inner_instructions=6 log_messages=7 pre_token_balances=8
// post_token_balances=9 rewards=10 }
func appendStatusMeta(b []byte, m *event.TransactionStatusMeta) []byte {
	b = appendBool(b, 1, m.IsStatusErr)
	b = appendString(b, 2, m.ErrorInfo)
	b = appendVarint(b, 3, m.Fee)
	b = appendPackedUint64s(b, 4, m.PreBalances)
	b = appendPackedUint64s(b, 5, m.PostBalances)
	for i := range m.InnerInstructions {
		b = appendMessage(b, 6, appendInnerInstructions(nil, &m.InnerInstructions[i]))
	}
	for _, line := range m.LogMessages {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, line)
	}
	for i := range m.PreTokenBalances {
		b = appendMessage(b, 8, appendTokenBalance(nil, &m.PreTokenBalances[i]))
	}
	for i := range m.PostTokenBalances {
		b = appendMessage(b, 9, appendTokenBalance(nil, &m.PostTokenBalances[i]))
	}
	for i := range m.Rewards {
		b = appendMessage(b, 10, appendReward(nil, &m.Rewards[i]))
	}
	return b
}

// InnerInstructions { index=1 instructions=2 }, InnerInstruction { instruction=1 stack_height=2 }
func appendInnerInstructions(b []byte, in *event.InnerInstructions) []byte {
	b = appendVarint(b, 1, uint64(in.Index))
	for i := range in.Instructions {
		ii := &in.Instructions[i]
		var inner []byte
		inner = appendMessage(inner, 1, appendInstruction(nil, &ii.Instruction))
		if ii.StackHeight != nil {
			inner = protowire.AppendTag(inner, 2, protowire.VarintType)
			inner = protowire.AppendVarint(inner, uint64(*ii.StackHeight))
		}
		b = appendMessage(b, 2, inner)
	}
	return b
}

// TransactionTokenBalance { account_index=1 mint=2 ui_token_account=3 owner=4 }
// UiTokenAmount { ui_amount=1 decimals=2 amount=3 ui_amount_string=4 }
func appendTokenBalance(b []byte, tb *event.TransactionTokenBalance) []byte {
	b = appendVarint(b, 1, uint64(tb.AccountIndex))
	b = appendString(b, 2, tb.Mint)

	var amt []byte
	if tb.UiTokenAccount.UiAmount != nil {
		amt = protowire.AppendTag(amt, 1, protowire.Fixed64Type)
		amt = protowire.AppendFixed64(amt, math.Float64bits(*tb.UiTokenAccount.UiAmount))
	}
	amt = appendVarint(amt, 2, uint64(tb.UiTokenAccount.Decimals))
	amt = appendString(amt, 3, tb.UiTokenAccount.Amount)
	amt = appendString(amt, 4, tb.UiTokenAccount.UiAmountString)
	b = appendMessage(b, 3, amt)

	b = appendString(b, 4, tb.Owner)
	return b
}

// Reward { pubkey=1 lamports=2 post_balance=3 reward_type=4 commission=5 }
func appendReward(b []byte, r *event.Reward) []byte {
	b = appendString(b, 1, r.Pubkey)
	b = appendVarint(b, 2, uint64(r.Lamports))
	b = appendVarint(b, 3, r.PostBalance)
	b = appendVarint(b, 4, uint64(int64(r.RewardType)))
	b = appendVarint(b, 5, uint64(r.Commission))
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	return appendRawBytes(b, num, v)
}

// appendRawBytes writes v even when empty, for repeated elements
func appendRawBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedUint64s(b []byte, num protowire.Number, vs []uint64) []byte {
	if len(vs) == 0 {
		return b
	}
	n := 0
	for _, v := range vs {
		n += protowire.SizeVarint(v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(n))
	for _, v := range vs {
		b = protowire.AppendVarint(b, v)
	}
	return b
}

func appendPackedUint32s(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	wide := make([]uint64, len(vs))
	for i, v := range vs {
		wide[i] = uint64(v)
	}
	return appendPackedUint64s(b, num, wide)
}

func appendPackedBools(b []byte, num protowire.Number, vs []bool) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)))
	for _, v := range vs {
		b = protowire.AppendVarint(b, protowire.EncodeBool(v))
	}
	return b
}
