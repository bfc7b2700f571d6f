package encoding

import (
	"bytes"

	"github.com/maxpert/geyser/event"
	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	RegisterCodec("msgpack", func() Codec { return MsgpackCodec{} })
}

// Envelope is the wrapped form for msgpack and json. Exactly one field is set.
type Envelope struct {
	Account     *event.AccountUpdate `json:"account,omitempty" msgpack:"account,omitempty"`
	Slot        *event.SlotStatus    `json:"slot,omitempty" msgpack:"slot,omitempty"`
	Transaction *event.Transaction   `json:"transaction,omitempty" msgpack:"transaction,omitempty"`
}

func wrap(ev event.Event) (*Envelope, error) {
	switch e := ev.(type) {
	case *event.AccountUpdate:
		return &Envelope{Account: e}, nil
	case *event.SlotStatus:
		return &Envelope{Slot: e}, nil
	case *event.Transaction:
		return &Envelope{Transaction: e}, nil
	default:
		return nil, unknownEvent(ev)
	}
}

// unwrap returns the wrapped event, nil if the envelope is empty
func (e *Envelope) unwrap() event.Event {
	switch {
	case e.Account != nil:
		return e.Account
	case e.Slot != nil:
		return e.Slot
	case e.Transaction != nil:
		return e.Transaction
	default:
		return nil
	}
}

// MsgpackCodec encodes events with their msgpack struct tags
type MsgpackCodec struct{}

func (MsgpackCodec) Format() string { return "msgpack" }

func (MsgpackCodec) Marshal(ev event.Event) ([]byte, error) {
	if _, err := wrap(ev); err != nil {
		return nil, err
	}
	return Marshal(ev)
}

func (MsgpackCodec) MarshalWrapped(ev event.Event) ([]byte, error) {
	env, err := wrap(ev)
	if err != nil {
		return nil, err
	}
	return Marshal(env)
}

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data. When decoding into interface{}, strings
// stay Go strings rather than []byte.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
