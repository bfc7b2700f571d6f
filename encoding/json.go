package encoding

import (
	"encoding/json"

	"github.com/maxpert/geyser/event"
)

func init() {
	RegisterCodec("json", func() Codec { return JSONCodec{} })
}

// JSONCodec renders keys, signatures and hashes as base58 strings and
// account data as base64
type JSONCodec struct{}

func (JSONCodec) Format() string { return "json" }

func (JSONCodec) Marshal(ev event.Event) ([]byte, error) {
	if _, err := wrap(ev); err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

func (JSONCodec) MarshalWrapped(ev event.Event) ([]byte, error) {
	env, err := wrap(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
