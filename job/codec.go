package job

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/backlog"
)

// Codec defines the serialization contract for job targets.
type Codec interface {
	// Marshal serializes v to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes data into v.
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier ("json", "msgpack").
	Name() string
}

// Codec name constants.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// CodecByName returns a codec by name. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecNameJSON, "":
		return JSONCodec{}, nil
	case CodecNameMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", backlog.ErrUnsupportedCodec, name)
	}
}

// JSONCodec encodes targets as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes targets as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

func (MsgpackCodec) Name() string { return CodecNameMsgpack }

// envelope is the tagged container stored in Record.Target.
type envelope struct {
	Type    string `json:"type" msgpack:"type"`
	Payload []byte `json:"payload,omitempty" msgpack:"payload,omitempty"`
}
