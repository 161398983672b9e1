package notify

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// Codec defines methods for encoding and decoding events on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec implements Codec using encoding/json. It is the default for
// every transport.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// GobCodec implements Codec using encoding/gob, for value types that do
// not round-trip through JSON.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var b bytes.Buffer
	enc := gob.NewEncoder(&b)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	b := bytes.NewBuffer(data)
	dec := gob.NewDecoder(b)
	return dec.Decode(v)
}
