package codec

import (
	"encoding/json"

	"github.com/c360/offlinekit/errors"
)

// Codec converts values of one namespace to and from their stored bytes.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSON is the default Codec, backed by encoding/json.
type JSON[V any] struct{}

// Marshal implements Codec.
func (JSON[V]) Marshal(v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "Marshal", "encode value")
	}
	return data, nil
}

// Unmarshal implements Codec.
func (JSON[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.WrapInvalid(err, "codec", "Unmarshal", "decode value")
	}
	return v, nil
}

// Bytes is a pass-through Codec for namespaces that store raw payloads.
type Bytes struct{}

// Marshal implements Codec.
func (Bytes) Marshal(v []byte) ([]byte, error) {
	return append([]byte(nil), v...), nil
}

// Unmarshal implements Codec.
func (Bytes) Unmarshal(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}
