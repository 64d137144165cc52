package handlers

import (
	jsoncodec "github.com/drblury/funcflow/internal/runtime/jsoncodec"
)

// Codec converts between the raw event bytes and a typed value.
type Codec[T any] interface {
	Decode(data []byte) (T, error)
	Encode(v T) ([]byte, error)
}

// JSONCodec uses the sonic-backed jsoncodec package.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := jsoncodec.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return jsoncodec.Marshal(v)
}

// BytesCodec passes the payload through untouched.
type BytesCodec struct{}

func (BytesCodec) Decode(data []byte) ([]byte, error) { return data, nil }

func (BytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }

// StringCodec treats the payload as UTF-8 text.
type StringCodec struct{}

func (StringCodec) Decode(data []byte) (string, error) { return string(data), nil }

func (StringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
