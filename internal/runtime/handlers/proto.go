package handlers

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
)

// ProtoCodec decodes and encodes protobuf messages in their canonical JSON form.
type ProtoCodec[T proto.Message] struct {
	prototype T
	marshal   protojson.MarshalOptions
	unmarshal protojson.UnmarshalOptions
}

// NewProtoCodec builds a codec for T. A nil typed pointer is accepted as the
// prototype and allocated on demand.
func NewProtoCodec[T proto.Message](prototype T) (*ProtoCodec[T], error) {
	resolved, err := EnsureProtoPrototype(prototype)
	if err != nil {
		return nil, err
	}
	return &ProtoCodec[T]{
		prototype: resolved,
		unmarshal: protojson.UnmarshalOptions{DiscardUnknown: true},
	}, nil
}

func (c *ProtoCodec[T]) Decode(data []byte) (T, error) {
	typed, err := clonePrototype(c.prototype)
	if err != nil {
		return typed, err
	}
	if err := c.unmarshal.Unmarshal(data, typed); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to unmarshal %T payload: %w", c.prototype, err)
	}
	return typed, nil
}

func (c *ProtoCodec[T]) Encode(msg T) ([]byte, error) {
	if isNilProto(msg) {
		return nil, errspkg.ErrNilMessage
	}
	return c.marshal.Marshal(msg)
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrPrototypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}

	return typed, nil
}

// EnsureProtoPrototype returns candidate, allocating a fresh message when it is
// a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrPrototypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrPrototypePointerNeeded
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
