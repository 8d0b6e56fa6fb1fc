package protocol

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Serializer turns a typed value into a frame payload.
type Serializer[T any] func(T) ([]byte, error)

// JSON serializes values with encoding/json compatible output.
func JSON[T any]() Serializer[T] {
	return func(v T) ([]byte, error) {
		return json.Marshal(v)
	}
}

// String sends the UTF-8 bytes of a string.
func String() Serializer[string] {
	return func(s string) ([]byte, error) {
		return []byte(s), nil
	}
}
