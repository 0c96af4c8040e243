// Package jsoncodec is the single JSON entry point for courtside. Every
// package encodes and decodes through it so the backend can be swapped in
// one place.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// std keeps encoding/json compatible output (escaped HTML, sorted map keys).
var std = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// Valid reports whether data is a single well-formed JSON value.
func Valid(data []byte) bool {
	return std.Valid(data)
}

// NewEncoder returns a streaming encoder writing to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return std.NewEncoder(w)
}

func Encode(w io.Writer, v any) error {
	return std.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return std.NewDecoder(r).Decode(v)
}
