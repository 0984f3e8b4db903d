// Package xjson is the single codec import site for persisted payloads
// (checkpoints, run records, cached node results, definition files) and for
// API request and response bodies.
package xjson

import (
	stdjson "encoding/json"
	"io"

	gjson "github.com/goccy/go-json"
)

func Marshal(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gjson.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage

// Decoder mirrors encoding/json's Decoder.
type Decoder = gjson.Decoder

// Encoder mirrors encoding/json's Encoder.
type Encoder = gjson.Encoder

func NewDecoder(r io.Reader) *Decoder {
	return gjson.NewDecoder(r)
}

func NewEncoder(w io.Writer) *Encoder {
	return gjson.NewEncoder(w)
}
