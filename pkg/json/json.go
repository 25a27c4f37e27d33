// Package json wraps goccy/go-json behind the small surface shopgraph
// needs: cost-extension parsing, JSONL line decoding, and record output.
// Decoders always run with UseNumber so Shopify's string-serialized
// UnsignedInt64 counts and float capacity figures survive round trips.
package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// NewDecoder returns a decoder for r with number preservation enabled.
func NewDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// Marshal encodes v.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent encodes v with indentation, for human-facing output.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// MarshalToWriter encodes v straight to w, followed by a newline.
func MarshalToWriter(w io.Writer, v interface{}) error {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
