// Package codecutil provides the binary encoding used for every record
// the kernel stores in the kvstore (users, escrows, holdings, orders,
// the IPO singleton). It needs a compact, schema-free binary form that
// round-trips arbitrary Go structs without hand-written marshal code,
// so it uses ugorji/go/codec's CBOR handle; EncodeCompressed adds lz4
// compression on top, used by the event bus's ExportSnapshot.
package codecutil

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4"
	"github.com/ugorji/go/codec"
)

var handle = &codec.CborHandle{}

// Encode serializes v into a compact binary form.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes data produced by Encode into v (a pointer).
func Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(data), handle)
	return dec.Decode(v)
}

// EncodeCompressed serializes v and lz4-compresses the result, for
// snapshot exports that are persisted to disk.
func EncodeCompressed(v interface{}) ([]byte, error) {
	raw, err := Encode(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCompressed reverses EncodeCompressed.
func DecodeCompressed(data []byte, v interface{}) error {
	r := lz4.NewReader(bytes.NewReader(data))
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return Decode(raw, v)
}
