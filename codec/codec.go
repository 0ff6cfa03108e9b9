// Package codec converts structured values to and from the byte payloads
// stored in a dataset database. Two interchangeable codecs exist: a
// compressed JSON codec that round-trips embedded tensors exactly, and a
// tensor-aware binary codec. The codec is chosen when a store is opened and
// applies to every entry in the file.
package codec

import (
	"errors"
	"fmt"

	"github.com/perchlab/datasetdb/value"
)

var (
	// ErrCorruptPayload is returned when stored bytes do not match the
	// codec's framing. A corrupt payload is never silently skipped.
	ErrCorruptPayload = errors.New("corrupt payload")

	// ErrUnknownCodec is returned when resolving a codec by name or tag fails.
	ErrUnknownCodec = errors.New("unknown codec")
)

// Codec serializes values to opaque byte payloads and back.
//
// Implementations must satisfy the round-trip law: for every supported
// value v, Decode(Encode(v)) is deeply equal to v.
type Codec interface {
	// Name is the codec's stable identifier ("json" or "binary").
	Name() string
	// Tag is the numeric identifier persisted in the database file so a
	// store rejects reopening with the wrong codec.
	Tag() int32
	// Encode converts a value into a byte payload.
	Encode(v value.Value) ([]byte, error)
	// Decode converts a byte payload back into a value.
	Decode(data []byte) (value.Value, error)
}

// ByName resolves a codec from its stable name.
func ByName(name string) (Codec, error) {
	switch name {
	case "json":
		return NewJSON(), nil
	case "binary":
		return NewBinary(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// ByTag resolves a codec from its persisted numeric tag.
func ByTag(tag int32) (Codec, error) {
	switch tag {
	case jsonTag:
		return NewJSON(), nil
	case binaryTag:
		return NewBinary(), nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownCodec, tag)
	}
}
