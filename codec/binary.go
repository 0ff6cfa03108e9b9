package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/perchlab/datasetdb/value"
)

const binaryTag int32 = 2

// binaryMagic identifies a binary-codec payload. Version bumps change the
// trailing byte.
var binaryMagic = []byte("DSB1")

// Type tags for the binary framing. One tag byte precedes every value.
const (
	tagNull   byte = 0x00
	tagFalse  byte = 0x01
	tagTrue   byte = 0x02
	tagInt    byte = 0x03
	tagFloat  byte = 0x04
	tagString byte = 0x05
	tagArray  byte = 0x06
	tagObject byte = 0x07
	tagTensor byte = 0x08
)

// binaryCodec serializes values in a compact tagged binary framing with
// big-endian length prefixes. Tensors are stored as raw element bytes, so
// this codec is the better fit when most of a store's payload is numeric.
type binaryCodec struct{}

// NewBinary returns the tensor-aware binary codec.
func NewBinary() Codec {
	return binaryCodec{}
}

func (binaryCodec) Name() string { return "binary" }
func (binaryCodec) Tag() int32   { return binaryTag }

func (binaryCodec) Encode(v value.Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(binaryMagic)
	if err := encodeBinaryValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (binaryCodec) Decode(data []byte) (value.Value, error) {
	if len(data) < len(binaryMagic) || !bytes.Equal(data[:len(binaryMagic)], binaryMagic) {
		return nil, fmt.Errorf("%w: missing binary codec magic", ErrCorruptPayload)
	}
	r := &binaryReader{data: data, pos: len(binaryMagic)}
	v, err := decodeBinaryValue(r)
	if err != nil {
		return nil, err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptPayload, len(data)-r.pos)
	}
	return v, nil
}

func encodeBinaryValue(buf *bytes.Buffer, v value.Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("%w: nil value", value.ErrUnsupported)
	case value.Null:
		buf.WriteByte(tagNull)
	case value.Bool:
		if val {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case value.Int:
		buf.WriteByte(tagInt)
		writeUint64(buf, uint64(val))
	case value.Float:
		buf.WriteByte(tagFloat)
		writeUint64(buf, math.Float64bits(float64(val)))
	case value.String:
		buf.WriteByte(tagString)
		writeBytes(buf, []byte(val))
	case value.Array:
		buf.WriteByte(tagArray)
		writeUint32(buf, uint32(len(val)))
		for i, elem := range val {
			if err := encodeBinaryValue(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
	case value.Object:
		buf.WriteByte(tagObject)
		writeUint32(buf, uint32(len(val)))
		// Sorted keys keep the encoding deterministic.
		for _, k := range val.SortedKeys() {
			writeBytes(buf, []byte(k))
			if err := encodeBinaryValue(buf, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
	case *value.Tensor:
		if val.DType.Size() == 0 {
			return fmt.Errorf("%w: tensor dtype %q", value.ErrUnsupported, val.DType)
		}
		buf.WriteByte(tagTensor)
		writeBytes(buf, []byte(val.DType))
		writeUint32(buf, uint32(len(val.Shape)))
		for _, dim := range val.Shape {
			writeUint64(buf, uint64(dim))
		}
		writeBytes(buf, val.Data)
	default:
		return fmt.Errorf("%w: %T", value.ErrUnsupported, v)
	}
	return nil
}

func decodeBinaryValue(r *binaryReader) (value.Value, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagNull:
		return value.Null{}, nil
	case tagFalse:
		return value.Bool(false), nil
	case tagTrue:
		return value.Bool(true), nil
	case tagInt:
		n, err := r.uint64()
		if err != nil {
			return nil, err
		}
		return value.Int(n), nil
	case tagFloat:
		n, err := r.uint64()
		if err != nil {
			return nil, err
		}
		return value.Float(math.Float64frombits(n)), nil
	case tagString:
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		return value.String(b), nil
	case tagArray:
		count, err := r.uint32()
		if err != nil {
			return nil, err
		}
		arr := make(value.Array, 0, min(int(count), r.remaining()))
		for i := uint32(0); i < count; i++ {
			elem, err := decodeBinaryValue(r)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case tagObject:
		count, err := r.uint32()
		if err != nil {
			return nil, err
		}
		obj := make(value.Object, min(int(count), r.remaining()))
		for i := uint32(0); i < count; i++ {
			key, err := r.bytes()
			if err != nil {
				return nil, err
			}
			elem, err := decodeBinaryValue(r)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", key, err)
			}
			obj[string(key)] = elem
		}
		return obj, nil
	case tagTensor:
		dtype, err := r.bytes()
		if err != nil {
			return nil, err
		}
		ndims, err := r.uint32()
		if err != nil {
			return nil, err
		}
		// Each dimension costs 8 bytes; a claim larger than the remaining
		// payload is corruption, not a reason to allocate.
		if int(ndims) > r.remaining()/8 {
			return nil, fmt.Errorf("%w: tensor claims %d dimensions with %d bytes remaining",
				ErrCorruptPayload, ndims, r.remaining())
		}
		shape := make([]int64, ndims)
		for i := range shape {
			dim, err := r.uint64()
			if err != nil {
				return nil, err
			}
			shape[i] = int64(dim)
		}
		data, err := r.bytes()
		if err != nil {
			return nil, err
		}
		t, err := value.NewTensor(value.DType(dtype), shape, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: unknown type tag 0x%02x", ErrCorruptPayload, tag)
	}
}

func writeUint32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// binaryReader is a position-tracked reader that turns every short read
// into ErrCorruptPayload.
type binaryReader struct {
	data []byte
	pos  int
}

func (r *binaryReader) remaining() int { return len(r.data) - r.pos }

func (r *binaryReader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("%w: truncated payload", ErrCorruptPayload)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *binaryReader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("%w: truncated payload", ErrCorruptPayload)
	}
	n := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return n, nil
}

func (r *binaryReader) uint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("%w: truncated payload", ErrCorruptPayload)
	}
	n := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return n, nil
}

func (r *binaryReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorruptPayload)
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}
