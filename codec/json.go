package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"

	"github.com/perchlab/datasetdb/value"
)

const jsonTag int32 = 1

// tensorKey is the reserved object key marking an embedded tensor.
// User objects must not use it.
const tensorKey = "__tensor__"

// Shared zstd coders; EncodeAll/DecodeAll on these are safe for
// concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// jsonCodec serializes values as deterministic JSON (sorted object keys)
// compressed with zstd. Fixed-shape numeric arrays are embedded as a
// reserved {"__tensor__": {...}} object so dtype and shape round-trip
// exactly instead of flattening to nested lists.
type jsonCodec struct{}

// NewJSON returns the JSON codec. This is the default store codec.
func NewJSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Tag() int32   { return jsonTag }

func (jsonCodec) Encode(v value.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeJSONValue(&buf, v); err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(buf.Bytes(), nil), nil
}

func (jsonCodec) Decode(data []byte) (value.Value, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptPayload, err)
	}
	v, err := decodeJSONValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return v, nil
}

// encodeJSONValue writes a deterministic JSON rendering of v.
// Object keys are emitted in sorted order so identical values always
// produce identical bytes.
func encodeJSONValue(buf *bytes.Buffer, v value.Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("%w: nil value", value.ErrUnsupported)
	case value.Null:
		buf.WriteString("null")
		return nil
	case value.Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case value.Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case value.Float:
		return encodeJSONFloat(buf, float64(val))
	case value.String:
		// json.Marshal would silently rewrite invalid UTF-8 to U+FFFD,
		// breaking the round-trip guarantee without an error.
		if !utf8.ValidString(string(val)) {
			return fmt.Errorf("%w: string is not valid UTF-8", value.ErrUnsupported)
		}
		encoded, err := json.Marshal(string(val))
		if err != nil {
			return fmt.Errorf("marshal string: %w", err)
		}
		buf.Write(encoded)
		return nil
	case value.Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeJSONValue(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case value.Object:
		if _, reserved := val[tensorKey]; reserved {
			return fmt.Errorf("%w: object key %q is reserved", value.ErrUnsupported, tensorKey)
		}
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if !utf8.ValidString(k) {
				return fmt.Errorf("%w: object key is not valid UTF-8", value.ErrUnsupported)
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("marshal key %q: %w", k, err)
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeJSONValue(buf, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil
	case *value.Tensor:
		return encodeJSONTensor(buf, val)
	default:
		return fmt.Errorf("%w: %T", value.ErrUnsupported, v)
	}
}

// encodeJSONFloat formats a float so it decodes back to a Float, not an
// Int: integral floats keep a trailing ".0". NaN and infinities have no
// JSON representation.
func encodeJSONFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: float %v has no JSON representation", value.ErrUnsupported, f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	buf.WriteString(s)
	return nil
}

func encodeJSONTensor(buf *bytes.Buffer, t *value.Tensor) error {
	if t.DType.Size() == 0 {
		return fmt.Errorf("%w: tensor dtype %q", value.ErrUnsupported, t.DType)
	}
	shape := make([]string, len(t.Shape))
	for i, dim := range t.Shape {
		shape[i] = strconv.FormatInt(dim, 10)
	}
	fmt.Fprintf(buf, `{"%s":{"data":%q,"dtype":%q,"shape":[%s]}}`,
		tensorKey,
		base64.StdEncoding.EncodeToString(t.Data),
		string(t.DType),
		strings.Join(shape, ","))
	return nil
}

// decodeJSONValue parses raw JSON by dispatching on the first byte, using
// json.Number so large integers survive without float64 precision loss.
func decodeJSONValue(data []byte) (value.Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return value.String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return value.Bool(b), nil

	case 'n':
		if !bytes.Equal(data, []byte("null")) {
			return nil, fmt.Errorf("invalid literal %q", data)
		}
		return value.Null{}, nil

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		arr := make(value.Array, len(raw))
		for i, elem := range raw {
			v, err := decodeJSONValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = v
		}
		return arr, nil

	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if ext, ok := raw[tensorKey]; ok && len(raw) == 1 {
			return decodeJSONTensor(ext)
		}
		obj := make(value.Object, len(raw))
		for k, elem := range raw {
			v, err := decodeJSONValue(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = v
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		s := n.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid float %q: %w", s, err)
			}
			return value.Float(f), nil
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("integer out of range %q: %w", s, err)
		}
		return value.Int(i), nil
	}
}

func decodeJSONTensor(raw json.RawMessage) (value.Value, error) {
	var ext struct {
		Data  string  `json:"data"`
		DType string  `json:"dtype"`
		Shape []int64 `json:"shape"`
	}
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, fmt.Errorf("tensor extension: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(ext.Data)
	if err != nil {
		return nil, fmt.Errorf("tensor data: %w", err)
	}
	t, err := value.NewTensor(value.DType(ext.DType), ext.Shape, data)
	if err != nil {
		return nil, fmt.Errorf("tensor extension: %w", err)
	}
	return t, nil
}
