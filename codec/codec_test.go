package codec

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlab/datasetdb/value"
)

func mustFloat32Tensor(t *testing.T, shape []int64, elems []float32) *value.Tensor {
	t.Helper()
	tensor, err := value.Float32Tensor(shape, elems)
	require.NoError(t, err)
	return tensor
}

// roundTripValues covers every value kind plus the shapes a training
// instance actually has: nested objects with captions, score arrays, and
// embedded feature tensors.
func roundTripValues(t *testing.T) map[string]value.Value {
	t.Helper()
	return map[string]value.Value{
		"null":           value.Null{},
		"bool true":      value.Bool(true),
		"bool false":     value.Bool(false),
		"int zero":       value.Int(0),
		"int negative":   value.Int(-12345),
		"int large":      value.Int(1 << 53),
		"float":          value.Float(0.375),
		"float integral": value.Float(2.0),
		"float tiny":     value.Float(5e-324),
		"string":         value.String("a dog on a couch"),
		"string unicode": value.String("naïve ☃ 日本語"),
		"string empty":   value.String(""),
		"array empty":    value.Array{},
		"array mixed":    value.Array{value.Int(1), value.String("x"), value.Null{}},
		"object empty":   value.Object{},
		"object nested": value.Object{
			"caption": value.String("two cats"),
			"scores":  value.Array{value.Float(0.91), value.Float(0.42)},
			"region":  value.Object{"x": value.Int(10), "y": value.Int(20)},
		},
		"tensor": mustFloat32Tensor(t, []int64{2, 3}, []float32{1, 2, 3, 4, 5, 6}),
		"tensor in object": value.Object{
			"features": mustFloat32Tensor(t, []int64{4}, []float32{0.1, 0.2, 0.3, 0.4}),
			"label":    value.Int(3),
		},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, c := range []Codec{NewJSON(), NewBinary()} {
		t.Run(c.Name(), func(t *testing.T) {
			for name, v := range roundTripValues(t) {
				t.Run(name, func(t *testing.T) {
					payload, err := c.Encode(v)
					require.NoError(t, err)

					got, err := c.Decode(payload)
					require.NoError(t, err)
					assert.True(t, value.Equal(v, got), "round trip changed value: %#v -> %#v", v, got)
				})
			}
		})
	}
}

func TestCodecDeterministicEncoding(t *testing.T) {
	v := value.Object{
		"zebra": value.Int(1),
		"apple": value.Int(2),
		"mango": value.Array{value.String("a"), value.Float(1.25)},
	}

	for _, c := range []Codec{NewJSON(), NewBinary()} {
		t.Run(c.Name(), func(t *testing.T) {
			first, err := c.Encode(v)
			require.NoError(t, err)
			second, err := c.Encode(v)
			require.NoError(t, err)
			assert.Equal(t, first, second, "same value must encode to identical bytes")
		})
	}
}

func TestCodecIntFloatDistinct(t *testing.T) {
	// 2 and 2.0 are different values and must stay different through a
	// round trip.
	for _, c := range []Codec{NewJSON(), NewBinary()} {
		t.Run(c.Name(), func(t *testing.T) {
			payload, err := c.Encode(value.Float(2.0))
			require.NoError(t, err)
			got, err := c.Decode(payload)
			require.NoError(t, err)
			_, isFloat := got.(value.Float)
			assert.True(t, isFloat, "2.0 decoded as %T", got)

			payload, err = c.Encode(value.Int(2))
			require.NoError(t, err)
			got, err = c.Decode(payload)
			require.NoError(t, err)
			_, isInt := got.(value.Int)
			assert.True(t, isInt, "2 decoded as %T", got)
		})
	}
}

func TestCodecCorruptPayload(t *testing.T) {
	for _, c := range []Codec{NewJSON(), NewBinary()} {
		t.Run(c.Name(), func(t *testing.T) {
			_, err := c.Decode([]byte("not a valid payload"))
			assert.ErrorIs(t, err, ErrCorruptPayload)

			_, err = c.Decode(nil)
			assert.ErrorIs(t, err, ErrCorruptPayload)
		})
	}
}

func TestCodecTruncatedPayload(t *testing.T) {
	v := value.Object{"caption": value.String("a long enough caption to truncate")}

	for _, c := range []Codec{NewJSON(), NewBinary()} {
		t.Run(c.Name(), func(t *testing.T) {
			payload, err := c.Encode(v)
			require.NoError(t, err)

			_, err = c.Decode(payload[:len(payload)/2])
			assert.ErrorIs(t, err, ErrCorruptPayload)
		})
	}
}

func TestJSONRejectsNonFiniteFloats(t *testing.T) {
	c := NewJSON()
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := c.Encode(value.Float(f))
		assert.ErrorIs(t, err, value.ErrUnsupported)
	}
}

func TestBinaryNonFiniteFloats(t *testing.T) {
	c := NewBinary()

	payload, err := c.Encode(value.Float(math.Inf(1)))
	require.NoError(t, err)
	got, err := c.Decode(payload)
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(got.(value.Float)), 1))

	payload, err = c.Encode(value.Float(math.NaN()))
	require.NoError(t, err)
	got, err = c.Decode(payload)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(got.(value.Float))))
}

func TestBinaryTensorDimensionClaimBounded(t *testing.T) {
	// A short payload claiming an enormous dimension count must fail as
	// corrupt without allocating a shape buffer for the claim.
	var buf bytes.Buffer
	buf.Write(binaryMagic)
	buf.WriteByte(tagTensor)
	writeBytes(&buf, []byte("float32"))
	writeUint32(&buf, 200_000_000)

	_, err := NewBinary().Decode(buf.Bytes())
	assert.ErrorIs(t, err, ErrCorruptPayload)
}

func TestJSONRejectsInvalidUTF8(t *testing.T) {
	c := NewJSON()

	_, err := c.Encode(value.String("ab\xffcd"))
	assert.ErrorIs(t, err, value.ErrUnsupported)

	_, err = c.Encode(value.Object{"bad\xff": value.Int(1)})
	assert.ErrorIs(t, err, value.ErrUnsupported)

	_, err = c.Encode(value.Array{value.String("ok"), value.String("\xc3\x28")})
	assert.ErrorIs(t, err, value.ErrUnsupported)
}

func TestBinaryAcceptsArbitraryStringBytes(t *testing.T) {
	// The binary codec stores string bytes verbatim, so non-UTF-8 content
	// still round-trips exactly.
	c := NewBinary()
	v := value.String("ab\xffcd")

	payload, err := c.Encode(v)
	require.NoError(t, err)
	got, err := c.Decode(payload)
	require.NoError(t, err)
	assert.True(t, value.Equal(v, got))
}

func TestJSONReservedKeyRejected(t *testing.T) {
	c := NewJSON()
	_, err := c.Encode(value.Object{"__tensor__": value.Int(1)})
	assert.ErrorIs(t, err, value.ErrUnsupported)
}

func TestCodecsNotInterchangeable(t *testing.T) {
	v := value.Object{"caption": value.String("two cats")}

	jsonPayload, err := NewJSON().Encode(v)
	require.NoError(t, err)
	_, err = NewBinary().Decode(jsonPayload)
	assert.ErrorIs(t, err, ErrCorruptPayload)

	binPayload, err := NewBinary().Encode(v)
	require.NoError(t, err)
	_, err = NewJSON().Decode(binPayload)
	assert.ErrorIs(t, err, ErrCorruptPayload)
}

func TestByName(t *testing.T) {
	c, err := ByName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = ByName("binary")
	require.NoError(t, err)
	assert.Equal(t, "binary", c.Name())

	_, err = ByName("msgpack")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestByTag(t *testing.T) {
	for _, c := range []Codec{NewJSON(), NewBinary()} {
		resolved, err := ByTag(c.Tag())
		require.NoError(t, err)
		assert.Equal(t, c.Name(), resolved.Name())
	}

	_, err := ByTag(99)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestTagsDistinct(t *testing.T) {
	assert.NotEqual(t, NewJSON().Tag(), NewBinary().Tag())
	assert.NotZero(t, NewJSON().Tag(), "tag zero is reserved for untagged legacy files")
	assert.NotZero(t, NewBinary().Tag())
}
