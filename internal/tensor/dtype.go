package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType names an element encoding for serialized or reduced-precision data.
// Compute is always float32.
type DType uint8

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeBF16
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Size returns the encoded element size in bytes.
func (d DType) Size() int {
	switch d {
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 4
	}
}

// ParseDType accepts the usual spellings of f32, f16 and bf16.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "fp32", "float32":
		return DTypeF32, nil
	case "f16", "fp16", "float16", "half":
		return DTypeF16, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	}
	return DTypeF32, fmt.Errorf("unsupported dtype %q", s)
}

// Encode serializes src in little-endian order using dtype d.
func Encode(src []float32, d DType) []byte {
	out := make([]byte, len(src)*d.Size())
	switch d {
	case DTypeF16:
		for i, v := range src {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
	case DTypeBF16:
		for i, v := range src {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(bfloat16.FromFloat32(v)))
		}
	default:
		for i, v := range src {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	}
	return out
}

// Decode parses little-endian raw data encoded with dtype d.
func Decode(raw []byte, d DType) ([]float32, error) {
	size := d.Size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("raw length %d is not a multiple of %s element size", len(raw), d)
	}
	out := make([]float32, len(raw)/size)
	switch d {
	case DTypeF16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case DTypeBF16:
		for i := range out {
			out[i] = bfloat16.ToFloat32(bfloat16.BF16(binary.LittleEndian.Uint16(raw[i*2:])))
		}
	default:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return out, nil
}

// RoundTrip rounds every element of x to the nearest value representable in
// d, in place. It emulates weights stored at reduced precision.
func RoundTrip(x []float32, d DType) {
	switch d {
	case DTypeF16:
		for i, v := range x {
			x[i] = float16.Fromfloat32(v).Float32()
		}
	case DTypeBF16:
		for i, v := range x {
			x[i] = bfloat16.ToFloat32(bfloat16.FromFloat32(v))
		}
	}
}
