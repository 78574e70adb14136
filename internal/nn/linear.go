package nn

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/dit/internal/tensor"
)

// Linear is an affine map over the last axis. W is stored in×out so that a
// row-major batch of inputs multiplies it directly.
type Linear struct {
	In, Out int
	W       tensor.Mat
	B       []float32 // nil when the layer has no bias
}

// NewLinear allocates a zero-initialised layer.
func NewLinear(in, out int, bias bool) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		W:   tensor.NewMat(in, out),
	}
	if bias {
		l.B = make([]float32, out)
	}
	return l
}

// Forward maps (..., In) to (..., Out).
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() == 0 || x.Dim(-1) != l.In {
		return nil, fmt.Errorf("linear %dx%d: input %v: %w", l.In, l.Out, x, ErrShape)
	}
	shape := append(x.Shape[:len(x.Shape)-1:len(x.Shape)-1], l.Out)
	out := tensor.New(shape...)
	in := x.Rows()
	dst := out.Rows()
	tensor.GemmPar(&dst, &in, &l.W, 1, 0, 0)
	if l.B != nil {
		for i := 0; i < dst.R; i++ {
			tensor.Add(dst.Row(i), l.B)
		}
	}
	return out, nil
}

// Init draws W from a truncated normal with the given std and zeroes the bias.
func (l *Linear) Init(rng *rand.Rand, std float64) {
	tensor.TruncNormal(rng, l.W.Data, 0, std, tensor.TruncLow, tensor.TruncHigh)
	if l.B != nil {
		clear(l.B)
	}
}

// Params registers the layer's tensors under prefix.
func (l *Linear) Params(prefix string, p *Params) {
	p.Add(join(prefix, "weight"), l.W.Tensor())
	if l.B != nil {
		p.Add(join(prefix, "bias"), &tensor.Tensor{Shape: []int{l.Out}, Data: l.B})
	}
}
