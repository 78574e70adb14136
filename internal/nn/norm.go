package nn

import (
	"fmt"

	"github.com/samcharles93/dit/internal/tensor"
)

// Normalization kinds understood by CreateNorm. The np_ variants carry no
// learnable affine parameters.
const (
	NormLayer      = "layernorm"
	NormLayerNP    = "np_layernorm"
	NormRMS        = "rmsnorm"
	NormRMSNP      = "np_rmsnorm"
	DefaultNormEps = 1e-6
)

// Norm normalizes the last axis of its input.
type Norm interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// Reset restores the affine parameters to identity (scale 1, shift 0).
	Reset()
	Params(prefix string, p *Params)
	Kind() string
}

// CreateNorm builds a normalization operator over dim channels.
func CreateNorm(kind string, dim int, eps float32) (Norm, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("norm dim %d: %w", dim, ErrConfig)
	}
	switch kind {
	case NormLayer:
		n := &LayerNorm{Dim: dim, Eps: eps, Weight: make([]float32, dim), Bias: make([]float32, dim), kind: kind}
		n.Reset()
		return n, nil
	case NormLayerNP:
		return &LayerNorm{Dim: dim, Eps: eps, kind: kind}, nil
	case NormRMS:
		n := &RMSNorm{Dim: dim, Eps: eps, Weight: make([]float32, dim), kind: kind}
		n.Reset()
		return n, nil
	case NormRMSNP:
		return &RMSNorm{Dim: dim, Eps: eps, kind: kind}, nil
	}
	return nil, fmt.Errorf("%q: %w", kind, ErrUnknownNorm)
}

// LayerNorm is mean/variance normalization with optional affine parameters.
type LayerNorm struct {
	Dim    int
	Eps    float32
	Weight []float32
	Bias   []float32
	kind   string
}

func (n *LayerNorm) Kind() string { return n.kind }

func (n *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() == 0 || x.Dim(-1) != n.Dim {
		return nil, fmt.Errorf("%s(%d): input %v: %w", n.kind, n.Dim, x, ErrShape)
	}
	out := tensor.New(x.Shape...)
	src := x.Rows()
	dst := out.Rows()
	for i := 0; i < src.R; i++ {
		tensor.LayerNorm(dst.Row(i), src.Row(i), n.Weight, n.Bias, n.Eps)
	}
	return out, nil
}

func (n *LayerNorm) Reset() {
	tensor.Fill(n.Weight, 1)
	clear(n.Bias)
}

func (n *LayerNorm) Params(prefix string, p *Params) {
	if n.Weight != nil {
		p.Add(join(prefix, "weight"), &tensor.Tensor{Shape: []int{n.Dim}, Data: n.Weight})
	}
	if n.Bias != nil {
		p.Add(join(prefix, "bias"), &tensor.Tensor{Shape: []int{n.Dim}, Data: n.Bias})
	}
}

// RMSNorm is root-mean-square normalization with an optional scale.
type RMSNorm struct {
	Dim    int
	Eps    float32
	Weight []float32
	kind   string
}

func (n *RMSNorm) Kind() string { return n.kind }

func (n *RMSNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() == 0 || x.Dim(-1) != n.Dim {
		return nil, fmt.Errorf("%s(%d): input %v: %w", n.kind, n.Dim, x, ErrShape)
	}
	out := tensor.New(x.Shape...)
	src := x.Rows()
	dst := out.Rows()
	for i := 0; i < src.R; i++ {
		tensor.RMSNorm(dst.Row(i), src.Row(i), n.Weight, n.Eps)
	}
	return out, nil
}

func (n *RMSNorm) Reset() { tensor.Fill(n.Weight, 1) }

func (n *RMSNorm) Params(prefix string, p *Params) {
	if n.Weight != nil {
		p.Add(join(prefix, "weight"), &tensor.Tensor{Shape: []int{n.Dim}, Data: n.Weight})
	}
}
