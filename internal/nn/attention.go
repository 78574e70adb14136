package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/dit/internal/tensor"
)

// DefaultInitStd is the std used for every projection that is not a
// residual-branch output.
const DefaultInitStd = 0.02

// SelfAttention is multi-head scaled dot-product attention over a single
// sequence with LayerNorm applied to queries and keys per head.
type SelfAttention struct {
	NEmbd, NHead, NHidden int

	QKV  *Linear
	LnQ  Norm
	LnK  Norm
	Proj *Linear
}

// NewSelfAttention builds the operator. nHidden <= 0 means nEmbd.
func NewSelfAttention(nEmbd, nHead, nHidden int, qkvBias bool, normEps float32) (*SelfAttention, error) {
	if nHidden <= 0 {
		nHidden = nEmbd
	}
	headDim, err := headDim(nEmbd, nHead, nHidden)
	if err != nil {
		return nil, err
	}
	lnQ, err := CreateNorm(NormLayer, headDim, normEps)
	if err != nil {
		return nil, err
	}
	lnK, err := CreateNorm(NormLayer, headDim, normEps)
	if err != nil {
		return nil, err
	}
	return &SelfAttention{
		NEmbd:   nEmbd,
		NHead:   nHead,
		NHidden: nHidden,
		QKV:     NewLinear(nEmbd, 3*nHidden, qkvBias),
		LnQ:     lnQ,
		LnK:     lnK,
		Proj:    NewLinear(nHidden, nEmbd, qkvBias),
	}, nil
}

// Forward maps (B,T,C) to (B,T,C).
func (a *SelfAttention) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 3 || x.Dim(-1) != a.NEmbd {
		return nil, fmt.Errorf("self-attention: input %v, want (B,T,%d): %w", x, a.NEmbd, ErrShape)
	}
	qkv, err := a.QKV.Forward(x)
	if err != nil {
		return nil, err
	}
	parts := SplitLast(qkv, 3)
	q, err := normHeads(parts[0], a.LnQ, a.NHead)
	if err != nil {
		return nil, err
	}
	k, err := normHeads(parts[1], a.LnK, a.NHead)
	if err != nil {
		return nil, err
	}
	return a.Proj.Forward(attend(q, k, parts[2], a.NHead))
}

// Init sets qkv from the fixed default std and the output projection from
// std, and resets the q/k norms.
func (a *SelfAttention) Init(rng *rand.Rand, std float64) {
	a.QKV.Init(rng, DefaultInitStd)
	a.Proj.Init(rng, std)
	a.LnQ.Reset()
	a.LnK.Reset()
}

func (a *SelfAttention) Params(prefix string, p *Params) {
	a.QKV.Params(join(prefix, "qkv"), p)
	a.LnQ.Params(join(prefix, "ln_q"), p)
	a.LnK.Params(join(prefix, "ln_k"), p)
	a.Proj.Params(join(prefix, "proj"), p)
}

// CrossAttention attends a query sequence to a separate conditioning
// sequence of the same channel width.
type CrossAttention struct {
	NEmbd, NHead, NHidden int

	Q    *Linear
	KV   *Linear
	LnQ  Norm
	LnK  Norm
	Proj *Linear
}

// NewCrossAttention builds the operator. nHidden <= 0 means nEmbd.
func NewCrossAttention(nEmbd, nHead, nHidden int, qkvBias bool, normEps float32) (*CrossAttention, error) {
	if nHidden <= 0 {
		nHidden = nEmbd
	}
	headDim, err := headDim(nEmbd, nHead, nHidden)
	if err != nil {
		return nil, err
	}
	lnQ, err := CreateNorm(NormLayer, headDim, normEps)
	if err != nil {
		return nil, err
	}
	lnK, err := CreateNorm(NormLayer, headDim, normEps)
	if err != nil {
		return nil, err
	}
	return &CrossAttention{
		NEmbd:   nEmbd,
		NHead:   nHead,
		NHidden: nHidden,
		Q:       NewLinear(nEmbd, nHidden, qkvBias),
		KV:      NewLinear(nEmbd, 2*nHidden, qkvBias),
		LnQ:     lnQ,
		LnK:     lnK,
		Proj:    NewLinear(nHidden, nEmbd, qkvBias),
	}, nil
}

// Forward maps x (B,T,C) and c (B,Tc,C) to (B,T,C).
func (a *CrossAttention) Forward(x, c *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 3 || x.Dim(-1) != a.NEmbd {
		return nil, fmt.Errorf("cross-attention: query %v, want (B,T,%d): %w", x, a.NEmbd, ErrShape)
	}
	if c.Rank() != 3 || c.Dim(-1) != a.NEmbd || c.Dim(0) != x.Dim(0) {
		return nil, fmt.Errorf("cross-attention: context %v, want (%d,Tc,%d): %w", c, x.Dim(0), a.NEmbd, ErrShape)
	}
	qp, err := a.Q.Forward(x)
	if err != nil {
		return nil, err
	}
	kv, err := a.KV.Forward(c)
	if err != nil {
		return nil, err
	}
	parts := SplitLast(kv, 2)
	q, err := normHeads(qp, a.LnQ, a.NHead)
	if err != nil {
		return nil, err
	}
	k, err := normHeads(parts[0], a.LnK, a.NHead)
	if err != nil {
		return nil, err
	}
	return a.Proj.Forward(attend(q, k, parts[1], a.NHead))
}

func (a *CrossAttention) Init(rng *rand.Rand, std float64) {
	a.Q.Init(rng, DefaultInitStd)
	a.KV.Init(rng, DefaultInitStd)
	a.Proj.Init(rng, std)
	a.LnQ.Reset()
	a.LnK.Reset()
}

func (a *CrossAttention) Params(prefix string, p *Params) {
	a.Q.Params(join(prefix, "q"), p)
	a.KV.Params(join(prefix, "kv"), p)
	a.LnQ.Params(join(prefix, "ln_q"), p)
	a.LnK.Params(join(prefix, "ln_k"), p)
	a.Proj.Params(join(prefix, "proj"), p)
}

func headDim(nEmbd, nHead, nHidden int) (int, error) {
	if nEmbd <= 0 || nHead <= 0 {
		return 0, fmt.Errorf("attention n_embd=%d n_head=%d: %w", nEmbd, nHead, ErrConfig)
	}
	if nHidden%nHead != 0 {
		return 0, fmt.Errorf("attention hidden %d not divisible by %d heads: %w", nHidden, nHead, ErrConfig)
	}
	return nHidden / nHead, nil
}

// SplitLast splits the last axis of x into n equal contiguous parts.
func SplitLast(x *tensor.Tensor, n int) []*tensor.Tensor {
	if n <= 0 || x.Rank() == 0 || x.Dim(-1)%n != 0 {
		panic("split: last axis not divisible")
	}
	w := x.Dim(-1) / n
	lead := x.Shape[:len(x.Shape)-1]
	rows := x.Rows()
	parts := make([]*tensor.Tensor, n)
	for p := range parts {
		parts[p] = tensor.New(append(append([]int(nil), lead...), w)...)
	}
	for i := 0; i < rows.R; i++ {
		src := rows.Row(i)
		for p := range parts {
			copy(parts[p].Data[i*w:(i+1)*w], src[p*w:(p+1)*w])
		}
	}
	return parts
}

// normHeads applies norm to every head_dim-wide slice of x (B,T,H).
func normHeads(x *tensor.Tensor, norm Norm, nHead int) (*tensor.Tensor, error) {
	hd := x.Dim(-1) / nHead
	view := &tensor.Tensor{Shape: []int{len(x.Data) / hd, hd}, Data: x.Data}
	out, err := norm.Forward(view)
	if err != nil {
		return nil, err
	}
	out.Shape = append([]int(nil), x.Shape...)
	return out, nil
}

// attend computes softmax(q·kᵀ/√d)·v independently for every (batch, head).
// q is (B,Tq,H); k and v are (B,Tk,H).
func attend(q, k, v *tensor.Tensor, nHead int) *tensor.Tensor {
	b, tq, hidden := q.Shape[0], q.Shape[1], q.Shape[2]
	tk := k.Shape[1]
	hd := hidden / nHead
	scale := float32(1 / math.Sqrt(float64(hd)))
	out := tensor.New(b, tq, hidden)
	if tk == 0 {
		return out
	}

	tensor.ParallelFor(b*nHead, func(i int) {
		bi, h := i/nHead, i%nHead
		qm := headMat(q, bi, h, hd)
		km := headMat(k, bi, h, hd)
		kt := tensor.Transpose(&km)
		vm := headMat(v, bi, h, hd)

		scores := tensor.NewMat(tq, tk)
		tensor.Gemm(&scores, &qm, &kt, scale, 0)
		for r := 0; r < tq; r++ {
			tensor.Softmax(scores.Row(r))
		}
		o := tensor.NewMat(tq, hd)
		tensor.Gemm(&o, &scores, &vm, 1, 0)
		for r := 0; r < tq; r++ {
			off := (bi*tq+r)*hidden + h*hd
			copy(out.Data[off:off+hd], o.Row(r))
		}
	})
	return out
}

// headMat copies head h of batch bi out of x (B,T,H) into a (T, hd) matrix.
func headMat(x *tensor.Tensor, bi, h, hd int) tensor.Mat {
	t, hidden := x.Shape[1], x.Shape[2]
	m := tensor.NewMat(t, hd)
	for r := 0; r < t; r++ {
		off := (bi*t+r)*hidden + h*hd
		copy(m.Row(r), x.Data[off:off+hd])
	}
	return m
}
