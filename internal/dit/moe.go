package dit

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
)

// FeedForwardECMoe is an expert-choice mixture of experts. Every expert
// picks the same number of tokens, so compute per expert is fixed no
// matter how skewed the gate is. Expert weights are stored batched:
// W1 is (E,C,H) and W2 is (E,H,C).
type FeedForwardECMoe struct {
	NumExperts int
	Capacity   float64
	NEmbd      int
	NHidden    int

	Gate *nn.Linear
	W1   *tensor.Tensor
	W2   *tensor.Tensor
}

// NewFeedForwardECMoe builds the layer with nHidden rounded up to a multiple
// of hiddenBaseMult. Expert weights start at one until Init is called.
func NewFeedForwardECMoe(numExperts int, capacity float64, nEmbd, nHidden, hiddenBaseMult int) (*FeedForwardECMoe, error) {
	if numExperts <= 0 || capacity <= 0 {
		return nil, fmt.Errorf("moe experts=%d capacity=%g: %w", numExperts, capacity, ErrInvalidConfig)
	}
	if nEmbd <= 0 || nHidden <= 0 || hiddenBaseMult <= 0 {
		return nil, fmt.Errorf("moe n_embd=%d n_hidden=%d base=%d: %w", nEmbd, nHidden, hiddenBaseMult, ErrInvalidConfig)
	}
	h := RoundUp(nHidden, hiddenBaseMult)
	m := &FeedForwardECMoe{
		NumExperts: numExperts,
		Capacity:   capacity,
		NEmbd:      nEmbd,
		NHidden:    h,
		Gate:       nn.NewLinear(nEmbd, numExperts, false),
		W1:         tensor.New(numExperts, nEmbd, h),
		W2:         tensor.New(numExperts, h, nEmbd),
	}
	tensor.Fill(m.W1.Data, 1)
	tensor.Fill(m.W2.Data, 1)
	return m, nil
}

// TokensPerExpert is the capacity L = floor(capacity·T/E). The clamp to T
// only takes effect when capacity > E; otherwise every expert picks exactly
// floor(capacity·T/E) tokens.
func (m *FeedForwardECMoe) TokensPerExpert(t int) int {
	l := int(m.Capacity * float64(t) / float64(m.NumExperts))
	return min(l, t)
}

// Routing holds the gate's decisions for one input.
type Routing struct {
	B, T, E, L int

	Logits *tensor.Tensor // (B,T,E)
	Probs  *tensor.Tensor // (B,T,E), softmax over E
	// Indices holds, for every (b, e), the L chosen token positions in
	// descending probability order. Flattened (B,E,L).
	Indices []int
	Weights *tensor.Tensor // (B,E,L) probability of each chosen token
}

// Route runs the gate and lets every expert choose its top-L tokens.
func (m *FeedForwardECMoe) Route(x *tensor.Tensor) (*Routing, error) {
	if x.Rank() != 3 {
		return nil, fmt.Errorf("expert-choice moe: input %v is not (B,T,C): %w", x, ErrShape)
	}
	if x.Dim(2) != m.NEmbd {
		return nil, fmt.Errorf("expert-choice moe: input %v, want %d channels: %w", x, m.NEmbd, ErrShape)
	}
	b, t, e := x.Dim(0), x.Dim(1), m.NumExperts

	logits, err := m.Gate.Forward(x)
	if err != nil {
		return nil, err
	}
	probs := logits.Clone()
	rows := probs.Rows()
	for i := 0; i < rows.R; i++ {
		tensor.Softmax(rows.Row(i))
	}

	l := m.TokensPerExpert(t)
	r := &Routing{
		B: b, T: t, E: e, L: l,
		Logits:  logits,
		Probs:   probs,
		Indices: make([]int, b*e*l),
		Weights: tensor.New(b, e, l),
	}
	if l == 0 {
		return r, nil
	}

	// Expert-major view: row (b, e) scores every token for expert e.
	tensor.ParallelFor(b*e, func(i int) {
		bi, ei := i/e, i%e
		scores := make([]float32, t)
		for ti := range t {
			scores[ti] = probs.Data[(bi*t+ti)*e+ei]
		}
		tensor.TopK(scores, l, r.Indices[i*l:(i+1)*l], r.Weights.Data[i*l:(i+1)*l])
	})
	return r, nil
}

// OneHot expands Indices into the (B,E,L,T) selection tensor.
func (r *Routing) OneHot() *tensor.Tensor {
	out := tensor.New(r.B, r.E, r.L, r.T)
	for slot, tok := range r.Indices {
		out.Data[slot*r.T+tok] = 1
	}
	return out
}

// Forward gathers each expert's tokens, runs the expert MLPs, weights the
// results by routing probability and scatters them back. Tokens chosen by
// several experts receive the sum of their contributions; tokens chosen by
// none receive zero. The one-hot gather and scatter skip unselected terms,
// so a non-finite token only affects the slots that selected it.
func (m *FeedForwardECMoe) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	r, err := m.Route(x)
	if err != nil {
		return nil, err
	}
	b, t, e, l := r.B, r.T, r.E, r.L
	c, h := m.NEmbd, m.NHidden
	out := tensor.New(b, t, c)
	if l == 0 {
		return out, nil
	}

	oneHot := r.OneHot()
	xin := tensor.New(b, e, l, c)
	act := tensor.New(b, e, l, h)
	y := tensor.New(b, e, l, c)

	n := b * e
	sel := make([]tensor.Mat, n)
	xs := make([]tensor.Mat, b)
	xi := make([]tensor.Mat, n)
	ai := make([]tensor.Mat, n)
	yi := make([]tensor.Mat, n)
	w1 := make([]tensor.Mat, e)
	w2 := make([]tensor.Mat, e)
	for bi := range b {
		xs[bi] = block(x, bi, t, c)
	}
	for ei := range e {
		w1[ei] = block(m.W1, ei, c, h)
		w2[ei] = block(m.W2, ei, h, c)
	}
	for i := range n {
		sel[i] = block(oneHot, i, l, t)
		xi[i] = block(xin, i, l, c)
		ai[i] = block(act, i, l, h)
		yi[i] = block(y, i, l, c)
	}

	stage := make([]tensor.GemmBatch, n)

	// Gather (E,L,T)·(T,C) per batch element.
	for i := range n {
		stage[i] = tensor.GemmBatch{C: &xi[i], A: &sel[i], B: &xs[i/e]}
	}
	tensor.BatchedGemm(stage)

	for i := range n {
		stage[i] = tensor.GemmBatch{C: &ai[i], A: &xi[i], B: &w1[i%e]}
	}
	tensor.BatchedGemm(stage)
	tensor.Apply(act.Data, tensor.Gelu)

	for i := range n {
		stage[i] = tensor.GemmBatch{C: &yi[i], A: &ai[i], B: &w2[i%e]}
	}
	tensor.BatchedGemm(stage)

	for slot, w := range r.Weights.Data {
		tensor.Scale(y.Data[slot*c:(slot+1)*c], w)
	}

	// Scatter: out[b] = sel[b]ᵀ (T, E·L) · y[b] (E·L, C).
	scatter := make([]tensor.GemmBatch, b)
	selT := make([]tensor.Mat, b)
	ys := make([]tensor.Mat, b)
	outs := make([]tensor.Mat, b)
	for bi := range b {
		s := block(oneHot, bi, e*l, t)
		selT[bi] = tensor.Transpose(&s)
		ys[bi] = block(y, bi, e*l, c)
		outs[bi] = block(out, bi, t, c)
		scatter[bi] = tensor.GemmBatch{C: &outs[bi], A: &selT[bi], B: &ys[bi]}
	}
	tensor.BatchedGemm(scatter)
	return out, nil
}

// Init draws the gate and W1 with std 0.02 and W2 with std.
func (m *FeedForwardECMoe) Init(rng *rand.Rand, std float64) {
	m.Gate.Init(rng, baseInitStd)
	tensor.TruncNormal(rng, m.W1.Data, 0, baseInitStd, tensor.TruncLow, tensor.TruncHigh)
	tensor.TruncNormal(rng, m.W2.Data, 0, std, tensor.TruncLow, tensor.TruncHigh)
}

func (m *FeedForwardECMoe) Params(prefix string, p *nn.Params) {
	m.Gate.Params(join(prefix, "gate"), p)
	p.Add(join(prefix, "w1"), m.W1)
	p.Add(join(prefix, "w2"), m.W2)
}

func (m *FeedForwardECMoe) HiddenDim() int { return m.NHidden }

func (*FeedForwardECMoe) feedForward() {}

// block returns the i-th contiguous r×c matrix of t as a view.
func block(t *tensor.Tensor, i, r, c int) tensor.Mat {
	n := r * c
	return tensor.NewMatFromData(r, c, t.Data[i*n:(i+1)*n])
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
