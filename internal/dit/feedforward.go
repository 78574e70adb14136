package dit

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
)

// FeedForward is the channel-mixing sub-layer of a DiTBlock. The set of
// implementations is closed: FeedForwardNetwork and FeedForwardECMoe.
type FeedForward interface {
	// Forward maps (B,T,C) to (B,T,C).
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// Init draws the residual output projection with std and every other
	// projection with 0.02.
	Init(rng *rand.Rand, std float64)
	Params(prefix string, p *nn.Params)
	// HiddenDim is the rounded hidden width.
	HiddenDim() int

	feedForward()
}

// FeedForwardNetwork is the dense gated transform fc3(silu(fc1(x)) * fc2(x)).
type FeedForwardNetwork struct {
	NEmbd   int
	NHidden int

	FC1 *nn.Linear
	FC2 *nn.Linear
	FC3 *nn.Linear
}

// NewFeedForwardNetwork rounds nHidden up to a multiple of hiddenBaseMult.
func NewFeedForwardNetwork(nEmbd, nHidden, hiddenBaseMult int, useBias bool) (*FeedForwardNetwork, error) {
	if nEmbd <= 0 || nHidden <= 0 || hiddenBaseMult <= 0 {
		return nil, fmt.Errorf("feed-forward n_embd=%d n_hidden=%d base=%d: %w", nEmbd, nHidden, hiddenBaseMult, ErrInvalidConfig)
	}
	h := RoundUp(nHidden, hiddenBaseMult)
	return &FeedForwardNetwork{
		NEmbd:   nEmbd,
		NHidden: h,
		FC1:     nn.NewLinear(nEmbd, h, useBias),
		FC2:     nn.NewLinear(nEmbd, h, useBias),
		FC3:     nn.NewLinear(h, nEmbd, useBias),
	}, nil
}

// Forward accepts any rank whose last axis is NEmbd.
func (f *FeedForwardNetwork) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	gate, err := f.FC1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("feed-forward: %w", err)
	}
	up, err := f.FC2.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("feed-forward: %w", err)
	}
	tensor.SiluMul(gate.Data, gate.Data, up.Data)
	return f.FC3.Forward(gate)
}

func (f *FeedForwardNetwork) Init(rng *rand.Rand, std float64) {
	f.FC1.Init(rng, baseInitStd)
	f.FC2.Init(rng, baseInitStd)
	f.FC3.Init(rng, std)
}

func (f *FeedForwardNetwork) Params(prefix string, p *nn.Params) {
	f.FC1.Params(join(prefix, "fc1"), p)
	f.FC2.Params(join(prefix, "fc2"), p)
	f.FC3.Params(join(prefix, "fc3"), p)
}

func (f *FeedForwardNetwork) HiddenDim() int { return f.NHidden }

func (*FeedForwardNetwork) feedForward() {}
