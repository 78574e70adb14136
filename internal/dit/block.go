package dit

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/dit/internal/logger"
	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
)

// DiTBlock is a transformer block conditioned through adaptive norm
// modulation. A pooled conditioning vector t is projected to six (B,C)
// tensors that shift, scale and gate the self-attention and feed-forward
// branches. Cross-attention to the caption sequence is not modulated.
//
// Forward is safe for concurrent use once Init has returned.
type DiTBlock struct {
	Config BlockConfig

	Ln1    nn.Norm
	Attn   *nn.SelfAttention
	Ln2    nn.Norm
	CxAttn *nn.CrossAttention
	Ln3    nn.Norm
	MLP    FeedForward
	// AdaLN maps GELU_tanh(t) to the six modulation chunks. It is left at
	// zero by Init so a fresh block gates both modulated branches off.
	AdaLN *nn.Linear

	weightInitStd float64
	log           logger.Logger
}

// NewDiTBlock validates cfg and allocates a zero-initialised block. A nil
// log discards construction and init messages.
func NewDiTBlock(cfg BlockConfig, log logger.Logger) (*DiTBlock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	c := cfg.NEmbd
	kind := cfg.normKind()
	qkvHidden := cfg.QKVHidden()
	cxHidden := cfg.CrossHidden()

	b := &DiTBlock{
		Config:        cfg,
		AdaLN:         nn.NewLinear(cfg.PooledCaptionNEmbd, 6*c, true),
		weightInitStd: cfg.WeightInitStd(),
		log:           log.With("block", cfg.BlockIndex),
	}

	var err error
	if b.Ln1, err = nn.CreateNorm(kind, c, cfg.NormEps); err != nil {
		return nil, err
	}
	if b.Ln2, err = nn.CreateNorm(kind, c, cfg.NormEps); err != nil {
		return nil, err
	}
	if b.Ln3, err = nn.CreateNorm(kind, c, cfg.NormEps); err != nil {
		return nil, err
	}
	if b.Attn, err = nn.NewSelfAttention(c, qkvHidden/cfg.HeadSize, qkvHidden, cfg.UseBias, cfg.NormEps); err != nil {
		return nil, fmt.Errorf("self-attention: %w", err)
	}
	if b.CxAttn, err = nn.NewCrossAttention(c, cxHidden/cfg.HeadSize, cxHidden, cfg.UseBias, cfg.NormEps); err != nil {
		return nil, fmt.Errorf("cross-attention: %w", err)
	}
	if cfg.UseMoE {
		b.MLP, err = NewFeedForwardECMoe(cfg.NumExperts, cfg.ExpertCapacity, c, cfg.MLPHidden(), cfg.HiddenBaseMult)
	} else {
		b.MLP, err = NewFeedForwardNetwork(c, cfg.MLPHidden(), cfg.HiddenBaseMult, cfg.UseBias)
	}
	if err != nil {
		return nil, err
	}

	b.log.Debug("dit block built",
		"n_embd", c,
		"qkv_hidden", qkvHidden,
		"cx_hidden", cxHidden,
		"mlp_hidden", b.MLP.HiddenDim(),
		"moe", cfg.UseMoE,
		"weight_init_std", b.weightInitStd,
	)
	return b, nil
}

// WeightInitStd is the std used for this block's residual projections.
func (b *DiTBlock) WeightInitStd() float64 { return b.weightInitStd }

// Forward maps x (B,T,C), c (B,Tc,C) and t (B,Cpool) to (B,T,C).
func (b *DiTBlock) Forward(x, c, t *tensor.Tensor) (*tensor.Tensor, error) {
	n := b.Config.NEmbd
	if x.Rank() != 3 || x.Dim(2) != n {
		return nil, fmt.Errorf("dit block: x %v, want (B,T,%d): %w", x, n, ErrShape)
	}
	if t.Rank() != 2 || t.Dim(0) != x.Dim(0) || t.Dim(1) != b.Config.PooledCaptionNEmbd {
		return nil, fmt.Errorf("dit block: t %v, want (%d,%d): %w", t, x.Dim(0), b.Config.PooledCaptionNEmbd, ErrShape)
	}

	cond := t.Clone()
	tensor.Apply(cond.Data, tensor.GeluTanh)
	mod, err := b.AdaLN.Forward(cond)
	if err != nil {
		return nil, err
	}
	chunks := nn.SplitLast(mod, 6)
	shiftMSA, scaleMSA, gateMSA := chunks[0], chunks[1], chunks[2]
	shiftMLP, scaleMLP, gateMLP := chunks[3], chunks[4], chunks[5]

	h, err := b.Ln1.Forward(x)
	if err != nil {
		return nil, err
	}
	if h, err = nn.Modulate(h, shiftMSA, scaleMSA); err != nil {
		return nil, err
	}
	if h, err = b.Attn.Forward(h); err != nil {
		return nil, err
	}
	if x, err = nn.Gate(x, h, gateMSA); err != nil {
		return nil, err
	}

	if h, err = b.Ln2.Forward(x); err != nil {
		return nil, err
	}
	if h, err = b.CxAttn.Forward(h, c); err != nil {
		return nil, err
	}
	if x, err = nn.Gate(x, h, nil); err != nil {
		return nil, err
	}

	if h, err = b.Ln3.Forward(x); err != nil {
		return nil, err
	}
	if h, err = nn.Modulate(h, shiftMLP, scaleMLP); err != nil {
		return nil, err
	}
	if h, err = b.MLP.Forward(h); err != nil {
		return nil, err
	}
	return nn.Gate(x, h, gateMLP)
}

// Init resets the three norms to identity and draws the attention,
// cross-attention and feed-forward weights from the block's init std.
// It does not touch AdaLN; see InitModulation. It must finish before any
// concurrent Forward.
func (b *DiTBlock) Init(rng *rand.Rand) {
	for _, n := range []nn.Norm{b.Ln1, b.Ln2, b.Ln3} {
		n.Reset()
	}
	b.Attn.Init(rng, b.weightInitStd)
	b.CxAttn.Init(rng, b.weightInitStd)
	b.MLP.Init(rng, b.weightInitStd)
	b.log.Debug("dit block initialised", "std", b.weightInitStd)
}

// InitModulation draws the AdaLN projection from a truncated normal.
//
// Init alone leaves AdaLN at zero (adaLN-zero). Every shift, scale and gate
// is then zero, so the self-attention and feed-forward branches contribute
// nothing and Forward returns x plus the cross-attention residual. Callers
// that want the usual non-zero default Linear init of the modulation
// projection must call InitModulation after Init.
func (b *DiTBlock) InitModulation(rng *rand.Rand, std float64) {
	b.AdaLN.Init(rng, std)
}

// Params registers every tensor of the block under prefix.
func (b *DiTBlock) Params(prefix string, p *nn.Params) {
	b.Ln1.Params(join(prefix, "ln1"), p)
	b.Attn.Params(join(prefix, "attn"), p)
	b.Ln2.Params(join(prefix, "ln2"), p)
	b.CxAttn.Params(join(prefix, "cx_attn"), p)
	b.Ln3.Params(join(prefix, "ln3"), p)
	b.MLP.Params(join(prefix, "mlp"), p)
	b.AdaLN.Params(join(prefix, "adaln_modulation"), p)
}
