package dit

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
)

// PromptConfig configures an AttentionBlockPromptEmbedding.
type PromptConfig struct {
	NEmbd          int     `yaml:"n_embd" json:"n_embd"`
	HeadSize       int     `yaml:"head_size" json:"head_size"`
	MLPHiddenMult  float64 `yaml:"mlp_n_hidden_mult" json:"mlp_n_hidden_mult"`
	HiddenBaseMult int     `yaml:"hidden_base_mult" json:"hidden_base_mult"`
	NormEps        float32 `yaml:"norm_eps" json:"norm_eps"`
	UseBias        bool    `yaml:"use_bias" json:"use_bias"`
}

func (c PromptConfig) Validate() error {
	var errs []error
	if c.NEmbd <= 0 || c.HeadSize <= 0 {
		errs = append(errs, fmt.Errorf("n_embd %d and head_size %d must be positive: %w", c.NEmbd, c.HeadSize, ErrInvalidConfig))
	} else if c.NEmbd%c.HeadSize != 0 {
		errs = append(errs, fmt.Errorf("n_embd %d is not divisible by head_size %d: %w", c.NEmbd, c.HeadSize, ErrInvalidConfig))
	}
	if int(float64(c.NEmbd)*c.MLPHiddenMult) <= 0 || c.HiddenBaseMult <= 0 {
		errs = append(errs, fmt.Errorf("feed-forward mult %g base %d: %w", c.MLPHiddenMult, c.HiddenBaseMult, ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// AttentionBlockPromptEmbedding contextualises caption tokens with a plain
// pre-norm transformer block: no conditioning and always the dense
// feed-forward.
type AttentionBlockPromptEmbedding struct {
	NEmbd int
	NHead int

	Ln1  nn.Norm
	Attn *nn.SelfAttention
	Ln2  nn.Norm
	FFN  *FeedForwardNetwork
}

func NewAttentionBlockPromptEmbedding(cfg PromptConfig) (*AttentionBlockPromptEmbedding, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &AttentionBlockPromptEmbedding{
		NEmbd: cfg.NEmbd,
		NHead: cfg.NEmbd / cfg.HeadSize,
	}
	var err error
	if p.Ln1, err = nn.CreateNorm(nn.NormLayer, cfg.NEmbd, cfg.NormEps); err != nil {
		return nil, err
	}
	if p.Attn, err = nn.NewSelfAttention(cfg.NEmbd, p.NHead, 0, cfg.UseBias, cfg.NormEps); err != nil {
		return nil, err
	}
	if p.Ln2, err = nn.CreateNorm(nn.NormLayer, cfg.NEmbd, cfg.NormEps); err != nil {
		return nil, err
	}
	hidden := int(float64(cfg.NEmbd) * cfg.MLPHiddenMult)
	if p.FFN, err = NewFeedForwardNetwork(cfg.NEmbd, hidden, cfg.HiddenBaseMult, cfg.UseBias); err != nil {
		return nil, err
	}
	return p, nil
}

// Forward maps (B,T,C) to (B,T,C).
func (p *AttentionBlockPromptEmbedding) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := p.Ln1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("prompt block: %w", err)
	}
	if h, err = p.Attn.Forward(h); err != nil {
		return nil, err
	}
	if x, err = nn.Gate(x, h, nil); err != nil {
		return nil, err
	}
	if h, err = p.Ln2.Forward(x); err != nil {
		return nil, err
	}
	if h, err = p.FFN.Forward(h); err != nil {
		return nil, err
	}
	return nn.Gate(x, h, nil)
}

// Init draws the attention and feed-forward residual projections with std.
func (p *AttentionBlockPromptEmbedding) Init(rng *rand.Rand, std float64) {
	p.Attn.Init(rng, std)
	p.FFN.Init(rng, std)
}

func (p *AttentionBlockPromptEmbedding) Params(prefix string, ps *nn.Params) {
	p.Ln1.Params(join(prefix, "ln1"), ps)
	p.Attn.Params(join(prefix, "attn"), ps)
	p.Ln2.Params(join(prefix, "ln2"), ps)
	p.FFN.Params(join(prefix, "ffn"), ps)
}
