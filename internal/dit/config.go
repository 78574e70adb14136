package dit

import (
	"errors"
	"fmt"

	"github.com/samcharles93/dit/internal/nn"
)

// BlockConfig is the construction surface of a DiTBlock. Field tags match
// the YAML and JSON keys accepted by the CLI and the HTTP API.
type BlockConfig struct {
	NEmbd              int     `yaml:"n_embd" json:"n_embd"`
	HeadSize           int     `yaml:"head_size" json:"head_size"`
	MLPHiddenMult      float64 `yaml:"mlp_n_hidden_mult" json:"mlp_n_hidden_mult"`
	QKVHiddenMult      float64 `yaml:"qkv_n_hidden_mult" json:"qkv_n_hidden_mult"`
	HiddenBaseMult     int     `yaml:"hidden_base_mult" json:"hidden_base_mult"`
	PooledCaptionNEmbd int     `yaml:"pooled_caption_n_embd" json:"pooled_caption_n_embd"`
	NormEps            float32 `yaml:"norm_eps" json:"norm_eps"`
	NormKind           string  `yaml:"norm_kind" json:"norm_kind"`
	DepthInit          bool    `yaml:"depth_init" json:"depth_init"`
	BlockIndex         int     `yaml:"block_index" json:"block_index"`
	NumBlocks          int     `yaml:"num_blocks" json:"num_blocks"`
	ScaleCxAttnHidden  bool    `yaml:"scale_cx_attn_n_hidden" json:"scale_cx_attn_n_hidden"`
	UseBias            bool    `yaml:"use_bias" json:"use_bias"`
	UseMoE             bool    `yaml:"use_moe" json:"use_moe"`
	NumExperts         int     `yaml:"num_experts" json:"num_experts"`
	ExpertCapacity     float64 `yaml:"expert_capacity" json:"expert_capacity"`
}

// DefaultBlockConfig is a small dense block, sized for experiments on a CPU.
func DefaultBlockConfig() BlockConfig {
	return BlockConfig{
		NEmbd:              64,
		HeadSize:           16,
		MLPHiddenMult:      4,
		QKVHiddenMult:      1,
		HiddenBaseMult:     16,
		PooledCaptionNEmbd: 64,
		NormEps:            nn.DefaultNormEps,
		NormKind:           nn.NormLayer,
		DepthInit:          true,
		NumBlocks:          4,
		UseBias:            true,
		NumExperts:         8,
		ExpertCapacity:     2,
	}
}

// Validate reports every violated precondition at once. Each reported error
// wraps ErrInvalidConfig.
func (c BlockConfig) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrInvalidConfig)...))
	}

	if c.NEmbd <= 0 {
		bad("n_embd must be positive, got %d", c.NEmbd)
	}
	if c.HeadSize <= 0 {
		bad("head_size must be positive, got %d", c.HeadSize)
	} else if c.NEmbd%c.HeadSize != 0 {
		bad("n_embd %d is not divisible by head_size %d", c.NEmbd, c.HeadSize)
	}
	if c.HiddenBaseMult <= 0 {
		bad("hidden_base_mult must be positive, got %d", c.HiddenBaseMult)
	}
	if c.MLPHidden() <= 0 {
		bad("mlp hidden width int(%d*%g) must be positive", c.NEmbd, c.MLPHiddenMult)
	}
	if c.HeadSize > 0 && c.QKVHidden() <= 0 {
		bad("qkv hidden width from multiplier %g must be positive", c.QKVHiddenMult)
	}
	if c.PooledCaptionNEmbd <= 0 {
		bad("pooled_caption_n_embd must be positive, got %d", c.PooledCaptionNEmbd)
	}
	if c.NormEps < 0 {
		bad("norm_eps must not be negative, got %g", c.NormEps)
	}
	switch c.normKind() {
	case nn.NormLayer, nn.NormLayerNP, nn.NormRMS, nn.NormRMSNP:
	default:
		bad("norm_kind %q is not supported", c.NormKind)
	}
	if c.NumBlocks <= 0 {
		bad("num_blocks must be positive, got %d", c.NumBlocks)
	} else if c.BlockIndex < 0 || c.BlockIndex >= c.NumBlocks {
		bad("block_index %d outside [0, %d)", c.BlockIndex, c.NumBlocks)
	}
	if c.UseMoE {
		if c.NumExperts <= 0 {
			bad("num_experts must be positive, got %d", c.NumExperts)
		}
		if c.ExpertCapacity <= 0 {
			bad("expert_capacity must be positive, got %g", c.ExpertCapacity)
		}
	}
	return errors.Join(errs...)
}

// QKVHidden is the self-attention hidden width: n_embd when the multiplier
// is 1, otherwise int(mult·n_embd) rounded up to a multiple of 2·head_size.
func (c BlockConfig) QKVHidden() int {
	if c.QKVHiddenMult == 1 {
		return c.NEmbd
	}
	return RoundUp(int(c.QKVHiddenMult*float64(c.NEmbd)), 2*c.HeadSize)
}

// CrossHidden is the cross-attention hidden width.
func (c BlockConfig) CrossHidden() int {
	if c.ScaleCxAttnHidden {
		return c.QKVHidden()
	}
	return c.NEmbd
}

// MLPHidden is the requested feed-forward width before rounding.
func (c BlockConfig) MLPHidden() int {
	return int(float64(c.NEmbd) * c.MLPHiddenMult)
}

// WeightInitStd is the residual-projection std for this block.
func (c BlockConfig) WeightInitStd() float64 {
	return WeightInitStd(c.DepthInit, c.BlockIndex, c.NumBlocks)
}

// PromptConfig derives the prompt embedding block that shares this block's
// widths.
func (c BlockConfig) PromptConfig() PromptConfig {
	return PromptConfig{
		NEmbd:          c.NEmbd,
		HeadSize:       c.HeadSize,
		MLPHiddenMult:  c.MLPHiddenMult,
		HiddenBaseMult: c.HiddenBaseMult,
		NormEps:        c.NormEps,
		UseBias:        c.UseBias,
	}
}

func (c BlockConfig) normKind() string {
	if c.NormKind == "" {
		return nn.NormLayer
	}
	return c.NormKind
}
