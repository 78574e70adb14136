package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/samcharles93/dit/internal/api"
	"github.com/samcharles93/dit/internal/dit"
	"github.com/samcharles93/dit/internal/logger"
	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
)

// modulationInitStd is the std of the AdaLN projection when it is not left
// at zero.
const modulationInitStd = 0.02

// buildModel constructs and initialises the block stack and the prompt
// embedding block from one seed, then rounds the weights to dtype.
func buildModel(ctx context.Context, cfg dit.BlockConfig, seed int64, dtypeName string, zeroModulation bool) (*api.Model, error) {
	log := logger.FromContext(ctx)
	dtype, err := tensor.ParseDType(dtypeName)
	if err != nil {
		return nil, fmt.Errorf("--weight-dtype: %w", err)
	}
	stack, err := dit.NewStack(cfg, log)
	if err != nil {
		return nil, err
	}
	prompt, err := dit.NewAttentionBlockPromptEmbedding(cfg.PromptConfig())
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	stack.Init(rng)
	if !zeroModulation {
		stack.InitModulation(rng, modulationInitStd)
	}
	prompt.Init(rng, modulationInitStd)

	params := nn.NewParams()
	stack.Params("blocks", params)
	prompt.Params("prompt", params)
	params.RoundTrip(dtype)

	log.Debug("model built",
		"blocks", len(stack.Blocks),
		"params", params.Count(),
		"dtype", dtype.String(),
		"moe", cfg.UseMoE,
	)
	return &api.Model{Config: cfg, Stack: stack, Prompt: prompt, DType: dtype}, nil
}

// randomInputs draws x (B,T,C), c (B,Tc,C) and t (B,Cpool) from N(0,1).
func randomInputs(cfg dit.BlockConfig, seed int64, batch, tokens, ctxTokens int) (x, c, t *tensor.Tensor) {
	rng := rand.New(rand.NewSource(seed + 1))
	x = tensor.New(batch, tokens, cfg.NEmbd)
	c = tensor.New(batch, ctxTokens, cfg.NEmbd)
	t = tensor.New(batch, cfg.PooledCaptionNEmbd)
	for _, ts := range []*tensor.Tensor{x, c, t} {
		for i := range ts.Data {
			ts.Data[i] = float32(rng.NormFloat64())
		}
	}
	return x, c, t
}
