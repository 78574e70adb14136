package dit

import (
	"math/rand"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/samcharles93/dit/internal/tensor"
)

func randTensor(seed int64, shape ...int) *tensor.Tensor {
	x := tensor.New(shape...)
	rng := rand.New(rand.NewSource(seed))
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}
	return x
}

var approx = cmpopts.EquateApprox(0, 1e-4)

func smallConfig() BlockConfig {
	cfg := DefaultBlockConfig()
	cfg.NEmbd = 32
	cfg.HeadSize = 8
	cfg.MLPHiddenMult = 2.5
	cfg.HiddenBaseMult = 16
	cfg.PooledCaptionNEmbd = 24
	cfg.NumBlocks = 3
	cfg.NumExperts = 4
	cfg.ExpertCapacity = 2
	return cfg
}
