package dit

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/samcharles93/dit/internal/logger"
	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
)

// Stack is a sequence of NumBlocks DiT blocks sharing one configuration.
// Block i is built with BlockIndex i so depth-aware init sees its position.
type Stack struct {
	Blocks []*DiTBlock
}

func NewStack(cfg BlockConfig, log logger.Logger) (*Stack, error) {
	if cfg.NumBlocks <= 0 {
		return nil, fmt.Errorf("num_blocks must be positive, got %d: %w", cfg.NumBlocks, ErrInvalidConfig)
	}
	s := &Stack{Blocks: make([]*DiTBlock, cfg.NumBlocks)}
	for i := range s.Blocks {
		bc := cfg
		bc.BlockIndex = i
		b, err := NewDiTBlock(bc, log)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		s.Blocks[i] = b
	}
	return s, nil
}

func (s *Stack) Forward(x, c, t *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, b := range s.Blocks {
		if x, err = b.Forward(x, c, t); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
	}
	return x, nil
}

func (s *Stack) Init(rng *rand.Rand) {
	for _, b := range s.Blocks {
		b.Init(rng)
	}
}

func (s *Stack) InitModulation(rng *rand.Rand, std float64) {
	for _, b := range s.Blocks {
		b.InitModulation(rng, std)
	}
}

// Params registers block i under prefix.i.
func (s *Stack) Params(prefix string, p *nn.Params) {
	for i, b := range s.Blocks {
		b.Params(join(prefix, strconv.Itoa(i)), p)
	}
}
