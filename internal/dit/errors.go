package dit

import (
	"errors"

	"github.com/samcharles93/dit/internal/nn"
)

var (
	// ErrInvalidConfig reports a configuration that cannot produce a block.
	ErrInvalidConfig = errors.New("invalid block configuration")
	// ErrShape reports inputs whose shapes do not fit the block. It is the
	// same sentinel the collaborator layers return.
	ErrShape = nn.ErrShape
)
