package nn

import "errors"

var (
	// ErrShape reports an input whose rank or dimensions do not match the
	// operator it was passed to.
	ErrShape = errors.New("shape mismatch")
	// ErrUnknownNorm reports an unsupported normalization kind.
	ErrUnknownNorm = errors.New("unknown normalization kind")
	// ErrConfig reports inconsistent constructor arguments.
	ErrConfig = errors.New("invalid layer configuration")
)
