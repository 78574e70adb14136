package dit

import "math"

// baseInitStd is the std of every projection that does not write into the
// residual stream.
const baseInitStd = 0.02

// WeightInitStd returns the std for residual-branch output projections.
//
// With depthInit the std shrinks with the block's own depth,
// 0.02/sqrt(3(blockIndex+1)); otherwise every block of the stack uses
// 0.02/sqrt(3·numBlocks).
func WeightInitStd(depthInit bool, blockIndex, numBlocks int) float64 {
	if depthInit {
		return baseInitStd / math.Sqrt(3*float64(blockIndex+1))
	}
	return baseInitStd / math.Sqrt(3*float64(numBlocks))
}

// RoundUp rounds n up to the next multiple of base.
func RoundUp(n, base int) int {
	return base * ((n + base - 1) / base)
}
