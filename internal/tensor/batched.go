package tensor

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// GemmBatch is one independent product C = A*B of a batched GEMM.
type GemmBatch struct {
	C, A, B *Mat
}

// BatchedGemm computes every product in batch. The products run in parallel
// with at most GOMAXPROCS in flight; each product runs on a single goroutine.
// Products must not share their C matrices.
func BatchedGemm(batch []GemmBatch) {
	ParallelFor(len(batch), func(i int) {
		p := batch[i]
		Gemm(p.C, p.A, p.B, 1, 0)
	})
}

// ParallelFor calls fn(i) for every i in [0, n) using a bounded set of
// goroutines. fn must be safe for concurrent use across distinct i.
func ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	limit := runtime.GOMAXPROCS(0)
	if n == 1 || limit <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// Transpose returns a newly allocated transpose of m.
func Transpose(m *Mat) Mat {
	out := NewMat(m.C, m.R)
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j, v := range row {
			out.Data[j*out.Stride+i] = v
		}
	}
	return out
}
