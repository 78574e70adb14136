package dit

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/samcharles93/dit/internal/nn"
	"github.com/samcharles93/dit/internal/tensor"
)

// TensorStats summarises the values of one tensor.
type TensorStats struct {
	Name  string  `json:"name"`
	Shape []int   `json:"shape"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Summarize computes mean, sample std, min and max of t. Std is zero for
// fewer than two values.
func Summarize(name string, t *tensor.Tensor) TensorStats {
	s := TensorStats{Name: name, Shape: slices.Clone(t.Shape), Count: t.Numel()}
	if s.Count == 0 {
		return s
	}
	vals := make([]float64, len(t.Data))
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	for i, v := range t.Data {
		f := float64(v)
		vals[i] = f
		s.Min = min(s.Min, f)
		s.Max = max(s.Max, f)
	}
	if s.Count < 2 {
		s.Mean = vals[0]
		return s
	}
	s.Mean, s.Std = stat.MeanStdDev(vals, nil)
	return s
}

// ParamStats summarises every registered tensor in registration order.
func ParamStats(p *nn.Params) []TensorStats {
	out := make([]TensorStats, 0, p.Len())
	p.Each(func(name string, t *tensor.Tensor) {
		out = append(out, Summarize(name, t))
	})
	return out
}
