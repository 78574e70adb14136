package api

import (
	"fmt"

	"github.com/samcharles93/dit/internal/dit"
	"github.com/samcharles93/dit/internal/tensor"
)

// ForwardRequest carries the three block inputs as nested arrays:
// X is (B,T,C), C is (B,Tc,C) and T is (B,Cpool).
type ForwardRequest struct {
	X [][][]float32 `json:"x"`
	C [][][]float32 `json:"c"`
	T [][]float32   `json:"t"`
	// Store keeps the output retrievable under /v1/runs/:id.
	Store bool `json:"store,omitempty"`
}

// PromptRequest carries a caption sequence (B,T,C).
type PromptRequest struct {
	X     [][][]float32 `json:"x"`
	Store bool          `json:"store,omitempty"`
}

// RouteRequest carries the feed-forward input (B,T,C) of one MoE block.
type RouteRequest struct {
	X     [][][]float32 `json:"x"`
	Block int           `json:"block"`
}

// ForwardResponse is returned by both forward endpoints.
type ForwardResponse struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Shape     []int           `json:"shape"`
	Output    [][][]float32   `json:"output"`
	Stats     dit.TensorStats `json:"stats"`
}

type RouteResponse struct {
	Object string           `json:"object"`
	Block  int              `json:"block"`
	Stats  dit.RoutingStats `json:"stats"`
}

// BlockInfo describes the loaded stack.
type BlockInfo struct {
	Object        string          `json:"object"`
	Config        dit.BlockConfig `json:"config"`
	NumBlocks     int             `json:"num_blocks"`
	WeightInitStd []float64       `json:"weight_init_std"`
	MLPHidden     int             `json:"mlp_hidden"`
	QKVHidden     int             `json:"qkv_hidden"`
	CrossHidden   int             `json:"cx_hidden"`
	ParamCount    int             `json:"param_count"`
	DType         string          `json:"dtype"`
}

type DeleteRunResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

func tensor3(name string, v [][][]float32) (*tensor.Tensor, error) {
	if len(v) == 0 || len(v[0]) == 0 {
		return nil, newInvalidRequest(name + " must be a non-empty (B,T,C) array")
	}
	b, t, c := len(v), len(v[0]), len(v[0][0])
	out := tensor.New(b, t, c)
	for i, seq := range v {
		if len(seq) != t {
			return nil, newInvalidRequest(fmt.Sprintf("%s[%d] has %d tokens, want %d", name, i, len(seq), t))
		}
		for j, row := range seq {
			if len(row) != c {
				return nil, newInvalidRequest(fmt.Sprintf("%s[%d][%d] has %d channels, want %d", name, i, j, len(row), c))
			}
			copy(out.Data[(i*t+j)*c:], row)
		}
	}
	return out, nil
}

func tensor2(name string, v [][]float32) (*tensor.Tensor, error) {
	if len(v) == 0 {
		return nil, newInvalidRequest(name + " must be a non-empty (B,C) array")
	}
	b, c := len(v), len(v[0])
	out := tensor.New(b, c)
	for i, row := range v {
		if len(row) != c {
			return nil, newInvalidRequest(fmt.Sprintf("%s[%d] has %d channels, want %d", name, i, len(row), c))
		}
		copy(out.Data[i*c:], row)
	}
	return out, nil
}

func nested3(x *tensor.Tensor) [][][]float32 {
	b, t, c := x.Shape[0], x.Shape[1], x.Shape[2]
	out := make([][][]float32, b)
	for i := range out {
		out[i] = make([][]float32, t)
		for j := range out[i] {
			off := (i*t + j) * c
			out[i][j] = x.Data[off : off+c : off+c]
		}
	}
	return out
}
