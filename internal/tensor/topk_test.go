package tensor

import (
	"sort"
	"testing"
)

func TestTopKDescendingWithTies(t *testing.T) {
	scores := []float32{0.1, 0.5, 0.3, 0.5, 0.2}
	idx := make([]int, 3)
	val := make([]float32, 3)
	n := TopK(scores, 3, idx, val)
	if n != 3 {
		t.Fatalf("n=%d", n)
	}
	wantIdx := []int{1, 3, 2}
	wantVal := []float32{0.5, 0.5, 0.3}
	for i := range wantIdx {
		if idx[i] != wantIdx[i] || val[i] != wantVal[i] {
			t.Fatalf("slot %d: got (%d,%g) want (%d,%g)", i, idx[i], val[i], wantIdx[i], wantVal[i])
		}
	}
}

func TestTopKZeroAndClamp(t *testing.T) {
	scores := []float32{3, 1, 2}
	if n := TopK(scores, 0, nil, nil); n != 0 {
		t.Fatalf("k=0 wrote %d entries", n)
	}
	idx := make([]int, 5)
	val := make([]float32, 5)
	if n := TopK(scores, 5, idx, val); n != 3 {
		t.Fatalf("clamped n=%d", n)
	}
	if idx[0] != 0 || idx[1] != 2 || idx[2] != 1 {
		t.Fatalf("order %v", idx[:3])
	}
}

func TestTopKMatchesSort(t *testing.T) {
	m := NewMat(1, 200)
	FillRand(&m, 9)
	scores := m.Row(0)
	const k = 17
	idx := make([]int, k)
	val := make([]float32, k)
	TopK(scores, k, idx, val)

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	for i := 0; i < k; i++ {
		if idx[i] != order[i] {
			t.Fatalf("rank %d: got %d want %d", i, idx[i], order[i])
		}
	}
}
