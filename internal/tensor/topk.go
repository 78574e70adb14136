package tensor

import (
	"github.com/emirpasic/gods/v2/trees/binaryheap"
)

type scored struct {
	idx int
	val float32
}

// worse orders candidates so the heap root is the one to evict first: the
// lowest score, and among equal scores the highest index.
func worse(a, b scored) int {
	switch {
	case a.val < b.val:
		return -1
	case a.val > b.val:
		return 1
	case a.idx > b.idx:
		return -1
	case a.idx < b.idx:
		return 1
	}
	return 0
}

// TopK selects the k largest entries of scores. idxOut and valOut receive
// them in descending score order; ties keep the lower index first. k larger
// than len(scores) is clamped. It returns the number of entries written.
func TopK(scores []float32, k int, idxOut []int, valOut []float32) int {
	if k > len(scores) {
		k = len(scores)
	}
	if k <= 0 {
		return 0
	}
	if len(idxOut) < k || len(valOut) < k {
		panic("topk output buffers too small")
	}

	heap := binaryheap.NewWith(worse)
	for i, v := range scores {
		cand := scored{idx: i, val: v}
		if heap.Size() < k {
			heap.Push(cand)
			continue
		}
		root, _ := heap.Peek()
		if worse(root, cand) < 0 {
			heap.Pop()
			heap.Push(cand)
		}
	}

	for j := k - 1; j >= 0; j-- {
		s, _ := heap.Pop()
		idxOut[j] = s.idx
		valOut[j] = s.val
	}
	return k
}
