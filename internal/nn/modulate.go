package nn

import (
	"fmt"

	"github.com/samcharles93/dit/internal/tensor"
)

// Modulate returns h*(1+scale) + shift where h is (B,T,C) and shift, scale
// are (B,C) broadcast over the token axis.
func Modulate(h, shift, scale *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkBroadcast(h, shift); err != nil {
		return nil, fmt.Errorf("modulate shift: %w", err)
	}
	if err := checkBroadcast(h, scale); err != nil {
		return nil, fmt.Errorf("modulate scale: %w", err)
	}
	b, t, c := h.Shape[0], h.Shape[1], h.Shape[2]
	out := tensor.New(b, t, c)
	for bi := 0; bi < b; bi++ {
		sh := shift.Data[bi*c : (bi+1)*c]
		sc := scale.Data[bi*c : (bi+1)*c]
		for ti := 0; ti < t; ti++ {
			off := (bi*t + ti) * c
			src := h.Data[off : off+c]
			dst := out.Data[off : off+c]
			for j := range dst {
				dst[j] = src[j]*(1+sc[j]) + sh[j]
			}
		}
	}
	return out, nil
}

// Gate returns x + gate*y where x, y are (B,T,C) and gate is (B,C). A nil
// gate adds y unscaled.
func Gate(x, y, gate *tensor.Tensor) (*tensor.Tensor, error) {
	if !x.SameShape(y) || x.Rank() != 3 {
		return nil, fmt.Errorf("residual %v + %v: %w", x, y, ErrShape)
	}
	if gate != nil {
		if err := checkBroadcast(x, gate); err != nil {
			return nil, fmt.Errorf("gate: %w", err)
		}
	}
	b, t, c := x.Shape[0], x.Shape[1], x.Shape[2]
	out := x.Clone()
	for bi := 0; bi < b; bi++ {
		for ti := 0; ti < t; ti++ {
			off := (bi*t + ti) * c
			dst := out.Data[off : off+c]
			src := y.Data[off : off+c]
			if gate == nil {
				tensor.Add(dst, src)
				continue
			}
			g := gate.Data[bi*c : (bi+1)*c]
			for j := range dst {
				dst[j] += g[j] * src[j]
			}
		}
	}
	return out, nil
}

func checkBroadcast(h, v *tensor.Tensor) error {
	if h.Rank() != 3 || v.Rank() != 2 || v.Shape[0] != h.Shape[0] || v.Shape[1] != h.Shape[2] {
		return fmt.Errorf("%v against %v: %w", v, h, ErrShape)
	}
	return nil
}
