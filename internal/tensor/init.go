package tensor

import "math/rand"

// Default truncation bounds for TruncNormal. They are absolute values, not
// multiples of std, which for the small stds used here only clip pathological
// draws.
const (
	TruncLow  = -2.0
	TruncHigh = 2.0
)

// TruncNormal fills dst with draws from N(mean, std²) restricted to
// [lo, hi] by rejection. std <= 0 fills dst with mean.
func TruncNormal(rng *rand.Rand, dst []float32, mean, std, lo, hi float64) {
	if lo > hi {
		panic("trunc normal: empty interval")
	}
	if std <= 0 {
		for i := range dst {
			dst[i] = float32(min(max(mean, lo), hi))
		}
		return
	}
	for i := range dst {
		for tries := 0; ; tries++ {
			v := mean + std*rng.NormFloat64()
			if v >= lo && v <= hi {
				dst[i] = float32(v)
				break
			}
			// Interval far out in the tail; fall back to the closest bound.
			if tries >= 1000 {
				dst[i] = float32(min(max(mean, lo), hi))
				break
			}
		}
	}
}

// Fill sets every element of dst to v.
func Fill(dst []float32, v float32) {
	for i := range dst {
		dst[i] = v
	}
}
