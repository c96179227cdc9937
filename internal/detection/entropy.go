package detection

import "math"

// ShannonEntropy computes H = -Σ p·log2(p) over a set of category counts,
// the building block for the filename-entropy metric. Grounded on the same
// formulation used for kernel event-type entropy: degenerate distributions
// (zero total, or a single non-empty category) return 0, matching the
// boundary case of one file with a single-character filename.
func ShannonEntropy(counts []uint64) float64 {
	var total uint64
	nonZero := 0
	for _, c := range counts {
		total += c
		if c > 0 {
			nonZero++
		}
	}
	if total == 0 || nonZero <= 1 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// MaxEntropy is the theoretical maximum entropy for k equally likely
// categories: log2(k).
func MaxEntropy(k int) float64 {
	if k <= 1 {
		return 0
	}
	return math.Log2(float64(k))
}

// NormalisedEntropy scales ShannonEntropy into [0,1] by dividing by
// MaxEntropy(k); returns 0 when MaxEntropy is 0.
func NormalisedEntropy(counts []uint64, k int) float64 {
	max := MaxEntropy(k)
	if max == 0 {
		return 0
	}
	return ShannonEntropy(counts) / max
}
