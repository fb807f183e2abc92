package report

import "math"

// Histogram buckets per-trade R multiples into equal-width bins. Edges has
// len(Counts)+1 entries; the last bin includes its right edge.
type Histogram struct {
	Edges  []float64
	Counts []int
}

// NewHistogram ignores undefined values. A single distinct value is centred
// in a range one unit wide.
func NewHistogram(values []float64, bins int) Histogram {
	if bins < 1 {
		bins = 1
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite = append(finite, v)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if len(finite) == 0 {
		lo, hi = 0, 1
	} else if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	h := Histogram{Edges: make([]float64, bins+1), Counts: make([]int, bins)}
	width := (hi - lo) / float64(bins)
	for i := range h.Edges {
		h.Edges[i] = lo + float64(i)*width
	}
	h.Edges[bins] = hi
	for _, v := range finite {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		h.Counts[idx]++
	}
	return h
}

func (h Histogram) Total() int {
	n := 0
	for _, c := range h.Counts {
		n += c
	}
	return n
}
