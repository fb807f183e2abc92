package engine

import "math"

// Rolling-window indicators. Every window accepts partially filled history
// at the start of the series, so index 0 always has a value.

// RollingMax returns the maximum of values over a trailing window using a
// monotonic deque of indices.
func RollingMax(values []float64, window int) []float64 {
	return rollingExtremum(values, window, func(a, b float64) bool { return a >= b })
}

// RollingMin is the mirror of RollingMax.
func RollingMin(values []float64, window int) []float64 {
	return rollingExtremum(values, window, func(a, b float64) bool { return a <= b })
}

// rollingExtremum keeps a deque whose front is the current extremum. dominates
// reports whether a new value evicts an older one from the back.
func rollingExtremum(values []float64, window int, dominates func(newer, older float64) bool) []float64 {
	out := make([]float64, len(values))
	if window < 1 {
		window = 1
	}
	deque := make([]int, 0, window)
	head := 0
	for i, v := range values {
		for len(deque) > head && dominates(v, values[deque[len(deque)-1]]) {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, i)
		if deque[head] <= i-window {
			head++
		}
		out[i] = values[deque[head]]
		// compact once the dead prefix dominates the slice
		if head > window && head*2 > len(deque) {
			deque = append(deque[:0], deque[head:]...)
			head = 0
		}
	}
	return out
}

// RollingMean returns the simple moving average over a trailing window with
// a running sum.
func RollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window < 1 {
		window = 1
	}
	var sum float64
	for i, v := range values {
		sum += v
		n := i + 1
		if i >= window {
			sum -= values[i-window]
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

// ShiftForward moves every value one index later; index 0 becomes NaN.
func ShiftForward(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	out[0] = math.NaN()
	copy(out[1:], values[:len(values)-1])
	return out
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|). The first
// bar has no previous close and reduces to high-low.
func TrueRange(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := math.Abs(b.High - b.Low)
		if i > 0 {
			pc := bars[i-1].Close
			tr = math.Max(tr, math.Abs(b.High-pc))
			tr = math.Max(tr, math.Abs(b.Low-pc))
		}
		out[i] = tr
	}
	return out
}

// CrossUp reports src[i] > level[i] && src[i-1] <= level[i-1]. NaN operands
// and index 0 yield false.
func CrossUp(src, level []float64, i int) bool {
	if i < 1 {
		return false
	}
	return src[i] > level[i] && src[i-1] <= level[i-1]
}

// CrossDown reports src[i] < level[i] && src[i-1] >= level[i-1].
func CrossDown(src, level []float64, i int) bool {
	if i < 1 {
		return false
	}
	return src[i] < level[i] && src[i-1] >= level[i-1]
}
