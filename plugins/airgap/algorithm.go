package airgap

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Segment is a half-open sample range [Start, End).
type Segment struct {
	Start int
	End   int
}

// Len returns the number of samples in the segment.
func (s Segment) Len() int { return s.End - s.Start }

// Binarize marks samples below the mid-level (max+min)/2. Pulse-high samples
// become false.
func Binarize(x []float64) []bool {
	out := make([]bool, len(x))
	if len(x) == 0 {
		return out
	}
	mid := (floats.Max(x) + floats.Min(x)) / 2
	for i, v := range x {
		out[i] = v < mid
	}
	return out
}

// FindContinuous returns the maximal runs of b equal to target, in order.
func FindContinuous(b []bool, target bool) []Segment {
	var out []Segment
	start := -1
	for i, v := range b {
		switch {
		case v == target && start < 0:
			start = i
		case v != target && start >= 0:
			out = append(out, Segment{Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, Segment{Start: start, End: len(b)})
	}
	return out
}

// FindSEIndex aligns track segments to key-phasor segments. idx[k] is the
// index of the first track segment starting at or after kp[k].Start, or
// len(tr) when there is none. The result has len(kp) entries and is
// non-decreasing, so tr[idx[g]:idx[g+1]] are the segments of revolution g.
func FindSEIndex(kp, tr []Segment) []int {
	idx := make([]int, len(kp))
	for k, seg := range kp {
		idx[k] = sort.Search(len(tr), func(i int) bool { return tr[i].Start >= seg.Start })
	}
	return idx
}

// GetAprxValue returns the mean of the samples of x[seg] lying within tol of
// their median, and how many there were. An empty segment yields (NaN, 0).
func GetAprxValue(x []float64, seg Segment, tol float64) (float64, int) {
	if seg.Start < 0 || seg.End > len(x) || seg.Len() <= 0 {
		return math.NaN(), 0
	}
	window := x[seg.Start:seg.End]
	sorted := slices.Clone(window)
	slices.Sort(sorted)
	med := median(sorted)
	inliers := make([]float64, 0, len(window))
	for _, v := range window {
		if math.Abs(v-med) <= tol {
			inliers = append(inliers, v)
		}
	}
	if len(inliers) == 0 {
		return math.NaN(), 0
	}
	return stat.Mean(inliers, nil), len(inliers)
}

// median of an already sorted, non-empty slice; even lengths average the middle pair.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// PoleIndex maps the j-th pulse after the key-phasor to a 1-based pole number
// for a sensor facing pole assigned.
func PoleIndex(assigned, j, poles int, rotCW, numCW bool) int {
	numSign, rotSign := -1, 1
	if numCW {
		numSign = 1
	}
	if rotCW {
		rotSign = -1
	}
	n := (assigned - 1 + j*numSign*rotSign) % poles
	if n < 0 {
		n += poles
	}
	return n + 1
}

// Speed returns rpm between two consecutive key-phasor pulses.
func Speed(sampleRate float64, prev, cur Segment) float64 {
	d := cur.Start - prev.Start
	if d <= 0 {
		return math.NaN()
	}
	return 60 * sampleRate / float64(d)
}
