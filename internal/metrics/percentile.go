package metrics

import "sort"

// percentile returns the p-th percentile (p in [0,1]) of values using
// linear interpolation between the two nearest ranks: index = (n-1)*p,
// interpolated by the fractional part. p=0 is the minimum, p=1 the
// maximum, an empty sample yields 0. values need not be sorted.
func percentile(values []int, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	if p <= 0 {
		return float64(sorted[0])
	}
	if p >= 1 {
		return float64(sorted[len(sorted)-1])
	}

	idx := float64(len(sorted)-1) * p
	lo := int(idx)
	hi := lo + 1
	if hi > len(sorted)-1 {
		hi = len(sorted) - 1
	}
	frac := idx - float64(lo)
	return float64(sorted[lo])*(1-frac) + float64(sorted[hi])*frac
}
