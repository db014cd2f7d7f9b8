package beso

import "sort"

// updateTopology applies one iteration of the BESO flip rule under the
// smoothed sensitivity field m. Phase one removes up to dVmax of the
// least-useful solids while volume exceeds the target; phase two spends the
// remaining topology-change budget swapping kept solids against the most
// promising voids, stopping at the first pair where the solid outranks the
// void (strict comparison: equal pairs still swap). Each flip keeps the
// factorization incrementally current.
func (o *Optimizer) updateTopology(m []float64, vol *int, vt, dVmax int, dXmax float64) (removed int, err error) {
	solid := make([]int, 0, *vol)
	void := make([]int, 0, o.m.N-*vol)
	for e, s := range o.x {
		if s {
			solid = append(solid, e)
		} else {
			void = append(void, e)
		}
	}
	// Ascending by sensitivity; index order breaks ties so reruns are
	// bit-identical.
	byField := func(s []int) {
		sort.Slice(s, func(i, j int) bool {
			if m[s[i]] != m[s[j]] {
				return m[s[i]] < m[s[j]]
			}
			return s[i] < s[j]
		})
	}
	byField(solid)
	byField(void)

	// Volume-reduction phase: take solids from the high end of the sorted
	// order, the elements contributing least to stiffness.
	nRemove := *vol - vt
	if nRemove > dVmax {
		nRemove = dVmax
	}
	for i := 0; i < nRemove; i++ {
		es := solid[len(solid)-1-i]
		if err := o.flip(es, false); err != nil {
			return removed, err
		}
		*vol--
		removed++
	}

	// Swap phase: pair the next-highest kept solid against the lowest void.
	nSwap := int((dXmax - float64(removed)) / 2)
	if nSwap > len(void) {
		nSwap = len(void)
	}
	for i := 0; i < nSwap; i++ {
		si := len(solid) - 1 - i - removed
		if si < 0 {
			break
		}
		es := solid[si]
		ev := void[i]
		if m[es] < m[ev] {
			break
		}
		if err := o.flip(es, false); err != nil {
			return removed, err
		}
		if err := o.flip(ev, true); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
