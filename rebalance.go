package rangecdf

import (
	"cmp"
	"math"
	"slices"
)

// penaltyItem tracks the marginal code-length cost of taking one frequency
// unit away from a single table entry during sum reduction. index refers into
// the frequency slice; penalty is recomputed after every decrement.
type penaltyItem struct {
	index   int
	mass    float64
	penalty float64
}

// gainItem is the mirror image of penaltyItem for sum increase: it tracks the
// marginal code-length saving of granting one extra frequency unit.
type gainItem struct {
	index int
	mass  float64
	gain  float64
}

// nextPenalty returns the expected code-length increase of decrementing an
// entry currently at v: mass * (log2(v) - log2(v-1)). Entries at the floor of
// 1 report +Inf and are never selected.
func nextPenalty(mass float64, v uint32) float64 {
	if v <= 1 {
		return math.Inf(1)
	}
	return mass * (math.Log2(float64(v)) - math.Log2(float64(v-1)))
}

// nextGain returns the expected code-length saving of incrementing an entry
// currently at v: mass * (log2(v+1) - log2(v)). A zero entry reports -Inf so
// it can never be promoted to nonzero here; the initial clamp makes that case
// unreachable.
func nextGain(mass float64, v uint32) float64 {
	if v < 1 {
		return math.Inf(-1)
	}
	return mass * (math.Log2(float64(v+1)) - math.Log2(float64(v)))
}

// quantizeRow converts one PMF row into a CDF row of len(pmf)+1 entries
// summing exactly to normalizer. cdf[1:] doubles as the frequency scratch and
// is prefix-summed in place at the end, so the row needs no side buffers
// beyond the transient rebalance queue.
func quantizeRow[T Float](pmf []T, cdf []uint32, normalizer uint32) {
	freq := cdf[1:]

	// Round each mass to its nearest integer share of the normalizer (ties
	// round half to even), clamping to 1 so even zero-mass symbols stay
	// encodable. The clamp deliberately spends code-length budget on
	// near-impossible symbols: an unencodable symbol is worse than a slightly
	// wasteful one. The upper clamp keeps the uint32 conversion defined for
	// arbitrarily large relative weights; a frequency above the normalizer is
	// never useful, since reduction must bring the row back down to it anyway.
	var sum uint64
	for i, mass := range pmf {
		v := uint32(1)
		if r := math.RoundToEven(float64(mass) * float64(normalizer)); r > 1 {
			if r > float64(normalizer) {
				r = float64(normalizer)
			}
			v = uint32(r)
		}
		freq[i] = v
		sum += uint64(v)
	}

	if sum > uint64(normalizer) {
		reduce(pmf, freq, sum, uint64(normalizer))
	} else if sum < uint64(normalizer) {
		grow(pmf, freq, sum, uint64(normalizer))
	}

	cdf[0] = 0
	for i, f := range freq {
		cdf[i+1] = cdf[i] + f
	}
}

// reduce takes single frequency units away until the row sums to target,
// always from the entry whose decrement increases expected code length the
// least. An entry's penalty strictly grows as it shrinks, so a globally
// greedy choice at each step minimizes the total distortion of the whole
// adjustment sequence.
func reduce[T Float](pmf []T, freq []uint32, sum, target uint64) {
	queue := make([]penaltyItem, len(freq))
	for i := range freq {
		mass := float64(pmf[i])
		queue[i] = penaltyItem{index: i, mass: mass, penalty: nextPenalty(mass, freq[i])}
	}
	// Equal penalties order by index so output is reproducible across runs
	// and platforms.
	slices.SortFunc(queue, func(a, b penaltyItem) int {
		if c := cmp.Compare(a.penalty, b.penalty); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	for ; sum > target; sum-- {
		head := &queue[0]
		v := freq[head.index]
		if v <= 1 {
			// Unreachable for validated inputs: a sum above the normalizer
			// with every entry at 1 would mean normalizer < row length.
			panic("rangecdf: cannot decrement frequency below 1")
		}
		v--
		freq[head.index] = v
		head.penalty = nextPenalty(head.mass, v)
		reseatPenalty(queue)
	}
}

// grow is the mirror of reduce: it grants single frequency units until the
// row sums to target, always to the entry whose increment saves the most
// expected code length. Gains strictly shrink as an entry grows (diminishing
// returns), which makes the greedy choice optimal here too.
func grow[T Float](pmf []T, freq []uint32, sum, target uint64) {
	queue := make([]gainItem, len(freq))
	for i := range freq {
		mass := float64(pmf[i])
		queue[i] = gainItem{index: i, mass: mass, gain: nextGain(mass, freq[i])}
	}
	// Descending by gain; equal gains order by index.
	slices.SortFunc(queue, func(a, b gainItem) int {
		if c := cmp.Compare(b.gain, a.gain); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	for ; sum < target; sum++ {
		head := &queue[0]
		v := freq[head.index]
		if v < 1 {
			// Unreachable after the initial clamp; a zero entry reports -Inf
			// gain and can never sort to the head of a valid queue.
			panic("rangecdf: cannot increment zero frequency")
		}
		v++
		freq[head.index] = v
		head.gain = nextGain(head.mass, v)
		reseatGain(queue)
	}
}

// reseatPenalty restores sorted order after the head's penalty grew. The scan
// is linear from the front on purpose: the head's penalty only increased by
// one log step, so it rarely needs to move far. Ties keep the already-seated
// entry in front of the moved one.
func reseatPenalty(queue []penaltyItem) {
	head := queue[0]
	j := 1
	for j < len(queue) && queue[j].penalty <= head.penalty {
		queue[j-1] = queue[j]
		j++
	}
	queue[j-1] = head
}

// reseatGain restores descending order after the head's gain shrank, using
// the same short forward scan as reseatPenalty.
func reseatGain(queue []gainItem) {
	head := queue[0]
	j := 1
	for j < len(queue) && queue[j].gain >= head.gain {
		queue[j-1] = queue[j]
		j++
	}
	queue[j-1] = head
}
