package train

import (
	"math"
	"math/rand"

	"github.com/chewxy/math32"
)

// multinomialSample draws count distinct indices with probability
// proportional to weights, without replacement. Non-finite and negative
// weights are treated as zero. The weighted reservoir uses the exponential
// sort-key trick: each index gets key log(u)/w and the count largest keys
// win, which matches successive weighted draws without replacement.
func multinomialSample(rng *rand.Rand, weights []float32, count int) []int {
	type keyed struct {
		idx int
		key float64
	}
	if count <= 0 {
		return nil
	}

	top := make([]keyed, 0, count)
	// Maintain the count best keys with a min-heap over key.
	siftUp := func(i int) {
		for i > 0 {
			p := (i - 1) / 2
			if top[p].key <= top[i].key {
				break
			}
			top[p], top[i] = top[i], top[p]
			i = p
		}
	}
	siftDown := func() {
		i := 0
		for {
			l, r := 2*i+1, 2*i+2
			smallest := i
			if l < len(top) && top[l].key < top[smallest].key {
				smallest = l
			}
			if r < len(top) && top[r].key < top[smallest].key {
				smallest = r
			}
			if smallest == i {
				return
			}
			top[i], top[smallest] = top[smallest], top[i]
			i = smallest
		}
	}

	for i, w := range weights {
		if w <= 0 || math32.IsNaN(w) || math32.IsInf(w, 0) {
			continue
		}
		// Keys live in the log domain: u^(1/w) underflows to zero for
		// the small saliency weights growth works with (1/w in the
		// thousands), and tied zero keys would freeze the reservoir on
		// its earliest entries. log(u)/w orders identically and never
		// underflows.
		k := keyed{idx: i, key: math.Log(rng.Float64()) / float64(w)}
		if len(top) < count {
			top = append(top, k)
			siftUp(len(top) - 1)
		} else if k.key > top[0].key {
			top[0] = k
			siftDown()
		}
	}

	out := make([]int, len(top))
	for i, k := range top {
		out[i] = k.idx
	}
	return out
}
