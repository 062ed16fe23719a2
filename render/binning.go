// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

// Binning expands each projected splat into one record per overlapped tile.
// An exclusive prefix sum over per-splat tile counts assigns each splat a
// contiguous slot range; records past the intersection capacity are dropped
// and the drop is logged at debug level, the documented behavior of the
// bounded sizing strategy.

// countTiles fills counts[ci] with the number of tiles the compact splat
// ci overlaps.
func countTiles(b backendRunner, aux *Aux, counts []uint32) {
	b.Run(int(aux.NumVisible), func(_, start, end int) {
		for ci := start; ci < end; ci++ {
			x0, y0, x1, y1 := tileSpan(&aux.Projected[ci], aux.TileBoundsX, aux.TileBoundsY)
			counts[ci] = (x1 - x0) * (y1 - y0)
		}
	})
}

// exclusivePrefixSum writes into offsets the running total of counts,
// offsets[0] = 0, and returns the grand total. offsets must have
// len(counts)+1 entries.
func exclusivePrefixSum(counts, offsets []uint32) uint32 {
	var sum uint32
	for i, c := range counts {
		offsets[i] = sum
		sum += c
	}
	offsets[len(counts)] = sum
	return sum
}

// emitIntersections writes the (tileKey, compact index) records. Each
// splat's slots come from the prefix sum, clamped to capacity; splats that
// emit at least one record are marked visible for refinement. Tile keys are
// written store-side so the subsequent argsort can read them.
func emitIntersections(b backendRunner, aux *Aux, offsets []uint32, tileKeys, isectIDs []uint32, capacity uint32) {
	tbx := aux.TileBoundsX
	b.Run(int(aux.NumVisible), func(_, start, end int) {
		for ci := start; ci < end; ci++ {
			slot := offsets[ci]
			if slot >= capacity {
				continue
			}
			x0, y0, x1, y1 := tileSpan(&aux.Projected[ci], aux.TileBoundsX, aux.TileBoundsY)
			emitted := false
			for ty := y0; ty < y1; ty++ {
				for tx := x0; tx < x1; tx++ {
					if slot >= capacity {
						break
					}
					tileKeys[slot] = ty*tbx + tx
					isectIDs[slot] = uint32(ci)
					slot++
					emitted = true
				}
			}
			if emitted && aux.Visibility != nil {
				aux.Visibility[aux.GlobalFromCompact[ci]] = 1
			}
		}
	})
}

// tileRanges converts the tile-sorted intersection list into per-tile
// [start, end) ranges. Tiles with no intersections get an empty range.
func tileRanges(sortedKeys []uint32, numIsect uint32, tileOffsets []uint32) {
	numTiles := uint32(len(tileOffsets) - 1)
	for t := uint32(0); t <= numTiles; t++ {
		tileOffsets[t] = 0
	}
	if numIsect == 0 {
		return
	}
	// tileOffsets[t] = first slot whose tile >= t; a counting pass then
	// prefix sum keeps this linear.
	for i := uint32(0); i < numIsect; i++ {
		tileOffsets[sortedKeys[i]+1]++
	}
	for t := uint32(1); t <= numTiles; t++ {
		tileOffsets[t] += tileOffsets[t-1]
	}
}
