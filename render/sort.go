// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import "math"

// Stable LSD radix argsort over uint32 keys, 8 bits per pass. Both the
// depth sort and the per-tile sort run through it; the tile sort passes
// only as many bits as the tile count needs. Stability is what carries the
// depth order into each tile's intersection range.

// bitsFor returns the number of bits needed to represent values in [0, n).
func bitsFor(n uint32) int {
	bits := 0
	for (uint32(1) << bits) < n {
		bits++
	}
	return bits
}

// radixArgsort stably sorts idx by keys[idx[i]], least significant byte
// first, touching only the bottom maxBits bits of each key. scratch must
// have len(idx).
func radixArgsort(keys []uint32, idx, scratch []uint32, maxBits int) {
	if len(idx) == 0 {
		return
	}
	passes := (maxBits + 7) / 8
	var counts [256]uint32
	src, dst := idx, scratch
	for pass := 0; pass < passes; pass++ {
		shift := uint(pass * 8)
		for i := range counts {
			counts[i] = 0
		}
		for _, id := range src {
			counts[(keys[id]>>shift)&0xff]++
		}
		var sum uint32
		for i := range counts {
			c := counts[i]
			counts[i] = sum
			sum += c
		}
		for _, id := range src {
			b := (keys[id] >> shift) & 0xff
			dst[counts[b]] = id
			counts[b]++
		}
		src, dst = dst, src
	}
	if &src[0] != &idx[0] {
		copy(idx, src)
	}
}

// depthKey maps a positive float32 depth to a uint32 whose unsigned order
// matches the float order. Positive IEEE floats compare correctly as raw
// bit patterns, so for depths past the near plane the bits are the key.
func depthKey(depth float32) uint32 {
	return math.Float32bits(depth)
}
