package render

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/backend/cpu"
)

func testRand() *rand.Rand { return rand.New(rand.NewSource(42)) }

func testRenderer(t *testing.T) *Renderer {
	t.Helper()
	b := cpu.New(2)
	if err := b.Init(); err != nil {
		t.Fatalf("init backend: %v", err)
	}
	t.Cleanup(b.Close)
	r, err := NewRenderer(WithBackend(b))
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func testCamera() splat.Camera {
	return splat.NewCamera(mgl32.Vec3{0, 0, 0}, mgl32.QuatIdent(), 0.8, 0.8)
}

// singleSplat builds a degree-0 store with one splat at the given position.
func singleSplat(pos mgl32.Vec3, logScale, rawOpacity float32, rgb mgl32.Vec3) *splat.Splats {
	return splat.NewSplats(
		[]float32{pos[0], pos[1], pos[2]},
		[]float32{1, 0, 0, 0},
		[]float32{logScale, logScale, logScale},
		[]float32{rawOpacity},
		[]float32{
			splat.RGBToSH(rgb[0]),
			splat.RGBToSH(rgb[1]),
			splat.RGBToSH(rgb[2]),
		},
	)
}

// TestRenderEmptyStore renders zero splats and expects pure background with
// zero alpha everywhere.
func TestRenderEmptyStore(t *testing.T) {
	r := testRenderer(t)
	s := splat.NewSplats(nil, nil, nil, nil, nil)
	bg := mgl32.Vec3{0.2, 0.4, 0.6}

	img, err := r.Render(s, testCamera(), 33, 17, bg)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for y := uint32(0); y < img.Height; y++ {
		for x := uint32(0); x < img.Width; x++ {
			cr, cg, cb, ca := img.At(x, y)
			if cr != bg[0] || cg != bg[1] || cb != bg[2] || ca != 0 {
				t.Fatalf("pixel (%d,%d) = (%g,%g,%g,%g), want background", x, y, cr, cg, cb, ca)
			}
		}
	}
}

// TestRenderSingleSplat renders one opaque white splat centered in front of
// the camera against black and expects a bright center fading outwards.
func TestRenderSingleSplat(t *testing.T) {
	r := testRenderer(t)
	s := singleSplat(mgl32.Vec3{0, 0, 5}, -1, 8, mgl32.Vec3{1, 1, 1})

	img, err := r.Render(s, testCamera(), 64, 64, mgl32.Vec3{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	cr, _, _, ca := img.At(32, 32)
	if cr < 0.9 || ca < 0.9 {
		t.Fatalf("center = (r=%g, a=%g), want near opaque white", cr, ca)
	}
	er, _, _, _ := img.At(0, 0)
	if er >= cr {
		t.Fatalf("corner %g not darker than center %g", er, cr)
	}
}

// TestRenderOpaqueSplatFillsViewport renders one opaque white splat large
// enough to cover the whole view and expects near-white everywhere away
// from the silhouette.
func TestRenderOpaqueSplatFillsViewport(t *testing.T) {
	r := testRenderer(t)
	// 3 sigma at this scale spans many times the frustum at z=3.
	s := singleSplat(mgl32.Vec3{0, 0, 3}, 2.5, 12, mgl32.Vec3{1, 1, 1})

	img, err := r.Render(s, testCamera(), 48, 48, mgl32.Vec3{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// Interior half of the image, well inside the footprint.
	for y := uint32(12); y < 36; y++ {
		for x := uint32(12); x < 36; x++ {
			cr, cg, cb, _ := img.At(x, y)
			if cr < 0.95 || cg < 0.95 || cb < 0.95 {
				t.Fatalf("pixel (%d,%d) = (%g,%g,%g), want near-white", x, y, cr, cg, cb)
			}
		}
	}
}

// TestRenderPackedMatchesFloat renders the same scene through the float
// and packed paths and expects the packed pixels to be the quantized float
// pixels.
func TestRenderPackedMatchesFloat(t *testing.T) {
	r := testRenderer(t)
	s := singleSplat(mgl32.Vec3{0.2, -0.1, 4}, -0.5, 3, mgl32.Vec3{0.9, 0.4, 0.1})
	cam := testCamera()
	bg := mgl32.Vec3{0.1, 0.2, 0.3}

	img, err := r.Render(s, cam, 40, 28, bg)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	packed, err := r.RenderPacked(s, cam, 40, 28, bg)
	if err != nil {
		t.Fatalf("RenderPacked: %v", err)
	}
	for y := uint32(0); y < img.Height; y++ {
		for x := uint32(0); x < img.Width; x++ {
			fr, fg, fb, fa := img.At(x, y)
			pr, pg, pb, pa := packed.At(x, y)
			if pr != quantize(fr) || pg != quantize(fg) || pb != quantize(fb) || pa != quantize(fa) {
				t.Fatalf("pixel (%d,%d) packed (%d,%d,%d,%d) != quantized float (%d,%d,%d,%d)",
					x, y, pr, pg, pb, pa,
					quantize(fr), quantize(fg), quantize(fb), quantize(fa))
			}
		}
	}
}

// TestForwardDisplaySkipsGradientBuffers checks that display renders carry
// no per-pixel or per-splat gradient intermediates while gradient renders
// do.
func TestForwardDisplaySkipsGradientBuffers(t *testing.T) {
	r := testRenderer(t)
	s := singleSplat(mgl32.Vec3{0, 0, 5}, -1, 8, mgl32.Vec3{1, 1, 1})
	cam := testCamera()

	display, err := r.forward(s, cam, 32, 32, mgl32.Vec3{}, 0, false)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if display.FinalIndex != nil || display.Transmittance != nil || display.Visibility != nil {
		t.Fatal("display forward allocated gradient intermediates")
	}

	grads, err := r.forward(s, cam, 32, 32, mgl32.Vec3{}, 0, true)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(grads.FinalIndex) != 32*32 || len(grads.Transmittance) != 32*32 {
		t.Fatalf("gradient forward buffers sized %d and %d, want %d",
			len(grads.FinalIndex), len(grads.Transmittance), 32*32)
	}
	if len(grads.Visibility) != s.NumSplats() {
		t.Fatalf("Visibility len %d, want %d", len(grads.Visibility), s.NumSplats())
	}
}

// TestRenderDepthOrder places a red splat in front of a blue one along the
// same ray; the red must dominate regardless of store order.
func TestRenderDepthOrder(t *testing.T) {
	r := testRenderer(t)
	red := singleSplat(mgl32.Vec3{0, 0, 3}, -1.5, 8, mgl32.Vec3{1, 0, 0})
	blue := singleSplat(mgl32.Vec3{0, 0, 6}, -1.5, 8, mgl32.Vec3{0, 0, 1})

	for name, order := range map[string][2]*splat.Splats{
		"red-first":  {red, blue},
		"blue-first": {blue, red},
	} {
		s := order[0].Clone()
		s.Append(order[1])
		img, err := r.Render(s, testCamera(), 64, 64, mgl32.Vec3{})
		if err != nil {
			t.Fatalf("%s: Render: %v", name, err)
		}
		cr, _, cb, _ := img.At(32, 32)
		if cr < 0.9 || cb > 0.1 {
			t.Fatalf("%s: center = (r=%g, b=%g), want red in front", name, cr, cb)
		}
	}
}

// TestRenderCullsBehindCamera verifies a splat behind the near plane draws
// nothing and is not marked visible.
func TestRenderCullsBehindCamera(t *testing.T) {
	r := testRenderer(t)
	front := singleSplat(mgl32.Vec3{0, 0, 4}, -1, 8, mgl32.Vec3{1, 1, 1})
	behind := singleSplat(mgl32.Vec3{0, 0, -4}, -1, 8, mgl32.Vec3{1, 1, 1})
	s := front.Clone()
	s.Append(behind)

	_, aux, err := r.RenderWithGrads(s, testCamera(), 32, 32, mgl32.Vec3{})
	if err != nil {
		t.Fatalf("RenderWithGrads: %v", err)
	}
	if aux.Visibility[0] == 0 {
		t.Fatalf("front splat not marked visible")
	}
	if aux.Visibility[1] != 0 {
		t.Fatalf("behind-camera splat marked visible")
	}
	if aux.CompactFromGlobal[1] != -1 {
		t.Fatalf("behind-camera splat has compact index %d", aux.CompactFromGlobal[1])
	}
}

// TestTileRangesCoverIntersections checks the binning invariant: every
// intersection slot belongs to exactly one tile range, and each range's
// records all name that tile.
func TestTileRangesCoverIntersections(t *testing.T) {
	r := testRenderer(t)
	bounds := splat.BoundsFromMinMax(mgl32.Vec3{-2, -2, 3}, mgl32.Vec3{2, 2, 9})
	s := splat.NewRandomSplats(bounds, 200, testRand())

	_, aux, err := r.RenderWithGrads(s, testCamera(), 96, 64, mgl32.Vec3{})
	if err != nil {
		t.Fatalf("RenderWithGrads: %v", err)
	}
	numTiles := aux.TileBoundsX * aux.TileBoundsY
	if aux.TileOffsets[0] != 0 {
		t.Fatalf("TileOffsets[0] = %d, want 0", aux.TileOffsets[0])
	}
	if got := aux.TileOffsets[numTiles]; got != aux.NumIntersections {
		t.Fatalf("TileOffsets[last] = %d, want %d", got, aux.NumIntersections)
	}
	seen := make(map[uint64]int)
	for tile := uint32(0); tile < numTiles; tile++ {
		lo, hi := aux.TileOffsets[tile], aux.TileOffsets[tile+1]
		if lo > hi {
			t.Fatalf("tile %d has inverted range [%d, %d)", tile, lo, hi)
		}
		for i := lo; i < hi; i++ {
			p := &aux.Projected[aux.CompactFromIsect[i]]
			x0, y0, x1, y1 := tileSpan(p, aux.TileBoundsX, aux.TileBoundsY)
			tx, ty := tile%aux.TileBoundsX, tile/aux.TileBoundsX
			if tx < x0 || tx >= x1 || ty < y0 || ty >= y1 {
				t.Fatalf("tile %d holds splat outside its span [%d,%d)x[%d,%d)", tile, x0, x1, y0, y1)
			}
			seen[uint64(tile)<<32|uint64(aux.CompactFromIsect[i])]++
		}
	}

	// Completeness, against a brute-force recount: with exact sizing no
	// record is dropped, so every (tile, splat) overlap from the projected
	// spans must appear exactly once in that tile's range.
	var overlaps uint32
	for ci := uint32(0); ci < aux.NumVisible; ci++ {
		x0, y0, x1, y1 := tileSpan(&aux.Projected[ci], aux.TileBoundsX, aux.TileBoundsY)
		for ty := y0; ty < y1; ty++ {
			for tx := x0; tx < x1; tx++ {
				overlaps++
				tile := ty*aux.TileBoundsX + tx
				if got := seen[uint64(tile)<<32|uint64(ci)]; got != 1 {
					t.Fatalf("splat %d appears %d times in tile %d, want once", ci, got, tile)
				}
			}
		}
	}
	if overlaps != aux.NumIntersections {
		t.Fatalf("NumIntersections = %d, want %d overlaps", aux.NumIntersections, overlaps)
	}
}

// TestTileRangesDepthOrdered verifies each tile's records come out in
// nondecreasing depth, the order compositing depends on.
func TestTileRangesDepthOrdered(t *testing.T) {
	r := testRenderer(t)
	bounds := splat.BoundsFromMinMax(mgl32.Vec3{-2, -2, 3}, mgl32.Vec3{2, 2, 9})
	s := splat.NewRandomSplats(bounds, 200, testRand())

	_, aux, err := r.RenderWithGrads(s, testCamera(), 96, 64, mgl32.Vec3{})
	if err != nil {
		t.Fatalf("RenderWithGrads: %v", err)
	}
	numTiles := aux.TileBoundsX * aux.TileBoundsY
	for tile := uint32(0); tile < numTiles; tile++ {
		lo, hi := aux.TileOffsets[tile], aux.TileOffsets[tile+1]
		for i := lo + 1; i < hi; i++ {
			prev := aux.Projected[aux.CompactFromIsect[i-1]].Depth
			cur := aux.Projected[aux.CompactFromIsect[i]].Depth
			if prev > cur {
				t.Fatalf("tile %d depth order broken: %g > %g", tile, prev, cur)
			}
		}
	}
}

// TestBoundedSizerCapsIntersections renders with a deliberately tiny
// intersection budget; the render must succeed and stay within it.
func TestBoundedSizerCapsIntersections(t *testing.T) {
	b := cpu.New(2)
	if err := b.Init(); err != nil {
		t.Fatalf("init backend: %v", err)
	}
	t.Cleanup(b.Close)
	r, err := NewRenderer(WithBackend(b), WithSizer(BoundedSizer{UpperBound: 8}))
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	bounds := splat.BoundsFromMinMax(mgl32.Vec3{-2, -2, 3}, mgl32.Vec3{2, 2, 9})
	s := splat.NewRandomSplats(bounds, 100, testRand())
	_, aux, err := r.RenderWithGrads(s, testCamera(), 64, 64, mgl32.Vec3{})
	if err != nil {
		t.Fatalf("RenderWithGrads: %v", err)
	}
	if aux.NumIntersections > 8 {
		t.Fatalf("NumIntersections = %d, want <= 8", aux.NumIntersections)
	}
}

// TestRenderScaledShrinks checks the scale override: a strongly negative
// offset must shrink the splat's footprint.
func TestRenderScaledShrinks(t *testing.T) {
	r := testRenderer(t)
	s := singleSplat(mgl32.Vec3{0, 0, 5}, -0.5, 8, mgl32.Vec3{1, 1, 1})

	full, err := r.Render(s, testCamera(), 64, 64, mgl32.Vec3{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	small, err := r.RenderScaled(s, testCamera(), 64, 64, mgl32.Vec3{}, -2)
	if err != nil {
		t.Fatalf("RenderScaled: %v", err)
	}
	// Compare brightness away from center: the shrunk splat reaches less.
	fr, _, _, _ := full.At(40, 32)
	sr, _, _, _ := small.At(40, 32)
	if sr >= fr {
		t.Fatalf("offset render not smaller: %g >= %g", sr, fr)
	}
}
