package render

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/backend"
)

// ErrNoSplats is returned when asked to differentiate a render of an empty
// store; a plain background render succeeds.
var ErrNoSplats = errors.New("render: no splats")

// backendRunner is the slice of the backend interface the kernels need.
type backendRunner interface {
	Run(n int, fn func(worker, start, end int))
	Workers() int
}

// Renderer owns the compute backend and the intersection sizing strategy.
// It is safe for sequential reuse across frames; scratch buffers are
// recycled between renders of the same resolution.
type Renderer struct {
	backend  backend.Backend
	sizer    IntersectionSizer
	validate bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithBackend sets the compute backend. Defaults to backend.Default().
func WithBackend(b backend.Backend) Option {
	return func(r *Renderer) { r.backend = b }
}

// WithSizer sets the intersection sizing strategy. The default follows the
// backend's readback capability: exact sizing where a synchronous readback
// is cheap, bounded sizing otherwise.
func WithSizer(s IntersectionSizer) Option {
	return func(r *Renderer) { r.sizer = s }
}

// WithValidation enables finite-value checks on splat parameters before
// every render. Diagnostic only; failures are logged, not fatal.
func WithValidation(enabled bool) Option {
	return func(r *Renderer) { r.validate = enabled }
}

// NewRenderer builds a Renderer, falling back to the default registered
// backend when none is supplied.
func NewRenderer(opts ...Option) (*Renderer, error) {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	if r.backend == nil {
		b, err := backend.Default()
		if err != nil {
			return nil, fmt.Errorf("render: no backend: %w", err)
		}
		r.backend = b
	}
	if r.sizer == nil {
		if r.backend.Capabilities().SyncReadback {
			r.sizer = ExactSizer{}
		} else {
			r.sizer = BoundedSizer{}
		}
	}
	splat.Logger().Debug("renderer ready",
		"backend", r.backend.Name(),
		"sizer", r.sizer.Name())
	return r, nil
}

// Backend returns the compute backend the renderer runs on.
func (r *Renderer) Backend() backend.Backend { return r.backend }

// Render produces a display image. No gradient intermediates are
// allocated.
func (r *Renderer) Render(s *splat.Splats, cam splat.Camera, width, height uint32, bg mgl32.Vec3) (*Image, error) {
	aux, err := r.forward(s, cam, width, height, bg, 0, false)
	if err != nil {
		return nil, err
	}
	out := newImage(width, height)
	rasterizeForward(r.backend, aux, out)
	return out, nil
}

// RenderScaled renders with every log-scale shifted by scaleOffset, the
// inspect-time splat size override.
func (r *Renderer) RenderScaled(s *splat.Splats, cam splat.Camera, width, height uint32, bg mgl32.Vec3, scaleOffset float32) (*Image, error) {
	aux, err := r.forward(s, cam, width, height, bg, scaleOffset, false)
	if err != nil {
		return nil, err
	}
	out := newImage(width, height)
	rasterizeForward(r.backend, aux, out)
	return out, nil
}

// RenderPacked produces a display image with the four 8-bit channels of
// each pixel packed into one uint32, the layout presentation surfaces
// upload directly. Like Render it allocates no gradient intermediates.
func (r *Renderer) RenderPacked(s *splat.Splats, cam splat.Camera, width, height uint32, bg mgl32.Vec3) (*PackedImage, error) {
	aux, err := r.forward(s, cam, width, height, bg, 0, false)
	if err != nil {
		return nil, err
	}
	out := newPackedImage(width, height)
	rasterizePacked(r.backend, aux, out)
	return out, nil
}

// RenderWithGrads runs the forward pass and keeps every intermediate the
// backward pass needs. Pass the returned Aux to Backward with the loss
// gradient of the image.
func (r *Renderer) RenderWithGrads(s *splat.Splats, cam splat.Camera, width, height uint32, bg mgl32.Vec3) (*Image, *Aux, error) {
	if s.NumSplats() == 0 {
		return nil, nil, ErrNoSplats
	}
	aux, err := r.forward(s, cam, width, height, bg, 0, true)
	if err != nil {
		return nil, nil, err
	}
	out := newImage(width, height)
	rasterizeForward(r.backend, aux, out)
	return out, aux, nil
}

// forward runs culling, depth sorting, projection and binning, returning
// the frame tables the rasterizers composite from. withGrads additionally
// allocates the visibility, final-index and transmittance buffers the
// backward pass reads; display renders skip them.
func (r *Renderer) forward(s *splat.Splats, cam splat.Camera, width, height uint32, bg mgl32.Vec3, scaleOffset float32, withGrads bool) (*Aux, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("render: %dx%d: %w", width, height, splat.ErrZeroSizedCamera)
	}
	if r.validate {
		s.Validate()
	}

	u := makeUniforms(s, cam, width, height, bg, scaleOffset)
	n := s.NumSplats()

	aux := &Aux{
		Width:       width,
		Height:      height,
		TileBoundsX: u.TileBoundsX,
		TileBoundsY: u.TileBoundsY,
		uniforms:    u,
		splats:      s,
	}
	if withGrads {
		aux.Visibility = make([]float32, n)
		aux.FinalIndex = make([]uint32, width*height)
		aux.Transmittance = make([]float32, width*height)
	}

	if n == 0 {
		aux.TileOffsets = make([]uint32, u.NumTiles()+1)
		return aux, nil
	}

	// Cull, then build the visible list in ascending store order so the
	// stable depth sort breaks ties by store index.
	visFlags := make([]bool, n)
	depths := make([]float32, n)
	cullPass(r.backend, s, &u, visFlags, depths)

	aux.CompactFromGlobal = make([]int32, n)
	globalFromSorted := make([]uint32, 0, n)
	depthKeys := make([]uint32, n)
	for gid := 0; gid < n; gid++ {
		aux.CompactFromGlobal[gid] = -1
		if visFlags[gid] {
			globalFromSorted = append(globalFromSorted, uint32(gid))
			depthKeys[gid] = depthKey(depths[gid])
		}
	}
	aux.NumVisible = uint32(len(globalFromSorted))
	if aux.NumVisible == 0 {
		aux.TileOffsets = make([]uint32, u.NumTiles()+1)
		return aux, nil
	}

	scratch := make([]uint32, aux.NumVisible)
	radixArgsort(depthKeys, globalFromSorted, scratch, 32)
	aux.GlobalFromCompact = globalFromSorted
	for ci, gid := range aux.GlobalFromCompact {
		aux.CompactFromGlobal[gid] = int32(ci)
	}

	aux.Projected = make([]ProjectedSplat, aux.NumVisible)
	projectVisible(r.backend, s, &u, aux)

	// Tile counts, prefix sum, then the sizing strategy decides the
	// intersection allocation.
	counts := make([]uint32, aux.NumVisible)
	offsets := make([]uint32, aux.NumVisible+1)
	countTiles(r.backend, aux, counts)
	total := exclusivePrefixSum(counts, offsets)

	capacity, exact := r.sizer.Budget(u.NumTiles(), aux.NumVisible)
	alloc := capacity
	if exact && total < capacity {
		alloc = total
	}
	if total > capacity {
		splat.Logger().Debug("intersection capacity exceeded, dropping records",
			"total", total, "capacity", capacity, "sizer", r.sizer.Name())
	}

	tileKeys := make([]uint32, alloc)
	isectIDs := make([]uint32, alloc)
	emitIntersections(r.backend, aux, offsets, tileKeys, isectIDs, alloc)
	numIsect := total
	if numIsect > alloc {
		numIsect = alloc
	}
	aux.NumIntersections = numIsect

	// Stable sort of slots by tile key keeps each tile's records in
	// depth order.
	order := make([]uint32, numIsect)
	for i := range order {
		order[i] = uint32(i)
	}
	orderScratch := make([]uint32, numIsect)
	radixArgsort(tileKeys, order, orderScratch, bitsFor(u.NumTiles()))

	aux.CompactFromIsect = make([]uint32, numIsect)
	sortedKeys := orderScratch // reuse
	for j, slot := range order {
		aux.CompactFromIsect[j] = isectIDs[slot]
		sortedKeys[j] = tileKeys[slot]
	}

	aux.TileOffsets = make([]uint32, u.NumTiles()+1)
	tileRanges(sortedKeys, numIsect, aux.TileOffsets)
	return aux, nil
}
