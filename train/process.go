package train

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/render"
)

// State is the observable phase of a training process.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateTraining
	StateEvaluating
	StateExporting
	StatePaused
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateTraining:
		return "training"
	case StateEvaluating:
		return "evaluating"
	case StateExporting:
		return "exporting"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Exporter receives periodic snapshots of the scene in exchange form.
type Exporter interface {
	Export(pc *splat.PointCloud, step int) error
}

// ExporterFunc adapts a function to the Exporter interface.
type ExporterFunc func(pc *splat.PointCloud, step int) error

func (f ExporterFunc) Export(pc *splat.PointCloud, step int) error { return f(pc, step) }

// Process drives a full fitting run and exposes the controls a viewer
// needs: live state, pause/resume gated at step boundaries, source
// replacement, and gradient-free snapshot renders.
//
// Run owns the trainer; every external accessor synchronizes through the
// process mutex so the store is only ever read between steps.
type Process struct {
	cfg      Config
	renderer *render.Renderer
	exporter Exporter
	evalSet  Dataset
	initial  *splat.Splats

	state  atomic.Int32
	paused atomic.Bool
	resume chan struct{}

	// replaceMu serializes Replace callers; source holds at most the
	// latest replacement.
	replaceMu sync.Mutex
	source    chan Dataset

	mu      sync.Mutex
	trainer *Trainer
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithExporter installs the export collaborator.
func WithExporter(e Exporter) ProcessOption {
	return func(p *Process) { p.exporter = e }
}

// WithEvalDataset installs held-out views for periodic evaluation.
func WithEvalDataset(ds Dataset) ProcessOption {
	return func(p *Process) { p.evalSet = ds }
}

// WithInitialSplats seeds the run from an existing store, for example one
// decoded from a point cloud, instead of random initialization.
func WithInitialSplats(s *splat.Splats) ProcessOption {
	return func(p *Process) { p.initial = s }
}

// NewProcess creates an idle process. Call Run to start it.
func NewProcess(cfg Config, renderer *render.Renderer, opts ...ProcessOption) *Process {
	p := &Process{
		cfg:      cfg,
		renderer: renderer,
		resume:   make(chan struct{}, 1),
		source:   make(chan Dataset, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current phase.
func (p *Process) State() State { return State(p.state.Load()) }

func (p *Process) setState(s State) { p.state.Store(int32(s)) }

// Pause requests a pause. The loop honors it at the next step boundary;
// optimizer and refinement state are kept intact.
func (p *Process) Pause() { p.paused.Store(true) }

// Resume lifts a pause.
func (p *Process) Resume() {
	p.paused.Store(false)
	select {
	case p.resume <- struct{}{}:
	default:
	}
}

// Replace swaps the training source. The running loop tears down its
// store, refinement record and step counter at the next boundary and
// restarts over the new dataset.
func (p *Process) Replace(ds Dataset) {
	p.replaceMu.Lock()
	defer p.replaceMu.Unlock()
	// Drain any source the loop has not picked up yet; only the latest
	// replacement matters. Without the lock two callers could both drain
	// and then both block on the depth-1 channel.
	select {
	case <-p.source:
	default:
	}
	p.source <- ds
	p.Resume()
}

// NumSplats reports the live store size, zero before the run starts.
func (p *Process) NumSplats() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.trainer == nil {
		return 0
	}
	return p.trainer.Splats().NumSplats()
}

// Snapshot returns the scene in exchange form. Safe to call while the run
// is in flight; the copy happens between steps.
func (p *Process) Snapshot() *splat.PointCloud {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.trainer == nil {
		return &splat.PointCloud{}
	}
	return p.trainer.Splats().ToPointCloud()
}

// RenderView produces a gradient-free render of the live scene for a
// viewer, optionally downscaled.
func (p *Process) RenderView(cam splat.Camera, width, height uint32, bg mgl32.Vec3, scale float32) (*render.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.trainer == nil {
		return nil, fmt.Errorf("train: no scene loaded")
	}
	if scale > 0 && scale != 1 {
		return p.renderer.RenderScaled(p.trainer.Splats(), cam, width, height, bg, scale)
	}
	return p.renderer.Render(p.trainer.Splats(), cam, width, height, bg)
}

// Run executes the training loop to completion. It returns nil when the
// step budget is exhausted, ctx.Err on cancellation, and otherwise the
// first collaborator failure; there are no retries.
func (p *Process) Run(ctx context.Context, ds Dataset) error {
	defer p.setState(StateDone)
	for {
		restart, err := p.run(ctx, ds)
		if err != nil {
			return fmt.Errorf("train: run aborted: %w", err)
		}
		if restart == nil {
			return nil
		}
		ds = restart
	}
}

// run drives one full pass over a single source. A non-nil dataset return
// means the source was replaced and the loop must start over.
func (p *Process) run(ctx context.Context, ds Dataset) (Dataset, error) {
	p.setState(StateLoading)

	rng := rand.New(rand.NewSource(p.cfg.Seed))
	s := p.initial
	p.initial = nil
	if s == nil {
		s = initialStore(p.cfg, ds, rng)
	}

	p.mu.Lock()
	p.trainer = NewTrainer(p.cfg, p.renderer, s)
	p.mu.Unlock()

	loader := NewLoader(ctx, ds, rng)
	defer loader.Close()

	log := splat.Logger()
	log.Info("training started",
		slog.Int("splats", s.NumSplats()),
		slog.Int("steps", p.cfg.TotalSteps))

	for step := 0; step < p.cfg.TotalSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if next, replaced, err := p.gate(ctx); err != nil {
			return nil, err
		} else if replaced {
			log.Info("training source replaced")
			return next, nil
		}

		p.setState(StateTraining)
		sample, err := loader.Next(ctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		res, err := p.trainer.Step(step, sample)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}

		if res.Grown > 0 || res.Pruned > 0 {
			log.Info("refinement",
				slog.Int("step", step),
				slog.Int("grown", res.Grown),
				slog.Int("pruned", res.Pruned),
				slog.Int("splats", res.NumSplats))
		}

		if p.boundary(step, p.cfg.EvalEvery) && p.evalSet != nil {
			p.setState(StateEvaluating)
			m, err := Evaluate(p.renderer, s, p.evalSet, p.trainer.Background)
			if err != nil {
				return nil, err
			}
			log.Info("evaluation",
				slog.Int("step", step),
				slog.Float64("psnr", float64(m.PSNR)),
				slog.Float64("ssim", float64(m.SSIM)))
		}

		if p.boundary(step, p.cfg.ExportEvery) && p.exporter != nil {
			p.setState(StateExporting)
			if err := p.exporter.Export(p.Snapshot(), step); err != nil {
				return nil, err
			}
		}
	}

	if p.exporter != nil {
		p.setState(StateExporting)
		if err := p.exporter.Export(p.Snapshot(), p.cfg.TotalSteps); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// gate blocks while paused and picks up source replacements. It reports
// the replacement dataset when one arrived.
func (p *Process) gate(ctx context.Context) (Dataset, bool, error) {
	select {
	case next := <-p.source:
		return next, true, nil
	default:
	}
	for p.paused.Load() {
		p.setState(StatePaused)
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case next := <-p.source:
			return next, true, nil
		case <-p.resume:
		}
	}
	return nil, false, nil
}

func (p *Process) boundary(step, every int) bool {
	return every > 0 && (step+1)%every == 0
}

// initialStore seeds random splats inside the camera frusta's rough
// extent, or the unit box when the source has no usable views.
func initialStore(cfg Config, ds Dataset, rng *rand.Rand) *splat.Splats {
	bounds := splat.BoundsFromMinMax(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	if ds.Len() > 0 {
		if sample, err := ds.Sample(0); err == nil {
			c := sample.Camera.Position
			r := c.Len()
			if r > 1 {
				bounds = splat.BoundsFromMinMax(
					mgl32.Vec3{-r, -r, -r}, mgl32.Vec3{r, r, r})
			}
		}
	}
	s := splat.NewRandomSplats(bounds, cfg.InitCount, rng)
	return s.WithSHDegree(cfg.SHDegree)
}
