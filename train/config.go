package train

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds every training hyperparameter. The zero value is not usable;
// start from DefaultConfig and override, or load a TOML file.
type Config struct {
	// TotalSteps is the training budget in optimizer steps.
	TotalSteps int `toml:"total_steps"`

	// SSIMWeight blends L1 and structural similarity in the image loss:
	// (1-w)*L1 + w*(1-SSIM).
	SSIMWeight float32 `toml:"ssim_weight"`

	// OpacityLossWeight penalizes mean activated opacity, encouraging
	// splats to fade so pruning can remove them.
	OpacityLossWeight float32 `toml:"opacity_loss_weight"`

	// MeansLR is the initial learning rate for positions; it decays
	// exponentially to MeansLRFinal over TotalSteps.
	MeansLR      float32 `toml:"means_lr"`
	MeansLRFinal float32 `toml:"means_lr_final"`

	// Learning rates for the remaining parameter groups. SH bands above
	// DC train at CoeffsLR/CoeffsHigherDiv.
	CoeffsLR        float32 `toml:"coeffs_lr"`
	CoeffsHigherDiv float32 `toml:"coeffs_higher_div"`
	OpacityLR       float32 `toml:"opacity_lr"`
	ScalesLR        float32 `toml:"scales_lr"`
	RotationsLR     float32 `toml:"rotations_lr"`

	// Adam moment decay and stabilizer.
	Beta1   float32 `toml:"beta1"`
	Beta2   float32 `toml:"beta2"`
	Epsilon float32 `toml:"epsilon"`

	// Refinement schedule: every RefineEvery steps after RefineStart,
	// stopping at GrowthStopIter.
	RefineEvery    int `toml:"refine_every"`
	RefineStart    int `toml:"refine_start"`
	GrowthStopIter int `toml:"growth_stop_iter"`

	// GrowGradThreshold is the screen-space gradient norm above which a
	// splat is a growth candidate; GrowthSelectFraction bounds how many
	// candidates are cloned per boundary, as a fraction of the store.
	GrowGradThreshold    float32 `toml:"grow_grad_threshold"`
	GrowthSelectFraction float32 `toml:"growth_select_fraction"`

	// CullOpacity prunes splats whose activated opacity falls below it.
	CullOpacity float32 `toml:"cull_opacity"`

	// MaxSplats caps growth. Zero means unbounded.
	MaxSplats int `toml:"max_splats"`

	// NormalizeSaliency divides the gathered refine weight by the
	// visibility count instead of taking a running max.
	NormalizeSaliency bool `toml:"normalize_saliency"`

	// MeanNoiseWeight scales the positional noise injected after each
	// step (0 disables). Noise is shaped by each splat's covariance and
	// attenuated by opacity and the decayed means learning rate.
	MeanNoiseWeight float32 `toml:"mean_noise_weight"`

	// EvalEvery and ExportEvery interleave evaluation and export with
	// training. Zero disables.
	EvalEvery   int `toml:"eval_every"`
	ExportEvery int `toml:"export_every"`

	// SHDegree is the spherical-harmonic degree to train at.
	SHDegree uint32 `toml:"sh_degree"`

	// InitCount is the random-initialization splat count when the data
	// source carries no point cloud.
	InitCount int `toml:"init_count"`

	// Seed drives every stochastic choice (init, shuffling, growth
	// sampling, noise) for reproducible runs.
	Seed int64 `toml:"seed"`
}

// DefaultConfig returns the standard hyperparameters.
func DefaultConfig() Config {
	return Config{
		TotalSteps:           30000,
		SSIMWeight:           0.2,
		OpacityLossWeight:    0.0,
		MeansLR:              1.6e-4,
		MeansLRFinal:         1.6e-6,
		CoeffsLR:             2.5e-3,
		CoeffsHigherDiv:      20,
		OpacityLR:            5e-2,
		ScalesLR:             5e-3,
		RotationsLR:          1e-3,
		Beta1:                0.9,
		Beta2:                0.999,
		Epsilon:              1e-15,
		RefineEvery:          100,
		RefineStart:          500,
		GrowthStopIter:       12500,
		GrowGradThreshold:    0.00085,
		GrowthSelectFraction: 0.1,
		CullOpacity:          0.15,
		MaxSplats:            10_000_000,
		NormalizeSaliency:    false,
		MeanNoiseWeight:      1e4,
		EvalEvery:            0,
		ExportEvery:          0,
		SHDegree:             3,
		InitCount:            10000,
		Seed:                 42,
	}
}

// LoadConfig reads a TOML file over DefaultConfig; absent keys keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("train: read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("train: parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.TotalSteps <= 0 {
		return fmt.Errorf("train: total_steps must be positive, got %d", c.TotalSteps)
	}
	if c.SSIMWeight < 0 || c.SSIMWeight > 1 {
		return fmt.Errorf("train: ssim_weight must be in [0,1], got %g", c.SSIMWeight)
	}
	if c.RefineEvery <= 0 {
		return fmt.Errorf("train: refine_every must be positive, got %d", c.RefineEvery)
	}
	if c.SHDegree > 3 {
		return fmt.Errorf("train: sh_degree must be 0..3, got %d", c.SHDegree)
	}
	return nil
}
