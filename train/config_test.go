package train

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
total_steps = 7000
ssim_weight = 0.3
sh_degree = 2
max_splats = 500000
normalize_saliency = true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.TotalSteps)
	assert.InDelta(t, 0.3, float64(cfg.SSIMWeight), 1e-6)
	assert.Equal(t, uint32(2), cfg.SHDegree)
	assert.Equal(t, 500000, cfg.MaxSplats)
	assert.True(t, cfg.NormalizeSaliency)

	// Absent keys keep their defaults.
	def := DefaultConfig()
	assert.Equal(t, def.RefineEvery, cfg.RefineEvery)
	assert.Equal(t, def.MeansLR, cfg.MeansLR)
	assert.Equal(t, def.Seed, cfg.Seed)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative steps": "total_steps = -5",
		"bad ssim blend": "ssim_weight = 1.5",
		"bad sh degree":  "sh_degree = 9",
		"zero refine":    "refine_every = 0",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsMalformed(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "total_steps = ["))
	assert.Error(t, err)
}
