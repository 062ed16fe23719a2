package train

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/splat/render"
)

func taggedDataset(n int) (SliceDataset, map[*render.Image]int) {
	ds := make(SliceDataset, n)
	tags := make(map[*render.Image]int, n)
	for i := range ds {
		img := &render.Image{Width: 1, Height: 1, Pix: make([]float32, 4)}
		ds[i] = Sample{Target: img}
		tags[img] = i
	}
	return ds, tags
}

// Each epoch visits every sample exactly once before reshuffling.
func TestLoaderShuffledEpochs(t *testing.T) {
	ds, tags := taggedDataset(5)
	l := NewLoader(context.Background(), ds, rand.New(rand.NewSource(9)))
	defer l.Close()

	counts := make([]int, ds.Len())
	for i := 0; i < 2*ds.Len(); i++ {
		s, err := l.Next(context.Background())
		require.NoError(t, err)
		counts[tags[s.Target]]++
	}
	for i, c := range counts {
		assert.Equal(t, 2, c, "sample %d", i)
	}
}

func TestLoaderNextHonorsContext(t *testing.T) {
	ds, _ := taggedDataset(1)
	l := NewLoader(context.Background(), ds, rand.New(rand.NewSource(9)))
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Drain until the canceled context wins over buffered samples.
	deadline := time.Now().Add(time.Second)
	for {
		_, err := l.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
			return
		}
		require.True(t, time.Now().Before(deadline), "cancellation never surfaced")
	}
}

func TestLoaderCloseStopsPrefetch(t *testing.T) {
	ds, _ := taggedDataset(3)
	l := NewLoader(context.Background(), ds, rand.New(rand.NewSource(9)))
	l.Close()

	// The producer shuts down; Next drains what was buffered and then
	// reports cancellation instead of blocking.
	deadline := time.Now().Add(time.Second)
	for {
		_, err := l.Next(context.Background())
		if err != nil {
			return
		}
		require.True(t, time.Now().Before(deadline), "loader kept producing after close")
	}
}

type failingDataset struct{ err error }

func (d failingDataset) Len() int                   { return 1 }
func (d failingDataset) Sample(int) (Sample, error) { return Sample{}, d.err }

func TestLoaderPropagatesDatasetError(t *testing.T) {
	want := errors.New("decode failed")
	l := NewLoader(context.Background(), failingDataset{err: want}, rand.New(rand.NewSource(9)))
	defer l.Close()

	_, err := l.Next(context.Background())
	assert.ErrorIs(t, err, want)
}
