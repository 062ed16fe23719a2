package train

import (
	"context"
	"math/rand"

	"github.com/gogpu/splat"
)

// Loader feeds training samples with a single-slot prefetch: while the loop
// trains on sample k, the loader's goroutine is already fetching k+1.
// Epochs are reshuffled; the stream never ends on its own.
type Loader struct {
	samples <-chan Sample
	errs    <-chan error
	cancel  context.CancelFunc
}

// NewLoader starts prefetching from the dataset. rng drives the epoch
// shuffle. Close the loader (or cancel the parent context) to release the
// goroutine.
func NewLoader(ctx context.Context, ds Dataset, rng *rand.Rand) *Loader {
	ctx, cancel := context.WithCancel(ctx)
	samples := make(chan Sample, 1)
	errs := make(chan error, 1)

	order := rand.New(rand.NewSource(rng.Int63()))
	go func() {
		defer close(samples)
		perm := order.Perm(ds.Len())
		next := 0
		for {
			if next == len(perm) {
				perm = order.Perm(ds.Len())
				next = 0
			}
			s, err := ds.Sample(perm[next])
			if err != nil {
				select {
				case errs <- err:
				case <-ctx.Done():
				}
				return
			}
			next++
			select {
			case samples <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Loader{samples: samples, errs: errs, cancel: cancel}
}

// Next blocks until the prefetched sample is ready. It returns the
// context's error on cancellation and the dataset's error if a fetch
// failed.
func (l *Loader) Next(ctx context.Context) (Sample, error) {
	select {
	case s, ok := <-l.samples:
		if !ok {
			// Producer stopped; surface its error if it left one.
			select {
			case err := <-l.errs:
				return Sample{}, err
			default:
				return Sample{}, context.Canceled
			}
		}
		return s, nil
	case err := <-l.errs:
		return Sample{}, err
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}

// Close stops the prefetch goroutine.
func (l *Loader) Close() {
	l.cancel()
	splat.Logger().Debug("loader closed")
}
