// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cpu

import (
	"runtime"
	"sync"
)

// pool fans a contiguous index range out over a fixed set of worker
// goroutines. Each Run splits [0, n) into one chunk per worker; a Run
// returns only when every chunk is done, which gives callers the
// submission-order guarantee between consecutive kernels.
type pool struct {
	workers int

	mu   sync.Mutex
	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup
}

type job struct {
	fn     func(worker, start, end int)
	worker int
	start  int
	end    int
	wg     *sync.WaitGroup
}

func newPool(workers int) *pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &pool{
		workers: workers,
		jobs:    make(chan job, workers),
		done:    make(chan struct{}),
	}
	for range workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			j.fn(j.worker, j.start, j.end)
			j.wg.Done()
		}
	}
}

// run executes fn over [0, n) and blocks until complete.
func (p *pool) run(n int, fn func(worker, start, end int)) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	chunk := (n + p.workers - 1) / p.workers
	var wg sync.WaitGroup
	for w := range p.workers {
		start := w * chunk
		if start >= n {
			break
		}
		end := min(start+chunk, n)
		wg.Add(1)
		p.jobs <- job{fn: fn, worker: w, start: start, end: end, wg: &wg}
	}
	wg.Wait()
}

func (p *pool) close() {
	close(p.done)
	p.wg.Wait()
}
