// Package testutil provides fake implementations of the external
// driver interfaces so the orchestration kernel can be exercised
// end-to-end without a Nix toolchain.
package testutil

import (
	"context"
	"sync"

	"github.com/typhonci/typhon/internal/eval"
)

// FakeEvaluator implements eval.Evaluator with a canned NewJobs result
// or error, optional streamed log lines, and an optional block so tests
// can cancel or shut down mid-evaluation.
type FakeEvaluator struct {
	mu    sync.Mutex
	jobs  eval.NewJobs
	err   error
	lines []string
	block chan struct{}
	calls int
}

// NewFakeEvaluator returns a FakeEvaluator producing an empty NewJobs.
func NewFakeEvaluator() *FakeEvaluator {
	return &FakeEvaluator{jobs: eval.NewJobs{}}
}

// Return sets the NewJobs the next evaluations produce.
func (f *FakeEvaluator) Return(jobs eval.NewJobs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = jobs
	f.err = nil
}

// Fail makes subsequent evaluations return err.
func (f *FakeEvaluator) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Stream sets log lines handed to the observer before returning.
func (f *FakeEvaluator) Stream(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = lines
}

// Block parks subsequent evaluations until the returned release func is
// called (or their context is canceled).
func (f *FakeEvaluator) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls reports how many evaluations have been requested.
func (f *FakeEvaluator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Evaluate implements eval.Evaluator.
func (f *FakeEvaluator) Evaluate(ctx context.Context, flakeURL string, locked bool, observer eval.LogObserver) (eval.NewJobs, error) {
	f.mu.Lock()
	f.calls++
	jobs := f.jobs
	err := f.err
	lines := f.lines
	block := f.block
	f.mu.Unlock()

	for _, line := range lines {
		if observer != nil {
			observer.Observe(line)
		}
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	out := make(eval.NewJobs, len(jobs))
	for k, v := range jobs {
		out[k] = v
	}
	return out, nil
}

var _ eval.Evaluator = (*FakeEvaluator)(nil)
