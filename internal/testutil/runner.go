package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/typhonci/typhon/internal/action"
)

// Invocation records one action spawn observed by FakeRunner.
type Invocation struct {
	Bundle string
	Name   string
	Input  json.RawMessage
}

// Status decodes the "status" field of the invocation's input JSON,
// the aggregate status the run state machine hands to begin/end hooks.
func (i Invocation) Status() string {
	var doc struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(i.Input, &doc)
	return doc.Status
}

// FakeRunner implements action.Runner, recording every invocation and
// optionally failing named hooks.
type FakeRunner struct {
	mu          sync.Mutex
	invocations []Invocation
	fail        map[string]bool
	block       chan struct{}
}

// NewFakeRunner returns a FakeRunner where every hook succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{fail: make(map[string]bool)}
}

// FailAction makes hooks with the given name report failure.
func (f *FakeRunner) FailAction(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = true
}

// Block parks subsequent Runs until the returned release func is
// called (or their context is canceled).
func (f *FakeRunner) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Invocations returns a snapshot of every recorded spawn.
func (f *FakeRunner) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invocation, len(f.invocations))
	copy(out, f.invocations)
	return out
}

// Named returns the recorded invocations of a single hook name.
func (f *FakeRunner) Named(name string) []Invocation {
	var out []Invocation
	for _, inv := range f.Invocations() {
		if inv.Name == name {
			out = append(out, inv)
		}
	}
	return out
}

// Run implements action.Runner.
func (f *FakeRunner) Run(ctx context.Context, bundlePath, name string, input json.RawMessage, key []byte, observer action.LogObserver) (action.Outcome, error) {
	f.mu.Lock()
	f.invocations = append(f.invocations, Invocation{Bundle: bundlePath, Name: name, Input: input})
	failed := f.fail[name]
	block := f.block
	f.mu.Unlock()

	if observer != nil {
		observer.Observe("ran " + name)
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return action.Outcome{}, ctx.Err()
		}
	}
	return action.Outcome{Success: !failed}, nil
}

var _ action.Runner = (*FakeRunner)(nil)
