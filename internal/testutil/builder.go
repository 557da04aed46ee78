package testutil

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/typhonci/typhon/internal/build"
)

// FakeBuilder implements build.Builder with per-drv canned results and
// an optional block, counting how many builds were actually created so
// dedup can be asserted.
type FakeBuilder struct {
	mu      sync.Mutex
	fail    map[string]bool
	outputs map[string][]string
	created map[string]int
	block   chan struct{}
}

// NewFakeBuilder returns a FakeBuilder where every build succeeds with
// a single synthesized output path.
func NewFakeBuilder() *FakeBuilder {
	return &FakeBuilder{
		fail:    make(map[string]bool),
		outputs: make(map[string][]string),
		created: make(map[string]int),
	}
}

// FailDrv makes builds of drv report failure.
func (f *FakeBuilder) FailDrv(drv string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[drv] = true
}

// Block parks subsequent Waits until the returned release func is
// called (or their context is canceled).
func (f *FakeBuilder) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Created reports how many builds were created for drv.
func (f *FakeBuilder) Created(drv string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[drv]
}

// Create implements build.Builder.
func (f *FakeBuilder) Create(ctx context.Context, drv string) (build.BuildHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[drv]++
	return build.BuildHandle(drv), nil
}

// Start implements build.Builder.
func (f *FakeBuilder) Start(ctx context.Context, h build.BuildHandle) error { return nil }

// Wait implements build.Builder.
func (f *FakeBuilder) Wait(ctx context.Context, h build.BuildHandle) ([]string, bool, error) {
	f.mu.Lock()
	block := f.block
	failed := f.fail[string(h)]
	outputs := f.outputs[string(h)]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if failed {
		return nil, false, nil
	}
	if outputs == nil {
		outputs = []string{string(h) + "-out"}
	}
	return outputs, true, nil
}

// Logs implements build.Builder.
func (f *FakeBuilder) Logs(ctx context.Context, h build.BuildHandle) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

// Stop implements build.Builder.
func (f *FakeBuilder) Stop(ctx context.Context, h build.BuildHandle, timeout time.Duration) error {
	return nil
}

var _ build.Builder = (*FakeBuilder)(nil)
