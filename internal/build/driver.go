// Package build runs and deduplicates derivation builds. At most one
// live build exists per drv: every run requiring the same derivation
// shares the same *Handle and its outcome.
package build

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/typhonci/typhon/internal/events"
	"github.com/typhonci/typhon/internal/store"
	"github.com/typhonci/typhon/internal/tasks"
)

// Result is the value produced by a completed build, recorded in the
// Build Task Registry as tasks.Outcome[Result].Value.
type Result struct {
	OutputPaths []string
}

// Driver owns the build task registry and the in-process dedup map:
// Submit returns the existing handle if one is live.
type Driver struct {
	db       *store.DB
	registry *tasks.Registry[int64, Result]
	builder  Builder
	bus      *events.Bus

	mu   sync.Mutex
	live map[string]*Handle
}

// NewDriver wires a build Driver against the shared store, registry,
// external Builder, and event bus singletons constructed once in
// internal/core.
func NewDriver(db *store.DB, registry *tasks.Registry[int64, Result], builder Builder, bus *events.Bus) *Driver {
	return &Driver{
		db:       db,
		registry: registry,
		builder:  builder,
		bus:      bus,
		live:     make(map[string]*Handle),
	}
}

// Handle references one in-flight or completed build of a single drv.
// Each Submit that returns a Handle holds one reference; a run that
// stops waiting on the build drops its reference with Release. The
// underlying build is canceled only when the last reference is
// released while the build is still live; a single run's cancellation
// never cascades to a shared build.
type Handle struct {
	Build *store.Build

	driver *Driver
	refs   int
}

// Submit returns the live Handle for drv if a build is already
// pending or running; otherwise it allocates a new Build row and
// registers work in the Build Task Registry that creates and starts
// the external builder. That work runs asynchronously, so the builder
// may not have been created yet when Submit returns.
func (d *Driver) Submit(ctx context.Context, drv string) (*Handle, error) {
	d.mu.Lock()
	if h, ok := d.live[drv]; ok {
		h.refs++
		d.mu.Unlock()
		return h, nil
	}

	b, err := d.db.CreateBuild(drv)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("submit build %s: %w", drv, err)
	}
	h := &Handle{Build: b, driver: d, refs: 1}
	d.live[drv] = h
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Emit(events.NewEvent(events.BuildNew).WithBuild(b.ID))
	}

	err = d.registry.Run(ctx, b.ID, func(ctx context.Context) (Result, error) {
		return d.run(ctx, b, drv)
	}, func(outcome tasks.Outcome[Result]) {
		d.finalize(b, outcome)
	})
	if err != nil {
		d.mu.Lock()
		delete(d.live, drv)
		d.mu.Unlock()
		return nil, fmt.Errorf("submit build %s: register: %w", drv, err)
	}

	return h, nil
}

func (d *Driver) run(ctx context.Context, b *store.Build, drv string) (Result, error) {
	if err := d.db.SetStatus(b.TaskID, store.StatusRunning); err != nil {
		return Result{}, fmt.Errorf("build %s: %w", drv, err)
	}

	handle, err := d.builder.Create(ctx, drv)
	if err != nil {
		return Result{}, fmt.Errorf("build %s: create: %w", drv, err)
	}
	if err := d.builder.Start(ctx, handle); err != nil {
		return Result{}, fmt.Errorf("build %s: start: %w", drv, err)
	}

	// Drain the log stream concurrently with waiting for the builder,
	// and join it before returning so the task's log buffer is complete
	// by the time the finalizer records the outcome.
	var g errgroup.Group
	if logs, err := d.builder.Logs(ctx, handle); err == nil && logs != nil {
		g.Go(func() error {
			return d.streamLogs(b.TaskID, logs)
		})
	}

	outputs, ok, err := d.builder.Wait(ctx, handle)
	if streamErr := g.Wait(); streamErr != nil {
		log.Printf("build %s: log stream: %v", drv, streamErr)
	}
	if err != nil {
		return Result{}, fmt.Errorf("build %s: wait: %w", drv, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("build %s: builder reported failure", drv)
	}
	return Result{OutputPaths: outputs}, nil
}

func (d *Driver) streamLogs(taskID int64, r io.ReadCloser) error {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := d.db.AppendLog(taskID, scanner.Text()); err != nil {
			log.Printf("build: append log for task %d: %v", taskID, err)
		}
	}
	return scanner.Err()
}

func (d *Driver) finalize(b *store.Build, outcome tasks.Outcome[Result]) {
	status := store.StatusSuccess
	switch {
	case outcome.Canceled:
		status = store.StatusCanceled
	case outcome.Err != nil:
		status = store.StatusError
		if err := d.db.AppendLog(b.TaskID, outcome.Err.Error()); err != nil {
			log.Printf("build %s: append failure log: %v", b.Drv, err)
		}
	}
	if err := d.db.SetStatus(b.TaskID, status); err != nil {
		log.Printf("build %s: finalize: set status: %v", b.Drv, err)
	}

	if d.bus != nil {
		d.bus.Emit(events.NewEvent(events.BuildUpdated).WithBuild(b.ID).WithError(outcome.Err))
	}

	d.mu.Lock()
	delete(d.live, b.Drv)
	d.mu.Unlock()
}

// Wait blocks until the build settles, reporting whether it succeeded
// and whether it was canceled.
func (h *Handle) Wait(ctx context.Context) (ok bool, canceled bool) {
	h.driver.registry.Wait(ctx, h.Build.ID)
	status, err := h.driver.db.Status(h.Build.TaskID)
	if err != nil {
		return false, false
	}
	return status == store.StatusSuccess, status == store.StatusCanceled
}

// Cancel requests cancellation of the build unconditionally, ignoring
// other references. The registry is signaled immediately rather than
// letting the external build linger: canceling the task's context
// aborts the Builder's Wait, and a process started under that context
// (as ExecBuilder's is) is killed. Builder.Stop is not called.
func (h *Handle) Cancel() bool {
	return h.driver.registry.Cancel(h.Build.ID)
}

// Release drops one reference to the build. When the last reference is
// released while the build is still live, the build itself is
// canceled. Releasing after the build settled is a no-op.
func (h *Handle) Release() {
	d := h.driver
	d.mu.Lock()
	h.refs--
	last := h.refs <= 0 && d.live[h.Build.Drv] == h
	d.mu.Unlock()
	if last {
		d.registry.Cancel(h.Build.ID)
	}
}

// CancelBuild cancels the live build identified by buildID if no more
// than one run references it; with other references outstanding it is
// a no-op. Reports whether a cancellation was issued.
func (d *Driver) CancelBuild(buildID int64) bool {
	d.mu.Lock()
	var h *Handle
	for _, live := range d.live {
		if live.Build.ID == buildID {
			h = live
			break
		}
	}
	shared := h != nil && h.refs > 1
	d.mu.Unlock()

	if h == nil || shared {
		return false
	}
	return d.registry.Cancel(buildID)
}
