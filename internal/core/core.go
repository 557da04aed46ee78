// Package core wires the orchestration kernel together — store, event
// bus, the four task registries, the build driver, and the run state
// machine — and exposes the request surface as plain Go methods.
// There are no package-level singletons: everything lives on a Context
// constructed once per process and passed explicitly.
package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/typhonci/typhon/internal/action"
	"github.com/typhonci/typhon/internal/build"
	"github.com/typhonci/typhon/internal/eval"
	"github.com/typhonci/typhon/internal/events"
	"github.com/typhonci/typhon/internal/pipeline"
	"github.com/typhonci/typhon/internal/store"
	"github.com/typhonci/typhon/internal/tasks"
)

// Options configures New. Evaluator, Builder, and Runner are the
// external driver implementations; tests substitute
// internal/testutil fakes.
type Options struct {
	DBPath    string
	Evaluator eval.Evaluator
	Builder   build.Builder
	Runner    action.Runner

	// BusCapacity bounds the event bus's pending-event buffer.
	// Defaults to 100.
	BusCapacity int

	// Logger receives kernel log lines. Defaults to the standard
	// logger.
	Logger *log.Logger
}

// Context is the process-wide kernel state: one store, one bus, four
// registries, one build driver, one run coordinator.
type Context struct {
	db        *store.DB
	bus       *events.Bus
	logger    *log.Logger
	evaluator eval.Evaluator
	runner    action.Runner

	evaluations *tasks.Registry[int64, eval.NewJobs]
	runs        *tasks.Registry[int64, pipeline.RunResult]
	actions     *tasks.Registry[int64, action.Outcome]
	buildTasks  *tasks.Registry[int64, build.Result]

	builds      *build.Driver
	coordinator *pipeline.Coordinator

	// rootCtx parents every background task so that kernel work is
	// detached from the lifetime of the request that started it.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	shuttingDown atomic.Bool
}

// New opens the database, reconciles task statuses left over from a
// previous process, and wires the kernel. The caller owns
// the returned Context and must Shutdown it.
func New(opts Options) (*Context, error) {
	if opts.Evaluator == nil || opts.Builder == nil || opts.Runner == nil {
		return nil, fmt.Errorf("core: evaluator, builder, and runner are all required")
	}
	if opts.BusCapacity <= 0 {
		opts.BusCapacity = 100
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	db, err := store.Open(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("core: open store: %w", err)
	}

	interrupted, err := db.Reconcile()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("core: reconcile: %w", err)
	}
	if interrupted > 0 {
		opts.Logger.Printf("marked %d interrupted task(s) as error", interrupted)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())

	c := &Context{
		db:          db,
		bus:         events.NewBus(opts.BusCapacity),
		logger:      opts.Logger,
		evaluator:   opts.Evaluator,
		runner:      opts.Runner,
		evaluations: tasks.New[int64, eval.NewJobs](),
		runs:        tasks.New[int64, pipeline.RunResult](),
		actions:     tasks.New[int64, action.Outcome](),
		buildTasks:  tasks.New[int64, build.Result](),
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
	}
	c.builds = build.NewDriver(db, c.buildTasks, opts.Builder, c.bus)
	c.coordinator = pipeline.NewCoordinator(db, c.runs, c.actions, opts.Runner, c.builds, c.bus)
	return c, nil
}

// DB exposes the store for read-only inspection (CLI, tests).
func (c *Context) DB() *store.DB {
	return c.db
}

// Bus exposes the event bus for subscribers.
func (c *Context) Bus() *events.Bus {
	return c.bus
}

// Subscribe attaches a log handler writing one line per event to w,
// returning its unsubscribe func.
func (c *Context) Subscribe(w io.Writer) func() {
	return c.bus.Subscribe(events.LogHandler(events.LogConfig{Writer: w}))
}

// Shutdown tears the kernel down in reverse dependency order:
// runs first, then evaluations, then actions, then builds, each awaited
// to quiescence before the next begins. Afterward the bus is closed and
// the database connection released. Tasks interrupted here are repaired
// by the next process's startup reconciliation.
func (c *Context) Shutdown(ctx context.Context) error {
	if c.shuttingDown.Swap(true) {
		return nil
	}
	c.runs.Shutdown(ctx)
	c.evaluations.Shutdown(ctx)
	c.actions.Shutdown(ctx)
	c.buildTasks.Shutdown(ctx)

	c.rootCancel()
	c.bus.Close()
	return c.db.Close()
}

// WaitEvaluation blocks until the evaluation's driver task (and its
// finalizer, including job/run creation) has settled. Returns
// immediately if the evaluation is not live.
func (c *Context) WaitEvaluation(ctx context.Context, evaluationID int64) error {
	e, err := c.db.GetEvaluation(evaluationID)
	if err != nil {
		return errOf(KindNotFound, "evaluation.wait", err)
	}
	c.evaluations.Wait(ctx, e.TaskID)
	return nil
}

// WaitRun blocks until the run's state machine has settled. Returns
// immediately if the run is not live.
func (c *Context) WaitRun(ctx context.Context, runID int64) {
	c.runs.Wait(ctx, runID)
}
