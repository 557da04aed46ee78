// Package pipeline implements the run state machine: submit a build,
// spawn the project's "begin" action, wait for both to settle, spawn
// "end" with the aggregate status, and finalize.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/typhonci/typhon/internal/action"
	"github.com/typhonci/typhon/internal/build"
	"github.com/typhonci/typhon/internal/events"
	"github.com/typhonci/typhon/internal/store"
	"github.com/typhonci/typhon/internal/tasks"
)

// phase names the run's internal state machine states, logged as they
// transition so a reader can trace a run's phase history from stdout
// without re-deriving it from the database.
type phase string

const (
	phaseCreated      phase = "created"
	phaseBeginPending phase = "begin_pending"
	phaseBeginDone    phase = "begin_done"
	phaseBuildPending phase = "build_pending"
	phaseBuildDone    phase = "build_done"
	phaseEndPending   phase = "end_pending"
	phaseFinished     phase = "finished"
	phaseCanceled     phase = "canceled"
)

// RunResult is the value produced by a completed run, recorded in the
// Run Task Registry as tasks.Outcome[RunResult].Value.
type RunResult struct {
	Status store.StatusKind
}

// Coordinator drives one run through its four phases,
// using the shared Build Driver, an action.Runner for spawning begin/
// end hooks, and the Action Task Registry to await both hooks.
type Coordinator struct {
	db      *store.DB
	runs    *tasks.Registry[int64, RunResult]
	actions *tasks.Registry[int64, action.Outcome]
	runner  action.Runner
	builds  *build.Driver
	bus     *events.Bus
}

// NewCoordinator wires a Coordinator against the shared singletons
// constructed once in internal/core.
func NewCoordinator(
	db *store.DB,
	runs *tasks.Registry[int64, RunResult],
	actions *tasks.Registry[int64, action.Outcome],
	runner action.Runner,
	builds *build.Driver,
	bus *events.Bus,
) *Coordinator {
	return &Coordinator{db: db, runs: runs, actions: actions, runner: runner, builds: builds, bus: bus}
}

// Start registers run in the Run Task Registry and begins its five-step
// lifecycle asynchronously. It returns once registration succeeds (or
// fails with tasks.ErrAlreadyRegistered/ErrShuttingDown); callers await
// completion via the registry's Wait or by polling store.DerivedStatus.
func (c *Coordinator) Start(ctx context.Context, run store.Run) error {
	log.Printf("run %d: %s", run.ID, phaseCreated)
	return c.runs.Run(ctx, run.ID, func(ctx context.Context) (RunResult, error) {
		return c.drive(ctx, run)
	}, func(outcome tasks.Outcome[RunResult]) {
		c.finalize(run, outcome)
	})
}

func (c *Coordinator) drive(ctx context.Context, run store.Run) (RunResult, error) {
	job, err := c.db.GetJob(run.JobID)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %d: get job: %w", run.ID, err)
	}
	evaluation, err := c.db.GetEvaluation(job.EvaluationID)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %d: get evaluation: %w", run.ID, err)
	}
	jobset, err := c.db.GetJobsetByID(evaluation.JobsetID)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %d: get jobset: %w", run.ID, err)
	}
	project, err := c.db.GetProjectByID(evaluation.ProjectID)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %d: get project: %w", run.ID, err)
	}

	// Step 1: submit the build.
	log.Printf("run %d: %s", run.ID, phaseBeginPending)
	buildHandle, err := c.builds.Submit(ctx, job.Drv)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %d: submit build: %w", run.ID, err)
	}
	// Dropping the reference once this run stops waiting lets the
	// driver cancel the build when its last referencing run goes away,
	// without cascading a single run's cancellation to a shared build.
	// After the build settles this is a no-op.
	defer buildHandle.Release()

	// An evaluation without an actions bundle still gets its hooks: the
	// sentinel bundle path makes them no-op successes, and the begin
	// hook always runs, even when the build is destined to fail.
	actionsPath := "/dev/null"
	if evaluation.ActionsPath != nil {
		actionsPath = *evaluation.ActionsPath
	}

	// Step 2: spawn "begin", persist the linkage, emit RunUpdated.
	beginAction, err := c.spawnAction(ctx, project, evaluation, jobset, job, actionsPath, "begin", store.StatusPending)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %d: spawn begin: %w", run.ID, err)
	}

	if err := c.db.SetBeginAndBuild(run.ID, beginAction.ID, buildHandle.Build.ID); err != nil {
		return RunResult{}, fmt.Errorf("run %d: persist begin/build: %w", run.ID, err)
	}
	c.emitRunUpdated(run.ID)
	log.Printf("run %d: %s", run.ID, phaseBeginDone)

	// Step 3: await begin, then the build, to compute the aggregate status.
	log.Printf("run %d: %s", run.ID, phaseBuildPending)
	c.actions.Wait(ctx, beginAction.ID)
	buildOK, _ := buildHandle.Wait(ctx)
	log.Printf("run %d: %s", run.ID, phaseBuildDone)

	// A canceled run never reaches "end". The waits above return early
	// when the run's own context fires, so check it before aggregating.
	if ctx.Err() != nil {
		return RunResult{Status: store.StatusCanceled}, ctx.Err()
	}

	// A build canceled out from under a still-live run produced no
	// result, which aggregates as error, same as a builder failure.
	status := store.StatusSuccess
	if !buildOK {
		status = store.StatusError
	}

	// Step 4: spawn "end" with the aggregate status, persist the
	// linkage, emit RunUpdated.
	log.Printf("run %d: %s", run.ID, phaseEndPending)
	endAction, err := c.spawnAction(ctx, project, evaluation, jobset, job, actionsPath, "end", status)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %d: spawn end: %w", run.ID, err)
	}
	if err := c.db.SetEnd(run.ID, endAction.ID); err != nil {
		return RunResult{}, fmt.Errorf("run %d: persist end: %w", run.ID, err)
	}
	c.emitRunUpdated(run.ID)

	// The run settles only once its end hook has.
	c.actions.Wait(ctx, endAction.ID)

	// Step 5: finalize.
	log.Printf("run %d: %s", run.ID, phaseFinished)
	return RunResult{Status: status}, nil
}

func (c *Coordinator) finalize(run store.Run, outcome tasks.Outcome[RunResult]) {
	if outcome.Canceled {
		log.Printf("run %d: %s", run.ID, phaseCanceled)
		return
	}
	if outcome.Err != nil {
		log.Printf("run %d: finished with error: %v", run.ID, outcome.Err)
	}
}

func (c *Coordinator) emitRunUpdated(runID int64) {
	if c.bus != nil {
		c.bus.Emit(events.NewEvent(events.RunUpdated).WithRun(runID))
	}
}

// spawnAction builds the action input JSON and spawns name ("begin" or
// "end") via the Action Runner, registering the resulting task in the
// Action Task Registry so Coordinator.drive can await it.
func (c *Coordinator) spawnAction(
	ctx context.Context,
	project *store.Project,
	evaluation *store.Evaluation,
	jobset *store.Jobset,
	job *store.Job,
	actionsPath string,
	name string,
	status store.StatusKind,
) (*store.Action, error) {
	input := mkInput(project, evaluation, jobset, job, status)

	a, err := c.db.CreateAction(project.ID, string(input), actionsPath)
	if err != nil {
		return nil, fmt.Errorf("create action %s: %w", name, err)
	}

	if c.bus != nil {
		c.bus.Emit(events.NewEvent(events.ActionNew).WithAction(a.ID))
	}

	err = c.actions.Run(ctx, a.ID, func(ctx context.Context) (action.Outcome, error) {
		if setErr := c.db.SetStatus(a.TaskID, store.StatusRunning); setErr != nil {
			return action.Outcome{}, setErr
		}
		outcome, err := c.runner.Run(ctx, actionsPath, name, input, []byte(project.Key), action.LogObserverFunc(func(line string) {
			_ = c.db.AppendLog(a.TaskID, line)
		}))
		return outcome, err
	}, func(outcome tasks.Outcome[action.Outcome]) {
		c.finalizeAction(a, outcome)
	})
	if err != nil {
		return nil, fmt.Errorf("register action %s: %w", name, err)
	}

	return a, nil
}

func (c *Coordinator) finalizeAction(a *store.Action, outcome tasks.Outcome[action.Outcome]) {
	status := store.StatusSuccess
	switch {
	case outcome.Canceled:
		status = store.StatusCanceled
	case outcome.Err != nil:
		status = store.StatusError
		_ = c.db.AppendLog(a.TaskID, outcome.Err.Error())
	case !outcome.Value.Success:
		status = store.StatusError
	}
	if err := c.db.SetStatus(a.TaskID, status); err != nil {
		log.Printf("action %d: finalize: set status: %v", a.ID, err)
	}
}

// mkInput builds a flat JSON object
// carrying the facts an action script needs about the job it concerns.
func mkInput(project *store.Project, evaluation *store.Evaluation, jobset *store.Jobset, job *store.Job, status store.StatusKind) json.RawMessage {
	doc := map[string]any{
		"drv":        job.Drv,
		"evaluation": evaluation.Num,
		"flake":      jobset.FlakeRef,
		"job":        job.Name,
		"jobset":     jobset.Name,
		"out":        job.Out,
		"project":    project.Name,
		"status":     string(status),
		"system":     job.System,
		"url":        evaluation.FlakeLocked,
	}
	data, _ := json.Marshal(doc)
	return data
}
