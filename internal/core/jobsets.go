package core

import (
	"context"
	"errors"
	"sort"

	"github.com/typhonci/typhon/internal/eval"
	"github.com/typhonci/typhon/internal/events"
	"github.com/typhonci/typhon/internal/store"
	"github.com/typhonci/typhon/internal/tasks"
)

// JobsetInfo is the read model for Jobset.Info: the jobset row plus its
// evaluation history.
type JobsetInfo struct {
	Jobset      *store.Jobset
	Evaluations []*store.Evaluation
}

// GetJobsetInfo returns a jobset and its evaluations.
func (c *Context) GetJobsetInfo(projectName, jobsetName string) (*JobsetInfo, error) {
	js, err := c.jobset("jobset.info", projectName, jobsetName)
	if err != nil {
		return nil, err
	}
	evals, err := c.db.ListEvaluationsByJobset(js.ID)
	if err != nil {
		return nil, c.internalErr("jobset.info", err)
	}
	return &JobsetInfo{Jobset: js, Evaluations: evals}, nil
}

// Evaluate schedules one evaluation of the jobset: allocate
// the next per-project num with a fresh pending task, register the
// evaluation driver in the Evaluation Task Registry keyed by the task
// id, and — on success — create the resulting jobs and their first runs
// in one transaction before starting each run's state machine.
//
// Evaluate returns as soon as the evaluation row exists and the driver
// task is registered; completion is observed via WaitEvaluation, the
// event bus, or the persisted status.
func (c *Context) Evaluate(ctx context.Context, projectName, jobsetName string) (*store.Evaluation, error) {
	const op = "jobset.evaluate"

	if c.shuttingDown.Load() {
		return nil, errOf(KindShuttingDown, op, tasks.ErrShuttingDown)
	}

	p, err := c.project(op, projectName)
	if err != nil {
		return nil, err
	}
	js, err := c.jobset(op, projectName, jobsetName)
	if err != nil {
		return nil, err
	}

	e, err := c.db.CreateEvaluation(js.ID, p.ID, p.ActionsPath)
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	if err := c.db.SetFlakeLocked(e.ID, js.FlakeRef); err != nil {
		return nil, c.internalErr(op, err)
	}
	e.FlakeLocked = js.FlakeRef

	c.bus.Emit(events.NewEvent(events.EvaluationNew).
		WithProject(p.ID).WithJobset(js.ID).WithEvaluation(e.ID))

	taskID := e.TaskID
	err = c.evaluations.Run(c.rootCtx, taskID,
		func(taskCtx context.Context) (eval.NewJobs, error) {
			if err := c.db.SetStatus(taskID, store.StatusRunning); err != nil {
				return nil, err
			}
			return c.evaluator.Evaluate(taskCtx, js.FlakeRef, false, eval.LogObserverFunc(func(line string) {
				if err := c.db.AppendLog(taskID, line); err != nil {
					c.logger.Printf("evaluation %d: append log: %v", e.ID, err)
				}
			}))
		},
		func(outcome tasks.Outcome[eval.NewJobs]) {
			c.finishEvaluation(e, outcome)
		},
	)
	if errors.Is(err, tasks.ErrShuttingDown) {
		return nil, errOf(KindShuttingDown, op, err)
	}
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return e, nil
}

// finishEvaluation is the evaluation task's finalizer. On a canceled or
// failed driver it only records the status; jobs and runs are created
// exclusively on success, in one transaction, and each new run's state
// machine starts before waiters are released.
func (c *Context) finishEvaluation(e *store.Evaluation, outcome tasks.Outcome[eval.NewJobs]) {
	switch {
	case outcome.Canceled:
		if err := c.db.SetStatus(e.TaskID, store.StatusCanceled); err != nil {
			c.logger.Printf("evaluation %d: set canceled: %v", e.ID, err)
		}
	case outcome.Err != nil:
		if err := c.db.AppendLog(e.TaskID, outcome.Err.Error()); err != nil {
			c.logger.Printf("evaluation %d: append failure log: %v", e.ID, err)
		}
		if err := c.db.SetStatus(e.TaskID, store.StatusError); err != nil {
			c.logger.Printf("evaluation %d: set error: %v", e.ID, err)
		}
	default:
		_, runs, err := c.db.FinishEvaluation(e.ID, e.TaskID, jobInputs(outcome.Value))
		if err != nil {
			c.logger.Printf("evaluation %d: commit jobs: %v", e.ID, err)
			if serr := c.db.SetStatus(e.TaskID, store.StatusError); serr != nil {
				c.logger.Printf("evaluation %d: set error: %v", e.ID, serr)
			}
			break
		}
		for _, run := range runs {
			c.bus.Emit(events.NewEvent(events.RunNew).
				WithEvaluation(e.ID).WithJob(run.JobID).WithRun(run.ID))
			if err := c.coordinator.Start(c.rootCtx, *run); err != nil {
				c.logger.Printf("run %d: start: %v", run.ID, err)
			}
		}
	}

	c.bus.Emit(events.NewEvent(events.EvaluationUpdated).
		WithProject(e.ProjectID).WithJobset(e.JobsetID).WithEvaluation(e.ID))
}

// jobInputs flattens NewJobs into store inputs in a stable (system,
// name) order so job row ids are deterministic for a given evaluation.
func jobInputs(jobs eval.NewJobs) []store.JobInput {
	keys := make([]eval.JobKey, 0, len(jobs))
	for k := range jobs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].System != keys[j].System {
			return keys[i].System < keys[j].System
		}
		return keys[i].Name < keys[j].Name
	})

	inputs := make([]store.JobInput, 0, len(keys))
	for _, k := range keys {
		j := jobs[k]
		inputs = append(inputs, store.JobInput{
			System: k.System,
			Name:   k.Name,
			Drv:    j.Drv,
			Out:    j.Out,
			Dist:   j.Dist,
		})
	}
	return inputs
}

func (c *Context) jobset(op, projectName, jobsetName string) (*store.Jobset, error) {
	p, err := c.project(op, projectName)
	if err != nil {
		return nil, err
	}
	js, err := c.db.GetJobset(p.ID, jobsetName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errf(KindNotFound, op, "no such jobset: %s/%s", projectName, jobsetName)
	}
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return js, nil
}
