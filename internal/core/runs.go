package core

import (
	"errors"

	"github.com/typhonci/typhon/internal/store"
)

// RunInfo is the read model for Run.Info: the run row plus its status,
// derived from the begin action, build, and end action it has linked.
type RunInfo struct {
	Run    *store.Run
	Status store.StatusKind
}

// GetRunInfo returns a run and its derived status.
func (c *Context) GetRunInfo(runID int64) (*RunInfo, error) {
	const op = "run.info"
	r, err := c.run(op, runID)
	if err != nil {
		return nil, err
	}
	status, err := c.db.DerivedStatus(r)
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return &RunInfo{Run: r, Status: status}, nil
}

// CancelRun cancels a live run: the active phase's task is canceled and
// no further phase starts. Canceling a run that already
// settled is a BadRequest.
func (c *Context) CancelRun(runID int64) error {
	const op = "run.cancel"
	r, err := c.run(op, runID)
	if err != nil {
		return err
	}
	if !c.runs.Cancel(r.ID) {
		return errf(KindBadRequest, op, "run %d is not live", runID)
	}
	return nil
}

// SearchRuns filters runs by project, jobset, evaluation num, job name,
// and system.
func (c *Context) SearchRuns(search store.RunSearch) ([]*store.Run, error) {
	runs, err := c.db.SearchRuns(search)
	if err != nil {
		return nil, c.internalErr("run.search", err)
	}
	return runs, nil
}

func (c *Context) run(op string, id int64) (*store.Run, error) {
	r, err := c.db.GetRun(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errf(KindNotFound, op, "no such run: %d", id)
	}
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return r, nil
}
