package core

import (
	"errors"

	"github.com/typhonci/typhon/internal/store"
)

// JobInfo is the read model for Job.Info: the job row plus its runs.
type JobInfo struct {
	Job  *store.Job
	Runs []*store.Run
}

// GetJobInfo returns a job and its run history.
func (c *Context) GetJobInfo(jobID int64) (*JobInfo, error) {
	const op = "job.info"
	j, err := c.job(op, jobID)
	if err != nil {
		return nil, err
	}
	runs, err := c.db.ListRunsByJob(j.ID)
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return &JobInfo{Job: j, Runs: runs}, nil
}

// CancelJob cancels every currently live run of the job. Historical
// (already settled) runs are untouched. Returns how many runs were
// signaled.
func (c *Context) CancelJob(jobID int64) (int, error) {
	const op = "job.cancel"
	j, err := c.job(op, jobID)
	if err != nil {
		return 0, err
	}
	runs, err := c.db.ListRunsByJob(j.ID)
	if err != nil {
		return 0, c.internalErr(op, err)
	}

	canceled := 0
	for _, run := range runs {
		if c.runs.Cancel(run.ID) {
			canceled++
		}
	}
	return canceled, nil
}

func (c *Context) job(op string, id int64) (*store.Job, error) {
	j, err := c.db.GetJob(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errf(KindNotFound, op, "no such job: %d", id)
	}
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return j, nil
}
