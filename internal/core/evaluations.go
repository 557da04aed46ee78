package core

import (
	"errors"

	"github.com/typhonci/typhon/internal/store"
)

// EvaluationInfo is the read model for Evaluation.Info: the evaluation
// row, its task status, and the jobs it produced.
type EvaluationInfo struct {
	Evaluation *store.Evaluation
	Status     store.StatusKind
	Jobs       []*store.Job
}

// GetEvaluationInfo returns an evaluation, its status, and its jobs.
func (c *Context) GetEvaluationInfo(evaluationID int64) (*EvaluationInfo, error) {
	const op = "evaluation.info"
	e, err := c.evaluation(op, evaluationID)
	if err != nil {
		return nil, err
	}
	status, err := c.db.Status(e.TaskID)
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	jobs, err := c.db.ListJobsByEvaluation(e.ID)
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return &EvaluationInfo{Evaluation: e, Status: status, Jobs: jobs}, nil
}

// CancelEvaluation requests cancellation of a live evaluation.
// Canceling an evaluation that already settled is a BadRequest
// and rejected.
func (c *Context) CancelEvaluation(evaluationID int64) error {
	const op = "evaluation.cancel"
	e, err := c.evaluation(op, evaluationID)
	if err != nil {
		return err
	}
	status, err := c.db.Status(e.TaskID)
	if err != nil {
		return c.internalErr(op, err)
	}
	if status.IsTerminal() {
		return errf(KindBadRequest, op, "evaluation %d already %s", evaluationID, status)
	}
	c.evaluations.Cancel(e.TaskID)
	return nil
}

// EvaluationLog returns the evaluation task's accumulated log buffer,
// which grows while the evaluator streams.
func (c *Context) EvaluationLog(evaluationID int64) (string, error) {
	const op = "evaluation.log"
	e, err := c.evaluation(op, evaluationID)
	if err != nil {
		return "", err
	}
	buf, err := c.db.ReadLog(e.TaskID)
	if err != nil {
		return "", c.internalErr(op, err)
	}
	return buf, nil
}

func (c *Context) evaluation(op string, id int64) (*store.Evaluation, error) {
	e, err := c.db.GetEvaluation(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errf(KindNotFound, op, "no such evaluation: %d", id)
	}
	if err != nil {
		return nil, c.internalErr(op, err)
	}
	return e, nil
}
