package events

import (
	"fmt"
	"strings"
	"time"
)

// Event represents a single occurrence in the orchestrator lifecycle.
// It carries whichever entity ids are relevant to Type;
// callers attach them with the With* builders below. Authoritative state
// always lives in the store — this is strictly a notification surface.
type Event struct {
	// Time is when the event occurred (stamped by Bus.Emit).
	Time time.Time `json:"time"`

	// Type identifies what happened.
	Type EventType `json:"type"`

	// ProjectID, JobsetID, EvaluationID, JobID, RunID, BuildID, ActionID
	// identify the entity the event is about. Only the ones relevant to
	// Type are set; the rest are nil.
	ProjectID    *int64 `json:"project_id,omitempty"`
	JobsetID     *int64 `json:"jobset_id,omitempty"`
	EvaluationID *int64 `json:"evaluation_id,omitempty"`
	JobID        *int64 `json:"job_id,omitempty"`
	RunID        *int64 `json:"run_id,omitempty"`
	BuildID      *int64 `json:"build_id,omitempty"`
	ActionID     *int64 `json:"action_id,omitempty"`

	// Payload contains event-specific data (type varies by event).
	Payload any `json:"payload,omitempty"`

	// Error contains an error message if this event reports a failure.
	Error string `json:"error,omitempty"`
}

// EventType is the closed set of domain events the bus carries.
type EventType string

const (
	ProjectUpdated    EventType = "project.updated"
	JobsetUpdated     EventType = "jobset.updated"
	EvaluationNew     EventType = "evaluation.new"
	EvaluationUpdated EventType = "evaluation.updated"
	RunNew            EventType = "run.new"
	RunUpdated        EventType = "run.updated"
	BuildNew          EventType = "build.new"
	BuildUpdated      EventType = "build.updated"
	ActionNew         EventType = "action.new"
)

// NewEvent creates an event of the given type with no entity ids set.
func NewEvent(t EventType) Event {
	return Event{Type: t}
}

// WithProject returns a copy of the event with ProjectID set.
func (e Event) WithProject(id int64) Event {
	e.ProjectID = &id
	return e
}

// WithJobset returns a copy of the event with JobsetID set.
func (e Event) WithJobset(id int64) Event {
	e.JobsetID = &id
	return e
}

// WithEvaluation returns a copy of the event with EvaluationID set.
func (e Event) WithEvaluation(id int64) Event {
	e.EvaluationID = &id
	return e
}

// WithJob returns a copy of the event with JobID set.
func (e Event) WithJob(id int64) Event {
	e.JobID = &id
	return e
}

// WithRun returns a copy of the event with RunID set.
func (e Event) WithRun(id int64) Event {
	e.RunID = &id
	return e
}

// WithBuild returns a copy of the event with BuildID set.
func (e Event) WithBuild(id int64) Event {
	e.BuildID = &id
	return e
}

// WithAction returns a copy of the event with ActionID set.
func (e Event) WithAction(id int64) Event {
	e.ActionID = &id
	return e
}

// WithPayload returns a copy of the event with the payload set.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// WithError returns a copy of the event with the error message set.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure reports whether this event carries an error.
func (e Event) IsFailure() bool {
	return e.Error != ""
}

// String returns a human-readable representation of the event, used by
// LogHandler.
func (e Event) String() string {
	parts := []string{fmt.Sprintf("[%s]", e.Type)}

	appendID := func(label string, id *int64) {
		if id != nil {
			parts = append(parts, fmt.Sprintf("%s=%d", label, *id))
		}
	}
	appendID("project", e.ProjectID)
	appendID("jobset", e.JobsetID)
	appendID("evaluation", e.EvaluationID)
	appendID("job", e.JobID)
	appendID("run", e.RunID)
	appendID("build", e.BuildID)
	appendID("action", e.ActionID)

	if e.Error != "" {
		parts = append(parts, "error="+e.Error)
	}

	return strings.Join(parts, " ")
}
