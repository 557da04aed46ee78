package store

import "time"

// StatusKind is the closed set of persisted task status strings.
type StatusKind string

const (
	StatusPending  StatusKind = "pending"
	StatusRunning  StatusKind = "running"
	StatusSuccess  StatusKind = "success"
	StatusError    StatusKind = "error"
	StatusCanceled StatusKind = "canceled"
)

// IsTerminal reports whether kind is one of the three absorbing states.
func (k StatusKind) IsTerminal() bool {
	switch k {
	case StatusSuccess, StatusError, StatusCanceled:
		return true
	default:
		return false
	}
}

// Task is the persisted status record for any asynchronous unit of
// work.
type Task struct {
	ID           int64
	Status       StatusKind
	TimeStarted  *time.Time
	TimeFinished *time.Time
	LogBuffer    string
}

// Project is a named declaration of one or more jobsets.
type Project struct {
	ID                int64
	Name              string
	Declaration       string
	LockedDeclaration string
	ActionsPath       *string
	Key               string
	Description       string
	Homepage          string
	Title             string
}

// Jobset is a named flake reference within a project, the source of
// evaluations.
type Jobset struct {
	ID        int64
	ProjectID int64
	Name      string
	FlakeRef  string
}

// Evaluation is one expansion of a jobset into concrete jobs. Num is
// monotonic per project and never reused.
type Evaluation struct {
	ID          int64
	JobsetID    int64
	ProjectID   int64
	Num         int64
	FlakeLocked string
	ActionsPath *string
	TimeCreated time.Time
	TaskID      int64
}

// Job is a (system, name) target with a derivation to build.
type Job struct {
	ID           int64
	EvaluationID int64
	System       string
	Name         string
	Drv          string
	Out          string
	Dist         bool
}

// Run is one execution attempt of a job. Its phase ids are set in
// order and never overwritten; a missing end action means the run is
// still going or was canceled before the end hook.
type Run struct {
	ID            int64
	JobID         int64
	Num           int64
	TimeCreated   time.Time
	BeginActionID *int64
	BuildID       *int64
	EndActionID   *int64
}

// Action is one scripted hook invocation, immutable after creation.
type Action struct {
	ID        int64
	ProjectID int64
	Num       int64
	InputJSON string
	Path      string
	TaskID    int64
}

// Build is one invocation of the external builder for a derivation,
// shareable across runs.
type Build struct {
	ID     int64
	Drv    string
	Num    int64
	TaskID int64
}
