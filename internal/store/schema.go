package store

import "fmt"

// migrate applies the schema.
func (db *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS tasks (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    status          TEXT NOT NULL,
    time_started    INTEGER,
    time_finished   INTEGER,
    log_buffer      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS projects (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    name                TEXT NOT NULL UNIQUE,
    declaration         TEXT NOT NULL DEFAULT '',
    locked_declaration  TEXT NOT NULL DEFAULT '',
    actions_path        TEXT,
    key                 TEXT NOT NULL DEFAULT '',
    description         TEXT NOT NULL DEFAULT '',
    homepage            TEXT NOT NULL DEFAULT '',
    title               TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS jobsets (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id  INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    flake_ref   TEXT NOT NULL,
    UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS evaluations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    jobset_id       INTEGER NOT NULL REFERENCES jobsets(id) ON DELETE CASCADE,
    project_id      INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    num             INTEGER NOT NULL,
    flake_locked    TEXT NOT NULL DEFAULT '',
    actions_path    TEXT,
    time_created    INTEGER NOT NULL,
    task_id         INTEGER NOT NULL REFERENCES tasks(id),
    UNIQUE(project_id, num)
);

CREATE TABLE IF NOT EXISTS jobs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    evaluation_id   INTEGER NOT NULL REFERENCES evaluations(id) ON DELETE CASCADE,
    system          TEXT NOT NULL,
    name            TEXT NOT NULL,
    drv             TEXT NOT NULL,
    out             TEXT NOT NULL DEFAULT '',
    dist            INTEGER NOT NULL DEFAULT 0,
    UNIQUE(evaluation_id, system, name)
);

CREATE TABLE IF NOT EXISTS runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id          INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    num             INTEGER NOT NULL,
    time_created    INTEGER NOT NULL,
    begin_action_id INTEGER REFERENCES actions(id),
    build_id        INTEGER REFERENCES builds(id),
    end_action_id   INTEGER REFERENCES actions(id),
    UNIQUE(job_id, num)
);

CREATE TABLE IF NOT EXISTS actions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id  INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    num         INTEGER NOT NULL,
    input_json  TEXT NOT NULL,
    path        TEXT NOT NULL,
    task_id     INTEGER NOT NULL REFERENCES tasks(id),
    UNIQUE(project_id, num)
);

CREATE TABLE IF NOT EXISTS builds (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    drv         TEXT NOT NULL,
    num         INTEGER NOT NULL,
    task_id     INTEGER NOT NULL REFERENCES tasks(id),
    UNIQUE(drv, num)
);

CREATE INDEX IF NOT EXISTS idx_jobsets_project ON jobsets(project_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_jobset ON evaluations(jobset_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_project ON evaluations(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_evaluation ON jobs(evaluation_id);
CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id);
CREATE INDEX IF NOT EXISTS idx_actions_project ON actions(project_id);
CREATE INDEX IF NOT EXISTS idx_builds_drv ON builds(drv);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}
