// Package eval evaluates a project's flake into its set of jobs by
// invoking an external evaluator subprocess and streaming its output.
package eval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"golang.org/x/sync/errgroup"
)

// JobKey identifies one job within an evaluation's NewJobs map.
type JobKey struct {
	System string
	Name   string
}

// JobResult is one evaluated job's derivation facts, mirroring the Rust
// original's (DrvPath, dist) pair plus the realized output path.
type JobResult struct {
	Drv  string
	Out  string
	Dist bool
}

// NewJobs is the full result of one evaluation: every job the flake
// produced, keyed by (system, name).
type NewJobs map[JobKey]JobResult

// LogObserver receives evaluator stderr lines as they stream, same
// contract as action.LogObserver and build's log streaming.
type LogObserver interface {
	Observe(line string)
}

// LogObserverFunc adapts a func to LogObserver.
type LogObserverFunc func(line string)

// Observe implements LogObserver.
func (f LogObserverFunc) Observe(line string) { f(line) }

// Evaluator is the external driver interface internal/core depends
// on, so internal/testutil can substitute a fake
// without a real Nix toolchain.
type Evaluator interface {
	Evaluate(ctx context.Context, flakeURL string, locked bool, observer LogObserver) (NewJobs, error)
}

// Driver invokes an external flake evaluator command, streaming its
// stderr to an observer and parsing its whole stdout, which must be a
// single JSON array of job records, into NewJobs.
type Driver struct {
	// Command is the evaluator executable, e.g. the project's
	// "eval-jobs" wrapper. Defaults to "eval-jobs" if empty.
	Command string
}

// NewDriver returns a Driver invoking the given evaluator command.
func NewDriver(command string) *Driver {
	if command == "" {
		command = "eval-jobs"
	}
	return &Driver{Command: command}
}

var _ Evaluator = (*Driver)(nil)

// Evaluate runs the evaluator against flakeURL. When locked is true the
// evaluator is asked to pin inputs before evaluating. Stdout collection
// and the streaming of stderr lines to observer run concurrently via
// errgroup; the process is waited on once both pipes are drained.
func (d *Driver) Evaluate(ctx context.Context, flakeURL string, locked bool, observer LogObserver) (NewJobs, error) {
	args := []string{flakeURL}
	if locked {
		args = append(args, "--locked")
	}

	cmd := exec.CommandContext(ctx, d.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("eval %s: stdout pipe: %w", flakeURL, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("eval %s: stderr pipe: %w", flakeURL, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("eval %s: start: %w", flakeURL, err)
	}

	var g errgroup.Group
	var out bytes.Buffer
	g.Go(func() error {
		_, err := out.ReadFrom(stdout)
		return err
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if observer != nil {
				observer.Observe(scanner.Text())
			}
		}
		return scanner.Err()
	})

	waitErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("eval %s: %w", flakeURL, err)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("eval %s: stream: %w", flakeURL, waitErr)
	}

	return parseNewJobs(out.Bytes())
}

// wireJob mirrors the evaluator's JSON output shape: a flat array of
// per-job records, each carrying its own (system, name) identity
// alongside the derivation facts.
type wireJob struct {
	System string `json:"system"`
	Name   string `json:"name"`
	Drv    string `json:"drv"`
	Out    string `json:"out"`
	Dist   bool   `json:"dist"`
}

func parseNewJobs(data []byte) (NewJobs, error) {
	var jobs []wireJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse evaluator output: %w", err)
	}

	result := make(NewJobs, len(jobs))
	for _, j := range jobs {
		result[JobKey{System: j.System, Name: j.Name}] = JobResult{
			Drv:  j.Drv,
			Out:  j.Out,
			Dist: j.Dist,
		}
	}
	return result, nil
}
