// Package action runs a project's action bundle scripts: "begin"/"end"
// hooks invoked around a run, and the arbitrary project-defined
// actions triggered from the request surface. Each script is spawned
// via os/exec.CommandContext, fed its input on stdin, and streamed
// line by line while the caller waits.
package action

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/oklog/ulid/v2"
)

// Outcome reports whether a spawned action script exited cleanly.
// Unlike tasks.Outcome it carries no value: an action's only signal is
// pass/fail.
type Outcome struct {
	Success bool
}

// LogObserver receives each line of an action's combined stdout/stderr
// as it streams, before the Status Store appends it to the task's log
// buffer. Implementations must be safe to call from the driver's
// streaming goroutine.
type LogObserver interface {
	Observe(line string)
}

// LogObserverFunc adapts a func to LogObserver.
type LogObserverFunc func(line string)

// Observe implements LogObserver.
func (f LogObserverFunc) Observe(line string) { f(line) }

// Driver spawns action bundle scripts. The zero value is ready to use.
type Driver struct{}

// NewDriver returns a ready-to-use Driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Run spawns bundlePath/name, feeding input as a JSON document on
// stdin and an HMAC-SHA256 signature of that document (hex-encoded,
// in the TYPHON_ACTION_SIGNATURE env var) so the script can
// authenticate the invocation against the project's key, matching the
// project-key-signed webhook convention. Each combined stdout/stderr
// line is handed to observer as it arrives. A nonzero exit returns
// Outcome{Success: false} and a nil error; a failure to spawn or wait
// on the process, or cancellation of ctx, returns a zero-value Outcome
// and a non-nil error. A clean exit produces Outcome{Success: true}.
func (d *Driver) Run(ctx context.Context, bundlePath, name string, input json.RawMessage, key []byte, observer LogObserver) (Outcome, error) {
	scriptPath := filepath.Join(bundlePath, name)

	// A project without an actions bundle records its hooks against the
	// "/dev/null" sentinel path, and a bundle may simply not define a
	// given hook. Either way the hook is a no-op that succeeds.
	if _, err := os.Stat(scriptPath); err != nil {
		return Outcome{Success: true}, nil
	}

	// Each invocation gets a ulid and a scratch directory of its own,
	// so concurrent runs of the same hook never collide on disk.
	invocation := ulid.Make().String()
	scratch := filepath.Join(os.TempDir(), "typhon-action-"+invocation)
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return Outcome{}, fmt.Errorf("action %s: scratch dir: %w", name, err)
	}
	defer os.RemoveAll(scratch)

	cmd := exec.CommandContext(ctx, scriptPath)
	cmd.Dir = bundlePath
	cmd.Env = append(os.Environ(),
		"TYPHON_ACTION_ID="+invocation,
		"TYPHON_ACTION_TMPDIR="+scratch,
		"TYPHON_ACTION_SIGNATURE="+sign(key, input))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("action %s: stdin pipe: %w", name, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("action %s: stdout pipe: %w", name, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("action %s: start: %w", name, err)
	}

	// A script that exits without reading its input closes the pipe
	// first; that broken pipe is not a failure of the action.
	if _, err := stdin.Write(input); err != nil && !errors.Is(err, syscall.EPIPE) {
		stdin.Close()
		return Outcome{}, fmt.Errorf("action %s: write stdin: %w", name, err)
	}
	stdin.Close()

	streamLines(stdout, observer)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return Outcome{Success: false}, nil
		}
		return Outcome{}, fmt.Errorf("action %s: wait: %w", name, err)
	}

	return Outcome{Success: true}, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func streamLines(r io.Reader, observer LogObserver) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if observer != nil {
			observer.Observe(scanner.Text())
		}
	}
}

func sign(key []byte, input json.RawMessage) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(bytes.TrimSpace(input))
	return hex.EncodeToString(mac.Sum(nil))
}
