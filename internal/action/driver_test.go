package action

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingObserver struct {
	lines []string
}

func (c *collectingObserver) Observe(line string) {
	c.lines = append(c.lines, line)
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

func TestDriver_Run_Success(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "begin", `
read -r line
echo "got: $line"
exit 0
`)

	d := NewDriver()
	obs := &collectingObserver{}
	input, err := json.Marshal(map[string]string{"status": "pending"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := d.Run(ctx, dir, "begin", input, []byte("secret"), obs)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	require.Len(t, obs.lines, 1)
	assert.Contains(t, obs.lines[0], "got:")
}

func TestDriver_Run_MissingScriptIsNoopSuccess(t *testing.T) {
	d := NewDriver()
	obs := &collectingObserver{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The sentinel bundle path for projects without an actions bundle.
	outcome, err := d.Run(ctx, "/dev/null", "begin", json.RawMessage(`{}`), nil, obs)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Empty(t, obs.lines)

	// Same for a real bundle that doesn't define the hook.
	outcome, err = d.Run(ctx, t.TempDir(), "end", json.RawMessage(`{}`), nil, obs)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestDriver_Run_ExportsInvocationEnv(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "begin", `
[ -n "$TYPHON_ACTION_ID" ] || exit 1
[ -d "$TYPHON_ACTION_TMPDIR" ] || exit 1
echo "id: $TYPHON_ACTION_ID"
`)

	d := NewDriver()
	obs := &collectingObserver{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := d.Run(ctx, dir, "begin", json.RawMessage(`{}`), nil, obs)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	require.Len(t, obs.lines, 1)
	assert.Contains(t, obs.lines[0], "id: ")
}

func TestDriver_Run_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "end", `
echo "failing"
exit 1
`)

	d := NewDriver()
	obs := &collectingObserver{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := d.Run(ctx, dir, "end", json.RawMessage(`{}`), nil, obs)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
}

func TestDriver_Run_ContextCanceled(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "begin", `
sleep 5
`)

	d := NewDriver()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := d.Run(ctx, dir, "begin", json.RawMessage(`{}`), nil, nil)
	assert.Error(t, err)
}
