package eval

import (
	"context"
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

func writeEvaluator(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "eval-jobs")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestDriver_Evaluate_Success(t *testing.T) {
	script := writeEvaluator(t, `
echo "evaluating $1" 1>&2
cat <<'EOF'
[
  {"system": "x86_64-linux", "name": "hello", "drv": "/nix/store/aaa.drv", "out": "/nix/store/aaa-out", "dist": false},
  {"system": "x86_64-linux", "name": "docs", "drv": "/nix/store/bbb.drv", "out": "/nix/store/bbb-out", "dist": true}
]
EOF
`)

	d := NewDriver(script)
	obs := &collectingObserver{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobs, err := d.Evaluate(ctx, "github:example/repo", false, obs)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	hello := jobs[JobKey{System: "x86_64-linux", Name: "hello"}]
	assert.Equal(t, "/nix/store/aaa.drv", hello.Drv)
	assert.False(t, hello.Dist)

	docs := jobs[JobKey{System: "x86_64-linux", Name: "docs"}]
	assert.True(t, docs.Dist)

	require.Len(t, obs.lines, 1)
	assert.Contains(t, obs.lines[0], "evaluating")
}

func TestDriver_Evaluate_NonZeroExit(t *testing.T) {
	script := writeEvaluator(t, `
echo "flake error" 1>&2
exit 1
`)

	d := NewDriver(script)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := d.Evaluate(ctx, "github:broken/repo", false, nil)
	assert.Error(t, err)
}

func TestDriver_Evaluate_LockedPassesFlag(t *testing.T) {
	script := writeEvaluator(t, `
if [ "$2" = "--locked" ]; then
  echo '[]'
else
  echo "missing --locked" 1>&2
  exit 1
fi
`)

	d := NewDriver(script)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobs, err := d.Evaluate(ctx, "github:example/repo", true, nil)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
