package build

import (
	"context"
	"io"
	"time"
)

// BuildHandle identifies one external builder invocation, analogous to
// container.ContainerID.
type BuildHandle string

// Builder is the external driver interface for running a single
// derivation to completion. Wait reports the realized build outputs
// instead of a process exit code.
type Builder interface {
	// Create prepares a build for drv but does not start it.
	Create(ctx context.Context, drv string) (BuildHandle, error)

	// Start begins a previously created build.
	Start(ctx context.Context, h BuildHandle) error

	// Wait blocks until the build finishes, returning the realized
	// output paths on success.
	Wait(ctx context.Context, h BuildHandle) (outputPaths []string, ok bool, err error)

	// Logs returns a stream of combined build output.
	Logs(ctx context.Context, h BuildHandle) (io.ReadCloser, error)

	// Stop aborts a running build.
	Stop(ctx context.Context, h BuildHandle, timeout time.Duration) error
}
