package action

import (
	"context"
	"encoding/json"
)

// Runner is the interface internal/pipeline and internal/core depend
// on instead of *Driver directly, so internal/testutil can substitute
// a fake in tests.
type Runner interface {
	Run(ctx context.Context, bundlePath, name string, input json.RawMessage, key []byte, observer LogObserver) (Outcome, error)
}

var _ Runner = (*Driver)(nil)
