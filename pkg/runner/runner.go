// Package runner defines the capability for delegating workflow steps to an
// external workflow runner. The executor depends only on this interface; the
// active implementation is injected at construction.
package runner

import (
	"context"
	"time"
)

// DefaultTimeout bounds a remote step when the step config does not set one.
const DefaultTimeout = 30 * time.Second

// Runner executes a step remotely. Implementations must honor the timeout
// and return an error on expiry; a timed-out call is a step failure, never a
// silent success.
type Runner interface {
	RunRemote(ctx context.Context, ref string, payload map[string]any, timeout time.Duration) (map[string]any, error)
}
