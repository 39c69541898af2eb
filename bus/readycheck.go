package bus

import (
	"context"
	"fmt"

	"github.com/aquamarinepk/evbus/preflight"
)

// ReadyCheck adapts a Router into a preflight.Check so applications can
// fold "is the bus ready" into the same startup sequence as their other
// dependency checks.
type ReadyCheck struct {
	router *Router
}

var _ preflight.Check = (*ReadyCheck)(nil)

// NewReadyCheck returns a preflight.Check that succeeds once router has
// been started.
func NewReadyCheck(router *Router) *ReadyCheck {
	return &ReadyCheck{router: router}
}

func (c *ReadyCheck) Name() string { return "bus" }

func (c *ReadyCheck) Run(ctx context.Context) error {
	if err := c.router.Ready(ctx); err != nil {
		return fmt.Errorf("bus not ready: %w", err)
	}
	return nil
}
