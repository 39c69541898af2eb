package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/aquamarinepk/evbus/log"
)

// shutdownTimeout bounds how long Shutdown waits for the HTTP server and
// every component's Stop to finish.
const shutdownTimeout = 10 * time.Second

// RouteRegistrar is implemented by a component that mounts its own HTTP
// routes onto the main router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type starter interface {
	Start(ctx context.Context) error
}

type stopper interface {
	Stop(ctx context.Context) error
}

// Setup inspects each component and collects the lifecycle hooks it
// implements: a Start(ctx) error becomes a start func, a Stop(ctx) error
// becomes a stop func, and a RegisterRoutes(chi.Router) makes it a
// RouteRegistrar. It does not call Start or RegisterRoutes itself — that
// happens in Start, once every component has been classified.
func Setup(ctx context.Context, r chi.Router, components ...any) (starts []func(context.Context) error, stops []func(context.Context) error, registrars []RouteRegistrar) {
	for _, c := range components {
		if s, ok := c.(starter); ok {
			starts = append(starts, s.Start)
		}
		if s, ok := c.(stopper); ok {
			stops = append(stops, s.Stop)
		}
		if reg, ok := c.(RouteRegistrar); ok {
			registrars = append(registrars, reg)
		}
	}
	return starts, stops, registrars
}

// Start runs starts in order. If one fails, every start that already
// succeeded is rolled back (its matching stop, in reverse order) and the
// failing error is returned; no further starts are attempted. Once every
// start succeeds, every registrar's routes are mounted on r.
func Start(ctx context.Context, logger log.Logger, starts []func(context.Context) error, stops []func(context.Context) error, registrars []RouteRegistrar, r chi.Router) error {
	for i, start := range starts {
		if err := start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if j >= len(stops) {
					continue
				}
				if stopErr := stops[j](ctx); stopErr != nil {
					logger.Errorf("rollback: cannot stop component %d: %v", j, stopErr)
				}
			}
			return err
		}
	}

	for _, reg := range registrars {
		reg.RegisterRoutes(r)
	}
	return nil
}

// Shutdown gracefully stops server, then runs stops in reverse order —
// the mirror image of Start's registration order. A failing stop is
// logged but does not prevent the rest from running.
func Shutdown(server *http.Server, logger log.Logger, stops []func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.Errorf("server shutdown error: %v", err)
		}
	}

	for i := len(stops) - 1; i >= 0; i-- {
		if err := stops[i](ctx); err != nil {
			logger.Errorf("component %d stop failed: %v", i, err)
		}
	}
}
