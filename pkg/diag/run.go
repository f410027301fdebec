package diag

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"avaneesh/uds-go/pkg/ecu"
)

// Serve runs the ECUs until ctx is done. It returns nil on cancellation
// and the first bus error otherwise.
func Serve(ctx context.Context, nodes ...*ecu.ECU) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			return node.Serve(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil
		}
	}
	return err
}

// RunWith serves the ECUs while fn runs and stops them once fn returns.
// The ECUs and fn share nothing but the bus.
func RunWith(ctx context.Context, fn func(ctx context.Context) error, nodes ...*ecu.ECU) error {
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return Serve(serveCtx, nodes...)
	})
	g.Go(func() error {
		defer stop()
		return fn(gctx)
	})
	return g.Wait()
}
