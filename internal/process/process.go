// Package process provides the service lifecycle glue shared by every
// obscore binary: a logger and a metrics registry are built once in
// cmd.Execute and handed to each Service before its Process method runs.
package process

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

// ErrLogger is returned when a logger cannot be constructed.
var ErrLogger = errs.Class("process logger")

// Service is a unit of work bound to a cobra command. A binary can run
// several services concurrently (an ingester and a querier role coexisting
// on one node, per spec.md §4.J).
type Service interface {
	// InstanceID identifies this service instance in logs and metrics.
	InstanceID() string
	// Process runs the service until ctx is cancelled or it fails.
	Process(ctx context.Context, cmd *cobra.Command, args []string) error
	// SetLogger installs the shared logger before Process is called.
	SetLogger(*zap.Logger) error
	// SetMetricHandler installs the shared monkit registry before Process is called.
	SetMetricHandler(*monkit.Registry) error
}

// Main wires a logger and metrics registry (built by loggerFactory) into
// every service and runs them concurrently, returning the first error.
func Main(loggerFactory func() error, services ...Service) error {
	if err := loggerFactory(); err != nil {
		return ErrLogger.Wrap(err)
	}

	logger := zap.L()
	registry := monkit.Default

	errCh := make(chan error, len(services))
	for _, svc := range services {
		svc := svc
		if err := svc.SetLogger(logger); err != nil {
			return err
		}
		if err := svc.SetMetricHandler(registry); err != nil {
			return err
		}
		go func() {
			errCh <- svc.Process(context.Background(), nil, nil)
		}()
	}

	var firstErr error
	for range services {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
