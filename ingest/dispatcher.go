package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/deploy"
	"github.com/cooodecat/otto-handler/domain"
)

// BuildHandler applies build completion signals
type BuildHandler interface {
	HandleBuildStateChange(ctx context.Context, ev build.BuildStateChange) (*domain.Execution, error)
}

// DeployHandler applies orchestrator and load balancer events
type DeployHandler interface {
	Handle(ctx context.Context, ev deploy.Event) (*domain.Deployment, error)
}

// Result says what a delivery did
type Result struct {
	Kind    string
	Ignored bool
	Reason  string
}

// Dispatcher parses deliveries and hands them to the build tracker or the
// deployment machine, one at a time and to completion
type Dispatcher struct {
	builds  BuildHandler
	deploys DeployHandler
}

func NewDispatcher(builds BuildHandler, deploys DeployHandler) *Dispatcher {
	return &Dispatcher{builds: builds, deploys: deploys}
}

// Dispatch processes one delivery. Unsupported and uncorrelated events are
// reported as ignored, not as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (Result, error) {
	parsed, err := Parse(raw)
	if errors.Is(err, ErrUnsupportedEvent) {
		slog.Debug("Ignoring event", "layer", "ingest", "reason", err.Error())
		return Result{Ignored: true, Reason: err.Error()}, nil
	}
	if err != nil {
		return Result{}, err
	}

	switch ev := parsed.(type) {
	case build.BuildStateChange:
		_, err = d.builds.HandleBuildStateChange(ctx, ev)
		return d.result("build_state_change", err, build.ErrCorrelationMiss)
	case deploy.Event:
		_, err = d.deploys.Handle(ctx, ev)
		return d.result(ev.Kind(), err, deploy.ErrCorrelationMiss)
	default:
		return Result{}, fmt.Errorf("no handler for %T", parsed)
	}
}

func (d *Dispatcher) result(kind string, err, miss error) (Result, error) {
	if errors.Is(err, miss) {
		return Result{Kind: kind, Ignored: true, Reason: err.Error()}, nil
	}
	if err != nil {
		slog.Error("Event handling failed", "layer", "ingest", "operation", kind, "error", err)
		return Result{Kind: kind}, err
	}
	return Result{Kind: kind}, nil
}
