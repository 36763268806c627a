package app

import (
	"context"
	"errors"
	"fmt"

	"tabflow/internal/config"
	"tabflow/internal/domain"
	"tabflow/internal/etl"
	"tabflow/internal/service"
)

// ── Flow commands ──────────────────────────────────────────

// LoadFlows loads and validates every flow file, reporting all problems at once.
func LoadFlows(paths []string) ([]*config.Flow, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no flow file given (use -f)")
	}
	flows := make([]*config.Flow, 0, len(paths))
	var errs []error
	for _, p := range paths {
		f, err := config.LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		flows = append(flows, f)
	}
	return flows, errors.Join(errs...)
}

// RunFlows runs each flow once, in order. Every flow runs even if an earlier one fails.
func (a *App) RunFlows(ctx context.Context, flows []*config.Flow) ([]*etl.SyncResult, error) {
	results := make([]*etl.SyncResult, 0, len(flows))
	var errs []error
	for _, f := range flows {
		result, err := a.flows.RunFlow(ctx, f, "manual")
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
		}
	}
	return results, errors.Join(errs...)
}

// DescribeFlow previews a flow without writing its sink.
func (a *App) DescribeFlow(ctx context.Context, f *config.Flow, rows int) (*service.Description, error) {
	return a.flows.Describe(ctx, f, rows)
}

// History returns recent runs of a flow, or of all flows when name is empty.
func (a *App) History(name string, limit int) ([]domain.RunLog, error) {
	return a.flows.History(name, limit)
}

// Watch starts the flows' triggers and blocks until ctx is cancelled.
func (a *App) Watch(ctx context.Context, flows []*config.Flow) error {
	triggered := 0
	for _, f := range flows {
		if f.Trigger.Schedule != "" || len(f.Trigger.Watch) > 0 {
			triggered++
		}
	}
	if triggered == 0 {
		return fmt.Errorf("none of the flows has a trigger (schedule or watch)")
	}
	if err := a.flows.StartTriggers(ctx, flows...); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
