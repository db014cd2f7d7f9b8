package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notargets/beso2d/beso"
)

// InstanceResult pairs a parameter record with its optimization outcome.
type InstanceResult struct {
	Instance Instance
	Result   *beso.Result
	Elapsed  time.Duration
}

// Runner executes a batch of independent instances. Instances share no
// mutable state, so they are distributed over Workers goroutines; each
// instance's loop stays strictly sequential. A fatal instance error aborts
// the whole batch — parameters are invalid or the numerics broke, neither
// of which a retry fixes.
type Runner struct {
	Workers int // concurrent instances; <=0 means 1
	Config  beso.Config
	Logger  *slog.Logger // nil disables logging
}

// Run optimizes every instance and returns results in input order.
func (r *Runner) Run(ctx context.Context, instances []Instance) ([]InstanceResult, error) {
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	log := r.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	results := make([]InstanceResult, len(instances))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range instances {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Info("instance start",
				"id", in.ID, "ny", in.Ny,
				"support_center", in.SupportCenter, "support_half_width", in.SupportHalfWidth,
				"load_center", in.LoadCenter, "load_half_width", in.LoadHalfWidth)
			t0 := time.Now()
			res, err := beso.RunOptimization(in.MeshParams(), r.Config)
			if err != nil {
				log.Error("instance failed", "id", in.ID, "err", err)
				return fmt.Errorf("instance %d: %w", in.ID, err)
			}
			elapsed := time.Since(t0)
			log.Info("instance done",
				"id", in.ID,
				"iterations", res.Iterations,
				"best_compliance", res.BestCompliance,
				"elapsed", elapsed)
			results[i] = InstanceResult{Instance: in, Result: res, Elapsed: elapsed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
