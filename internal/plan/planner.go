package plan

import (
	"context"
	"fmt"

	"shuttle/internal/replica"
)

// BaselineFunc establishes the assumed remote state for one replica. The
// engine backs this with a live remote query; tests back it with a map.
type BaselineFunc func(ctx context.Context, r *replica.Replica) (Baseline, error)

// Build walks the replica tree depth-first in declared order, establishes
// each replica's baseline, and packages its deltas into an ordered plan.
//
// Replicas with nothing to transfer are omitted. Tree-level warnings
// (missing nested paths) and packaging warnings (divergence fallbacks) are
// carried on the plan for the operator summary.
func Build(ctx context.Context, tree *replica.Tree, baselineFor BaselineFunc) (*SyncPlan, error) {
	stagingDir, err := NewStagingDir()
	if err != nil {
		return nil, err
	}

	p := &SyncPlan{
		StagingDir: stagingDir,
		Warnings:   append([]string(nil), tree.Warnings...),
	}

	for _, r := range tree.Flatten() {
		baseline, err := baselineFor(ctx, r)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to establish baseline for %s: %w", r.Path, err)
		}

		rp, warning, err := Package(ctx, r, baseline, stagingDir)
		if warning != "" {
			p.Warnings = append(p.Warnings, warning)
		}
		if err != nil {
			p.Close()
			return nil, err
		}
		if rp != nil {
			p.Replicas = append(p.Replicas, rp)
		}
	}

	return p, nil
}
