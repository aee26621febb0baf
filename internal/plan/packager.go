package plan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"shuttle/internal/lob"
	"shuttle/internal/replica"
	"shuttle/internal/vcs"
)

// Package builds one replica's contribution to the plan.
//
// Returns (nil, "", nil) when the replica has neither a committed nor an
// uncommitted delta: already in sync, not an error. The second return is a
// human-readable warning ("" when none), produced for the divergence
// fallback.
//
// Packaging never leaves persistent state behind: bundle and patch files go
// to stagingDir, and the working-diff capture uses a scratch index that is
// removed on every path.
func Package(ctx context.Context, r *replica.Replica, baseline Baseline, stagingDir string) (*ReplicaPlan, string, error) {
	head, err := r.Backend.Identity(ctx)
	if err != nil && !errors.Is(err, vcs.ErrNoHistory) {
		return nil, "", fmt.Errorf("replica %s: %w", r.Path, err)
	}

	rp := &ReplicaPlan{
		Path:      r.Path,
		Replica:   r,
		LocalHead: head,
		Baseline:  baseline,
	}

	warning := ""
	if head != "" {
		committed, diverged, err := packageCommitted(ctx, r, head, baseline, stagingDir)
		if err != nil {
			return nil, "", err
		}
		rp.Committed = committed
		rp.Diverged = diverged
		if diverged {
			warning = fmt.Sprintf("replica %s: remote %s is not an ancestor of local %s; falling back to full history transfer",
				r.Path, short(baseline.Identity), short(head))
		}
	}

	patchPath := filepath.Join(stagingDir, artifactName(r.Path, ".patch"))
	hasPatch, err := r.Backend.CaptureWorkingDiff(ctx, patchPath)
	if err != nil {
		return nil, "", fmt.Errorf("replica %s: %w", r.Path, err)
	}
	if hasPatch {
		rp.Uncommitted = &UncommittedDelta{PatchPath: patchPath}
	}

	if rp.Committed == nil && rp.Uncommitted == nil {
		// Already in sync; the replica contributes nothing.
		return nil, warning, nil
	}

	refs, err := largeObjects(ctx, rp)
	if err != nil {
		return nil, "", err
	}
	rp.LargeObjects = refs

	return rp, warning, nil
}

// packageCommitted decides between no delta, a range bundle, and the
// full-history fallback, then serializes and self-verifies the bundle.
func packageCommitted(ctx context.Context, r *replica.Replica, head string, baseline Baseline, stagingDir string) (*CommittedDelta, bool, error) {
	if baseline.Available && baseline.Identity == head {
		return nil, false, nil
	}

	kind := DeltaFull
	base := ""
	diverged := false

	if baseline.Available {
		if r.Backend.HasCommit(ctx, baseline.Identity) {
			ancestor, err := r.Backend.IsAncestor(ctx, baseline.Identity, head)
			if err != nil {
				return nil, false, fmt.Errorf("replica %s: %w", r.Path, err)
			}
			if ancestor {
				kind = DeltaRange
				base = baseline.Identity
			} else {
				diverged = true
			}
		} else {
			// The remote is at a commit we do not even have:
			// histories have diverged.
			diverged = true
		}
	}

	bundlePath := filepath.Join(stagingDir, artifactName(r.Path, ".bundle"))
	var err error
	if kind == DeltaRange {
		err = r.Backend.BundleRange(ctx, base, bundlePath)
		// A symbolic baseline (tag, relative revision) can resolve to
		// the local head without matching it textually; an empty range
		// means the remote already has everything.
		if errors.Is(err, vcs.ErrEmptyRange) {
			return nil, false, nil
		}
	} else {
		err = r.Backend.BundleFull(ctx, bundlePath)
	}
	if err != nil {
		return nil, false, fmt.Errorf("replica %s: %w", r.Path, err)
	}

	// Reject a silently-corrupt serialization before it travels.
	if err := r.Backend.VerifyBundle(ctx, bundlePath); err != nil {
		return nil, false, fmt.Errorf("replica %s: %w", r.Path, err)
	}

	return &CommittedDelta{
		Kind:       kind,
		BundlePath: bundlePath,
		Baseline:   base,
		Target:     head,
	}, diverged, nil
}

// largeObjects collects tracked files touched by either delta. Files
// resolved locally can repair the remote; files still in pointer form
// locally travel too so the reconciler can report them instead of silently
// skipping them.
func largeObjects(ctx context.Context, rp *ReplicaPlan) ([]lob.Reference, error) {
	var candidates []string

	if rp.Committed != nil {
		paths, err := rp.Replica.Backend.ChangedPaths(ctx, rp.Committed.Baseline)
		if err != nil {
			return nil, fmt.Errorf("replica %s: %w", rp.Path, err)
		}
		candidates = append(candidates, paths...)
	}

	if rp.Uncommitted != nil {
		paths, err := rp.Replica.Backend.WorkingPaths(ctx)
		if err != nil {
			return nil, fmt.Errorf("replica %s: %w", rp.Path, err)
		}
		candidates = append(candidates, paths...)
	}

	refs, err := lob.ResolveCandidates(rp.Replica.Root, candidates)
	if err != nil {
		return nil, fmt.Errorf("replica %s: %w", rp.Path, err)
	}

	kept := refs[:0]
	for _, ref := range refs {
		if ref.State != lob.StateMissing {
			kept = append(kept, ref)
		}
	}

	return kept, nil
}

// short abbreviates a revision identity for log lines.
func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "(none)"
	}
	return id
}
