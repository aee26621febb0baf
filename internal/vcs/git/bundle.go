package git

import (
	"context"
	"fmt"
	"strings"

	"shuttle/internal/vcs"
)

// Bundle operations use a generous timeout of zero (none): serializing a
// large history is legitimately slow and the caller's context governs
// cancellation.

// BundleRange serializes the commit range (base, HEAD] to outPath.
// The bundle records HEAD as its single ref, so the receiving side can
// fetch it, but the intended final position is still carried separately by
// the plan (a bundle ref does not survive a detached or renamed HEAD).
func (g *Git) BundleRange(ctx context.Context, base, outPath string) error {
	if base == "" {
		return g.BundleFull(ctx, outPath)
	}

	if !g.HasCommit(ctx, base) {
		return fmt.Errorf("%w: %s", vcs.ErrUnknownRevision, base)
	}

	_, err := vcs.ExecContext(ctx, 0, g.repoRoot, "git",
		"bundle", "create", outPath, "^"+base, "HEAD")
	if err != nil {
		if strings.Contains(err.Error(), "empty bundle") {
			return vcs.ErrEmptyRange
		}
		return fmt.Errorf("git bundle create failed: %w", err)
	}

	return nil
}

// BundleFull serializes the entire history reachable from HEAD to outPath.
func (g *Git) BundleFull(ctx context.Context, outPath string) error {
	_, err := vcs.ExecContext(ctx, 0, g.repoRoot, "git",
		"bundle", "create", outPath, "HEAD")
	if err != nil {
		return fmt.Errorf("git bundle create failed: %w", err)
	}

	return nil
}

// VerifyBundle checks a bundle's self-integrity without applying it.
// Verification requires the bundle's prerequisites to be present in this
// repository, which is always true for bundles we just created.
func (g *Git) VerifyBundle(ctx context.Context, path string) error {
	_, err := vcs.ExecContext(ctx, 0, g.repoRoot, "git", "bundle", "verify", path)
	if err != nil {
		return fmt.Errorf("git bundle verify failed: %w", err)
	}

	return nil
}
