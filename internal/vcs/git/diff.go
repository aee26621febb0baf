package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"shuttle/internal/vcs"
)

// CaptureWorkingDiff writes one binary patch covering the replica's entire
// working state relative to HEAD: staged changes, unstaged edits, untracked
// files, and deletions.
//
// The capture runs against a throwaway index file (GIT_INDEX_FILE), so the
// replica's real index is never touched. `git add -A` into an empty
// throwaway index snapshots the working tree exactly; diffing that snapshot
// against HEAD yields the combined delta, with the working tree winning
// over any half-staged content.
//
// Returns false (and writes nothing) when the working state is clean.
func (g *Git) CaptureWorkingDiff(ctx context.Context, outPath string) (bool, error) {
	tmpIndex, err := os.CreateTemp("", "shuttle-index-*")
	if err != nil {
		return false, fmt.Errorf("failed to create scratch index: %w", err)
	}
	tmpPath := tmpIndex.Name()
	tmpIndex.Close()
	// Git rejects a zero-length index file but reads a missing one as an
	// empty index, so reserve the unique name and let git create the file
	// itself.
	if err := os.Remove(tmpPath); err != nil {
		return false, fmt.Errorf("failed to prepare scratch index: %w", err)
	}
	// The scratch index is the only transient state this capture creates;
	// it is removed on every exit path.
	defer os.Remove(tmpPath)

	env := append(os.Environ(), "GIT_INDEX_FILE="+tmpPath)

	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = g.repoRoot
	add.Env = env
	if out, err := add.CombinedOutput(); err != nil {
		return false, fmt.Errorf("git add -A (scratch index) failed: %w\n%s", err, string(out))
	}

	base, err := g.diffBase(ctx)
	if err != nil {
		return false, err
	}

	diff := exec.CommandContext(ctx, "git", "diff", "--cached", "--binary", "--full-index", base)
	diff.Dir = g.repoRoot
	diff.Env = env

	var stdout, stderr bytes.Buffer
	diff.Stdout = &stdout
	diff.Stderr = &stderr
	if err := diff.Run(); err != nil {
		return false, fmt.Errorf("git diff --cached failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if stdout.Len() == 0 {
		return false, nil
	}

	if err := os.WriteFile(outPath, stdout.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("failed to write diff: %w", err)
	}

	return true, nil
}

// diffBase returns the revision to diff the working snapshot against:
// HEAD normally, the empty tree for a repository with no commits yet.
func (g *Git) diffBase(ctx context.Context) (string, error) {
	if _, err := g.Identity(ctx); err == nil {
		return "HEAD", nil
	}

	// Hash-object rather than hardcoding the empty tree id, so SHA-256
	// repositories work too.
	output, err := vcs.ExecContext(ctx, 0, g.repoRoot, "git", "hash-object", "-t", "tree", os.DevNull)
	if err != nil {
		return "", fmt.Errorf("failed to compute empty tree id: %w", err)
	}

	return vcs.FirstWord(output), nil
}
