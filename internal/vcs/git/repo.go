package git

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"shuttle/internal/vcs"
)

// Identity returns the commit hash of HEAD.
func (g *Git) Identity(ctx context.Context) (string, error) {
	output, err := vcs.ExecContext(ctx, 0, g.repoRoot, "git", "rev-parse", "--verify", "HEAD^{commit}")
	if err != nil {
		// Distinguish "no commits yet" from real failures: an unborn
		// HEAD still resolves symbolically.
		if _, symErr := vcs.ExecContext(ctx, 0, g.repoRoot, "git", "symbolic-ref", "-q", "HEAD"); symErr == nil {
			return "", vcs.ErrNoHistory
		}
		return "", fmt.Errorf("git rev-parse HEAD failed: %w", err)
	}

	return vcs.FirstWord(output), nil
}

// HasCommit reports whether id names a commit in this repository.
func (g *Git) HasCommit(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}

	_, err := vcs.ExecContext(ctx, 0, g.repoRoot, "git", "cat-file", "-e", id+"^{commit}")
	return err == nil
}

// IsAncestor reports whether ancestor is reachable from head.
func (g *Git) IsAncestor(ctx context.Context, ancestor, head string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", ancestor, head)
	cmd.Dir = g.repoRoot

	err := cmd.Run()
	if err == nil {
		return true, nil
	}

	// Exit code 1 means "not an ancestor"; anything else is a failure.
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}

	return false, fmt.Errorf("git merge-base --is-ancestor failed: %w", err)
}

// ChangedPaths returns the paths that differ between base and HEAD.
// An empty base returns every path tracked at HEAD.
func (g *Git) ChangedPaths(ctx context.Context, base string) ([]string, error) {
	if base == "" {
		return g.LsFiles(ctx)
	}

	lines, err := vcs.ExecLines(ctx, 0, g.repoRoot, "git",
		"-c", "core.quotepath=off", "diff", "--name-only", base, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("git diff --name-only failed: %w", err)
	}

	return lines, nil
}

// WorkingPaths returns the paths touched by the current working state:
// staged, unstaged, untracked, and deleted files.
func (g *Git) WorkingPaths(ctx context.Context) ([]string, error) {
	lines, err := vcs.ExecLines(ctx, 0, g.repoRoot, "git",
		"-c", "core.quotepath=off", "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, line := range lines {
		// Porcelain format: "XY path" or "XY old -> new" for renames.
		if len(line) < 4 {
			continue
		}
		entry := strings.TrimSpace(line[2:])
		if i := strings.Index(entry, " -> "); i >= 0 {
			old := entry[:i]
			if !seen[old] {
				seen[old] = true
				paths = append(paths, old)
			}
			entry = entry[i+4:]
		}
		if !seen[entry] {
			seen[entry] = true
			paths = append(paths, entry)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// LsFiles returns all paths tracked at HEAD.
func (g *Git) LsFiles(ctx context.Context) ([]string, error) {
	lines, err := vcs.ExecLines(ctx, 0, g.repoRoot, "git",
		"-c", "core.quotepath=off", "ls-tree", "-r", "--name-only", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("git ls-tree failed: %w", err)
	}

	return lines, nil
}

// LsTreeEntry returns the object id recorded for path at rev, or "" if the
// path is not present in that tree. Submodule pins are gitlink entries.
func (g *Git) LsTreeEntry(ctx context.Context, rev, path string) (string, error) {
	output, err := vcs.ExecContext(ctx, 0, g.repoRoot, "git", "ls-tree", rev, "--", path)
	if err != nil {
		return "", fmt.Errorf("git ls-tree failed: %w", err)
	}

	// Format: "<mode> <type> <object>\t<path>"
	line := vcs.TrimOutput(output)
	if line == "" {
		return "", nil
	}

	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected ls-tree output: %q", line)
	}

	return fields[2], nil
}
