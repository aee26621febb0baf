// Package git provides the exec-based git implementation of the backend
// interface.
//
// Every operation shells out to the git binary. go-git is used elsewhere in
// the tree for reading declaration files (.gitmodules, .gitattributes), but
// bundles, binary diffs, and index tricks are territory where the git CLI is
// the only reliable implementation.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"

	"shuttle/internal/vcs"
)

// MinGitVersion is the oldest git release the packager supports. Older
// releases mishandle `bundle create` with exclusion revs in edge cases.
const MinGitVersion = "v2.30.0"

// Git implements vcs.Backend for a git repository.
type Git struct {
	// repoRoot is the repository working tree root
	repoRoot string

	// gitDir is the .git directory path (may live elsewhere for
	// submodules, where .git is a file pointing into the superproject)
	gitDir string
}

// New creates a backend for the repository containing path.
func New(path string) (*Git, error) {
	g := &Git{}
	if err := g.detect(path); err != nil {
		return nil, err
	}
	return g, nil
}

// detect populates repository information using a single rev-parse call.
func (g *Git) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	cmd := exec.Command("git", "rev-parse", "--git-dir", "--show-toplevel")
	cmd.Dir = absPath

	output, err := cmd.Output()
	if err != nil {
		if _, lookErr := exec.LookPath("git"); lookErr != nil {
			return vcs.ErrGitNotAvailable
		}
		return vcs.ErrNotInVCS
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) < 2 {
		return fmt.Errorf("unexpected git rev-parse output: got %d lines, expected 2", len(lines))
	}

	gitDir := strings.TrimSpace(lines[0])
	repoRoot := strings.TrimSpace(lines[1])

	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}

	g.gitDir = gitDir
	g.repoRoot = repoRoot

	return nil
}

// Root returns the repository working tree root.
func (g *Git) Root() string {
	return g.repoRoot
}

// Version returns the git binary version string (e.g. "2.39.0").
func (g *Git) Version(ctx context.Context) (string, error) {
	output, err := vcs.ExecContext(ctx, 0, g.repoRoot, "git", "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}

	// Output format: "git version 2.39.0"
	version := vcs.TrimOutput(output)
	version = strings.TrimPrefix(version, "git version ")

	return version, nil
}

// EnsureVersion verifies the installed git is recent enough for the bundle
// and diff operations the packager uses.
func (g *Git) EnsureVersion(ctx context.Context) error {
	version, err := g.Version(ctx)
	if err != nil {
		return err
	}

	// Strip platform suffixes like "2.39.3 (Apple Git-146)"
	if i := strings.IndexByte(version, ' '); i > 0 {
		version = version[:i]
	}

	v := "v" + version
	if !semver.IsValid(v) {
		// Unparseable version strings are let through rather than
		// blocking the run on a vendor-mangled banner.
		return nil
	}

	if semver.Compare(v, MinGitVersion) < 0 {
		return fmt.Errorf("%w: have %s, need at least %s",
			vcs.ErrGitTooOld, version, strings.TrimPrefix(MinGitVersion, "v"))
	}

	return nil
}
