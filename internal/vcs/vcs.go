// Package vcs defines the revision-control backend used by the sync engine.
//
// The engine never talks to git directly; every history, diff, and bundle
// operation goes through the Backend interface. The only implementation is
// internal/vcs/git, which shells out to the git binary, but keeping the
// interface explicit makes the packaging and planning layers testable
// against fakes and keeps the set of required backend operations small and
// auditable:
//
//   - current identity (HEAD commit)
//   - ancestor-of test
//   - serialize-range / serialize-full (bundles)
//   - bundle self-verification
//   - combined working-state diff (staged + unstaged + untracked + deleted)
//   - touched-path enumeration for both delta kinds
//
// Remote-side application is deliberately not part of this interface: the
// remote applier is a generated shell script executed over the transport,
// not a second Backend against a live filesystem.
package vcs

import "context"

// Backend exposes the revision-control operations the sync engine needs
// from a single local replica. All paths returned are relative to Root
// and slash-separated.
type Backend interface {
	// Root returns the replica's working tree root (absolute path).
	Root() string

	// Identity returns the replica's current revision identity, the
	// commit hash of HEAD. Returns ErrNoHistory for a repository with
	// no commits yet.
	Identity(ctx context.Context) (string, error)

	// HasCommit reports whether the given identity names a commit
	// present in this replica's object store.
	HasCommit(ctx context.Context, id string) bool

	// IsAncestor reports whether ancestor is reachable from head.
	// Both must name commits that exist locally.
	IsAncestor(ctx context.Context, ancestor, head string) (bool, error)

	// BundleRange serializes the commit range (base, HEAD] to outPath.
	BundleRange(ctx context.Context, base, outPath string) error

	// BundleFull serializes the replica's entire history up to HEAD
	// to outPath.
	BundleFull(ctx context.Context, outPath string) error

	// VerifyBundle checks the self-integrity of a bundle file without
	// applying it.
	VerifyBundle(ctx context.Context, path string) error

	// CaptureWorkingDiff writes a single binary-safe patch covering
	// staged, unstaged, untracked, and deleted working-state changes to
	// outPath. It reports false when the working state is clean (no file
	// is written). The replica's own index and working tree are left
	// exactly as they were, success or failure.
	CaptureWorkingDiff(ctx context.Context, outPath string) (bool, error)

	// ChangedPaths returns the paths that differ between base and HEAD.
	// An empty base means every path tracked at HEAD.
	ChangedPaths(ctx context.Context, base string) ([]string, error)

	// WorkingPaths returns the paths touched by the current working
	// state (staged, unstaged, untracked, deleted).
	WorkingPaths(ctx context.Context) ([]string, error)

	// LsFiles returns all paths tracked at HEAD.
	LsFiles(ctx context.Context) ([]string, error)

	// LsTreeEntry returns the object id recorded for path at the given
	// revision, or "" if the path is not present there. Used to read
	// submodule pins.
	LsTreeEntry(ctx context.Context, rev, path string) (string, error)
}
