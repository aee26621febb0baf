package vcs

import "errors"

// Common errors returned by backend operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, vcs.ErrNotInVCS) {
//	    // path is not inside a git repository
//	}
var (
	// ErrNotInVCS is returned when the operation requires being inside
	// a git repository but none was found at the path.
	ErrNotInVCS = errors.New("not in a git repository")

	// ErrGitNotAvailable is returned when the git binary is not
	// installed or not in PATH.
	ErrGitNotAvailable = errors.New("git binary not available")

	// ErrGitTooOld is returned when the installed git predates the
	// bundle verbs the packager depends on.
	ErrGitTooOld = errors.New("git version too old")

	// ErrNoHistory is returned when a replica has no commits yet
	// (unborn HEAD), so it has no revision identity to report.
	ErrNoHistory = errors.New("repository has no commits")

	// ErrUnknownRevision is returned when a revision argument does not
	// name a commit present in the replica.
	ErrUnknownRevision = errors.New("unknown revision")

	// ErrEmptyRange is returned by BundleRange when (base, head] spans
	// no commits. Callers should have checked base != head first.
	ErrEmptyRange = errors.New("empty commit range")
)

// IsFatal returns true if the error indicates the backend cannot operate
// at all and no per-replica recovery is possible.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotInVCS) ||
		errors.Is(err, ErrGitNotAvailable) ||
		errors.Is(err, ErrGitTooOld)
}
