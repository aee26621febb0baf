// Package plan builds the transfer plan for one sync run: per replica, the
// minimal committed and uncommitted deltas plus eligible large-object
// payloads. Packaging is purely local; nothing here touches the remote.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"shuttle/internal/lob"
	"shuttle/internal/replica"
)

// DeltaKind distinguishes how committed history travels.
type DeltaKind int

const (
	// DeltaNone means the remote already has the local head.
	DeltaNone DeltaKind = iota

	// DeltaRange extends the remote's existing history.
	DeltaRange

	// DeltaFull replaces the remote's history wholesale: used when no
	// baseline is available or histories have diverged.
	DeltaFull
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaRange:
		return "range"
	case DeltaFull:
		return "full"
	default:
		return "none"
	}
}

// Baseline is the revision identity the remote replica is assumed to be at
// before the run. Available is false when the remote replica is missing or
// has no history yet, an expected state on first sync.
type Baseline struct {
	Identity  string
	Available bool
}

// CommittedDelta is a serialized history range plus the explicit target
// identity, recorded separately because the serialization alone does not
// unambiguously declare the intended final position.
type CommittedDelta struct {
	Kind DeltaKind

	// BundlePath is the local staging path of the serialized history.
	BundlePath string

	// Baseline is the base the range was built against; empty for
	// DeltaFull.
	Baseline string

	// Target is the identity the remote must land on after application.
	Target string
}

// UncommittedDelta is one combined binary diff covering staged, unstaged,
// untracked, and deleted working-state changes.
type UncommittedDelta struct {
	// PatchPath is the local staging path of the diff.
	PatchPath string
}

// ReplicaPlan is one replica's contribution to the sync plan. A replica
// with neither delta kind is omitted from the plan entirely.
type ReplicaPlan struct {
	// Path is the replica's path relative to the workspace root.
	Path string

	// Replica is the local replica this plan was packaged from.
	Replica *replica.Replica

	// LocalHead is the local revision identity at packaging time;
	// empty for a replica with no commits.
	LocalHead string

	// Baseline is the assumed remote state the deltas were built
	// against.
	Baseline Baseline

	// Diverged is set when a remote baseline existed but was not an
	// ancestor of the local head, forcing the full-history fallback.
	Diverged bool

	// Committed is nil when the remote already has the local head.
	Committed *CommittedDelta

	// Uncommitted is nil when the local working state is clean.
	Uncommitted *UncommittedDelta

	// LargeObjects lists tracked files touched by either delta, with
	// their local pointer/resolved state. Resolved entries can repair
	// remote pointers; pointer entries only inform warnings.
	LargeObjects []lob.Reference
}

// SyncPlan is the ordered transfer plan for the whole workspace tree.
type SyncPlan struct {
	// StagingDir holds every packaged artifact; removed after the run.
	StagingDir string

	// Replicas lists only replicas with something to transfer, in
	// deterministic declared traversal order.
	Replicas []*ReplicaPlan

	// Warnings collects non-fatal observations made while planning
	// (missing nested paths, divergence fallbacks).
	Warnings []string
}

// IsEmpty reports whether the plan has nothing to transfer.
func (p *SyncPlan) IsEmpty() bool {
	return len(p.Replicas) == 0
}

// Close removes the staging directory and all packaged artifacts.
func (p *SyncPlan) Close() error {
	if p.StagingDir == "" {
		return nil
	}
	return os.RemoveAll(p.StagingDir)
}

// NewStagingDir creates the run's local staging directory.
func NewStagingDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "shuttle-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}
	return dir, nil
}

// artifactName derives a staging file name from a replica path.
func artifactName(replicaPath, suffix string) string {
	name := replicaPath
	if name == "." {
		name = "root"
	}
	name = strings.ReplaceAll(name, "/", "__")
	return name + suffix
}
