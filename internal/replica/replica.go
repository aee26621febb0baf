// Package replica models the multi-repository workspace: a main replica
// plus a recursive tree of nested replicas.
//
// Discovery is driven entirely by each replica's local declaration file
// (.gitmodules), never by filesystem enumeration and never by asking the
// remote, which may be stale or absent. A declared nested path that is
// missing from the local working tree is recorded as a warning and skipped
// for the run, not treated as fatal.
package replica

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"shuttle/internal/vcs"
	gitbackend "shuttle/internal/vcs/git"
)

// Replica is one versioned unit in the workspace tree.
type Replica struct {
	// Path is the replica's slash-separated path relative to the
	// workspace root; "." for the main replica.
	Path string

	// Root is the absolute local working tree root.
	Root string

	// Pin is the revision identity the parent's committed tree declares
	// for this replica (the gitlink entry). Empty for the main replica
	// and for nested replicas the parent has not committed yet.
	Pin string

	// Backend is the revision-control backend bound to this replica.
	Backend vcs.Backend

	// Nested holds child replicas in declared order.
	Nested []*Replica
}

// Tree is the discovered workspace: the main replica plus any warnings
// produced while walking declarations.
type Tree struct {
	Root     *Replica
	Warnings []string
}

// Discover builds the replica tree rooted at rootPath by recursively
// following local nested-replica declarations.
func Discover(ctx context.Context, rootPath string) (*Tree, error) {
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	backend, err := gitbackend.New(absRoot)
	if err != nil {
		return nil, fmt.Errorf("workspace root %s: %w", absRoot, err)
	}
	// One installed git serves every replica, so the version gate runs
	// once here rather than per backend.
	if err := backend.EnsureVersion(ctx); err != nil {
		return nil, err
	}

	tree := &Tree{}
	root := &Replica{
		Path:    ".",
		Root:    backend.Root(),
		Backend: backend,
	}
	tree.Root = root

	if err := tree.discoverNested(ctx, root); err != nil {
		return nil, err
	}

	return tree, nil
}

// discoverNested attaches children declared by parent, in declared order.
func (t *Tree) discoverNested(ctx context.Context, parent *Replica) error {
	entries, err := ReadManifest(parent.Root)
	if err != nil {
		return fmt.Errorf("replica %s: %w", parent.Path, err)
	}

	for _, entry := range entries {
		relPath := entry.Path
		if parent.Path != "." {
			relPath = path.Join(parent.Path, entry.Path)
		}

		childRoot := filepath.Join(parent.Root, filepath.FromSlash(entry.Path))

		backend, err := gitbackend.New(childRoot)
		if err != nil {
			if errors.Is(err, vcs.ErrNotInVCS) {
				t.Warnings = append(t.Warnings,
					fmt.Sprintf("nested replica %s is declared but not present locally; skipping this run", relPath))
				continue
			}
			return fmt.Errorf("nested replica %s: %w", relPath, err)
		}

		// A declared path that exists as a plain directory resolves to
		// the parent's repository; that counts as not present locally.
		if !sameDir(backend.Root(), childRoot) {
			t.Warnings = append(t.Warnings,
				fmt.Sprintf("nested replica %s is declared but not initialized locally; skipping this run", relPath))
			continue
		}

		// The pin is what the parent's committed tree records for this
		// path; it may be empty when the parent has never committed the
		// gitlink.
		pin, err := parent.Backend.LsTreeEntry(ctx, "HEAD", entry.Path)
		if err != nil {
			// Unborn parent history: no pin recorded yet.
			pin = ""
		}

		child := &Replica{
			Path:    relPath,
			Root:    backend.Root(),
			Pin:     pin,
			Backend: backend,
		}
		parent.Nested = append(parent.Nested, child)

		if err := t.discoverNested(ctx, child); err != nil {
			return err
		}
	}

	return nil
}

// sameDir reports whether two paths name the same directory, tolerating
// symlinked temp dirs.
func sameDir(a, b string) bool {
	if ra, err := filepath.EvalSymlinks(a); err == nil {
		a = ra
	}
	if rb, err := filepath.EvalSymlinks(b); err == nil {
		b = rb
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// Flatten returns the tree depth-first, parent before children, children in
// declared order. This is the processing order for the whole pipeline.
func (t *Tree) Flatten() []*Replica {
	var out []*Replica
	var walk func(r *Replica)
	walk = func(r *Replica) {
		out = append(out, r)
		for _, child := range r.Nested {
			walk(child)
		}
	}
	walk(t.Root)
	return out
}
