// Package lob classifies large-object files: tracked files whose committed
// representation is a small pointer referencing externally-stored content.
//
// A file is "tracked" when a .gitattributes pattern assigns it the lfs
// filter. A tracked file's working copy is either the pointer itself or the
// real payload; classification inspects content, never metadata, because a
// pointer that was regressed by history application looks identical to a
// freshly checked-out one in every other respect.
package lob

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitattributes"
)

// pointerHeader is the first line of a large-object pointer file.
const pointerHeader = "version https://git-lfs.github.com/spec/v1"

// maxPointerSize bounds how large a pointer file can be. Anything bigger
// is real payload without needing to read it.
const maxPointerSize = 1024

// State describes a tracked file's working copy.
type State int

const (
	// StateMissing means the file is absent from the working tree.
	StateMissing State = iota

	// StatePointer means the working copy is the pointer marker.
	StatePointer

	// StateResolved means the working copy is the real payload.
	StateResolved
)

func (s State) String() string {
	switch s {
	case StatePointer:
		return "pointer"
	case StateResolved:
		return "resolved"
	default:
		return "missing"
	}
}

// Reference identifies one large-object file and its local classification.
type Reference struct {
	// Path is the file path relative to the replica root.
	Path string

	// State is the local working-copy classification.
	State State

	// OID is the sha256 payload hash: from the pointer when State is
	// StatePointer, computed from content when StateResolved.
	OID string

	// Size is the payload size in bytes.
	Size int64
}

// ParsePointer reports whether data is a large-object pointer, and if so
// returns the payload oid and size it references.
func ParsePointer(data []byte) (oid string, size int64, ok bool) {
	if len(data) > maxPointerSize {
		return "", 0, false
	}

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != pointerHeader {
		return "", 0, false
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "oid sha256:"):
			oid = strings.TrimPrefix(line, "oid sha256:")
		case strings.HasPrefix(line, "size "):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "size "), 10, 64)
			if err != nil {
				return "", 0, false
			}
			size = n
		}
	}

	if len(oid) != 64 {
		return "", 0, false
	}

	return oid, size, true
}

// Classify inspects the working copy of one file.
func Classify(absPath string) (Reference, error) {
	ref := Reference{}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			ref.State = StateMissing
			return ref, nil
		}
		return ref, fmt.Errorf("failed to stat %s: %w", absPath, err)
	}

	if info.Size() <= maxPointerSize {
		data, err := os.ReadFile(absPath)
		if err != nil {
			return ref, fmt.Errorf("failed to read %s: %w", absPath, err)
		}
		if oid, size, ok := ParsePointer(data); ok {
			ref.State = StatePointer
			ref.OID = oid
			ref.Size = size
			return ref, nil
		}
	}

	oid, err := HashFile(absPath)
	if err != nil {
		return ref, err
	}

	ref.State = StateResolved
	ref.OID = oid
	ref.Size = info.Size()
	return ref, nil
}

// HashFile returns the sha256 hex digest of a file's content.
func HashFile(absPath string) (string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", absPath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", absPath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Tracker answers whether a path is large-object tracked in one replica.
type Tracker struct {
	matcher gitattributes.Matcher
	empty   bool
}

// NewTracker reads the replica's root .gitattributes. A missing file means
// nothing is tracked.
func NewTracker(rootDir string) (*Tracker, error) {
	f, err := os.Open(filepath.Join(rootDir, ".gitattributes"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Tracker{empty: true}, nil
		}
		return nil, fmt.Errorf("failed to open .gitattributes: %w", err)
	}
	defer f.Close()

	attrs, err := gitattributes.ReadAttributes(f, nil, true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse .gitattributes: %w", err)
	}

	return &Tracker{matcher: gitattributes.NewMatcher(attrs)}, nil
}

// IsTracked reports whether the slash-separated relative path carries the
// lfs filter attribute.
func (t *Tracker) IsTracked(relPath string) bool {
	if t.empty {
		return false
	}

	results, _ := t.matcher.Match(strings.Split(relPath, "/"), []string{"filter"})
	attr, ok := results["filter"]
	if !ok {
		return false
	}

	return attr.Value() == "lfs"
}

// ResolveCandidates classifies every lfs-tracked path among candidates,
// returning only tracked files with their local classification.
func ResolveCandidates(rootDir string, candidates []string) ([]Reference, error) {
	tracker, err := NewTracker(rootDir)
	if err != nil {
		return nil, err
	}

	var refs []Reference
	seen := make(map[string]bool)
	for _, rel := range candidates {
		if seen[rel] || !tracker.IsTracked(rel) {
			continue
		}
		seen[rel] = true

		ref, err := Classify(filepath.Join(rootDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		ref.Path = rel
		refs = append(refs, ref)
	}

	return refs, nil
}
