package replica

import (
	"fmt"
	"io"
	"os"
	"path"

	format "github.com/go-git/go-git/v5/plumbing/format/config"
)

// ManifestName is the declaration file listing nested replicas.
const ManifestName = ".gitmodules"

// ManifestEntry is one declared nested replica.
type ManifestEntry struct {
	// Name is the declared submodule name
	Name string

	// Path is the nested replica's path relative to its parent
	Path string

	// URL is the declared upstream (informational; the sync engine never
	// contacts it)
	URL string
}

// ParseManifest reads nested-replica declarations in the order they are
// declared. Declaration order, not filesystem order, drives traversal so
// repeated runs are deterministic.
func ParseManifest(r io.Reader) ([]ManifestEntry, error) {
	cfg := format.New()
	if err := format.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestName, err)
	}

	section := cfg.Section("submodule")
	entries := make([]ManifestEntry, 0, len(section.Subsections))

	for _, sub := range section.Subsections {
		entry := ManifestEntry{
			Name: sub.Name,
			Path: sub.Option("path"),
			URL:  sub.Option("url"),
		}
		if entry.Path == "" {
			// A submodule stanza without a path is not actionable.
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ReadManifest parses the manifest file in rootDir. A missing manifest is
// not an error: it means the replica declares no nested replicas.
func ReadManifest(rootDir string) ([]ManifestEntry, error) {
	f, err := os.Open(path.Join(rootDir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", ManifestName, err)
	}
	defer f.Close()

	return ParseManifest(f)
}
