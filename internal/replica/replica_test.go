package replica

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"shuttle/internal/vcs"
)

func initRepo(t *testing.T, dir string) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := exec.Command("git", "init", dir).Run(); err != nil {
		t.Fatalf("git init failed: %v", err)
	}
	exec.Command("git", "-C", dir, "config", "user.name", "Test User").Run()
	exec.Command("git", "-C", dir, "config", "user.email", "test@example.com").Run()
}

func commitAll(t *testing.T, dir, message string) {
	t.Helper()

	if err := exec.Command("git", "-C", dir, "add", "-A").Run(); err != nil {
		t.Fatalf("git add failed: %v", err)
	}
	if err := exec.Command("git", "-C", dir, "commit", "-m", message).Run(); err != nil {
		t.Fatalf("git commit failed: %v", err)
	}
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []ManifestEntry
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name: "single entry",
			input: `[submodule "libs/core"]
	path = libs/core
	url = ../core.git
`,
			want: []ManifestEntry{{Name: "libs/core", Path: "libs/core", URL: "../core.git"}},
		},
		{
			name: "declared order preserved",
			input: `[submodule "zeta"]
	path = zeta
	url = ../zeta.git
[submodule "alpha"]
	path = alpha
	url = ../alpha.git
`,
			want: []ManifestEntry{
				{Name: "zeta", Path: "zeta", URL: "../zeta.git"},
				{Name: "alpha", Path: "alpha", URL: "../alpha.git"},
			},
		},
		{
			name: "entry without path skipped",
			input: `[submodule "broken"]
	url = ../broken.git
[submodule "ok"]
	path = ok
	url = ../ok.git
`,
			want: []ManifestEntry{{Name: "ok", Path: "ok", URL: "../ok.git"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseManifest(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ParseManifest failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d: %v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDiscoverNoNested(t *testing.T) {
	root := t.TempDir()
	initRepo(t, root)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	commitAll(t, root, "initial")

	tree, err := Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if tree.Root.Path != "." {
		t.Errorf("root path = %q, want .", tree.Root.Path)
	}
	if len(tree.Root.Nested) != 0 {
		t.Errorf("expected no nested replicas, got %d", len(tree.Root.Nested))
	}
	if len(tree.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", tree.Warnings)
	}
}

func TestDiscoverRejectsOldGit(t *testing.T) {
	root := t.TempDir()
	initRepo(t, root)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	commitAll(t, root, "initial")

	realGit, err := exec.LookPath("git")
	if err != nil {
		t.Fatalf("git not on PATH: %v", err)
	}

	// A shim that lies about its version and delegates everything else.
	shimDir := t.TempDir()
	shim := fmt.Sprintf("#!/bin/sh\nif [ \"$1\" = --version ]; then\n  echo 'git version 2.20.0'\n  exit 0\nfi\nexec %q \"$@\"\n", realGit)
	if err := os.WriteFile(filepath.Join(shimDir, "git"), []byte(shim), 0o755); err != nil {
		t.Fatalf("write shim failed: %v", err)
	}
	t.Setenv("PATH", shimDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	_, err = Discover(context.Background(), root)
	if !errors.Is(err, vcs.ErrGitTooOld) {
		t.Fatalf("Discover error = %v, want ErrGitTooOld", err)
	}
}

func TestDiscoverNestedDeclaredOrder(t *testing.T) {
	root := t.TempDir()
	initRepo(t, root)

	// Nested repos created on disk; declaration order differs from
	// lexical order on purpose.
	initRepo(t, filepath.Join(root, "zeta"))
	os.WriteFile(filepath.Join(root, "zeta", "z.txt"), []byte("z"), 0o644)
	commitAll(t, filepath.Join(root, "zeta"), "z initial")

	initRepo(t, filepath.Join(root, "alpha"))
	os.WriteFile(filepath.Join(root, "alpha", "a.txt"), []byte("a"), 0o644)
	commitAll(t, filepath.Join(root, "alpha"), "a initial")

	manifest := `[submodule "zeta"]
	path = zeta
	url = ../zeta.git
[submodule "alpha"]
	path = alpha
	url = ../alpha.git
`
	os.WriteFile(filepath.Join(root, ManifestName), []byte(manifest), 0o644)
	os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644)

	// Record gitlinks so pins exist.
	exec.Command("git", "-C", root, "-c", "protocol.file.allow=always",
		"submodule", "add", "./zeta", "zeta").Run()
	commitAll(t, root, "initial")

	tree, err := Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(tree.Root.Nested) != 2 {
		t.Fatalf("expected 2 nested replicas, got %d", len(tree.Root.Nested))
	}
	if tree.Root.Nested[0].Path != "zeta" || tree.Root.Nested[1].Path != "alpha" {
		t.Errorf("nested order = [%s %s], want [zeta alpha]",
			tree.Root.Nested[0].Path, tree.Root.Nested[1].Path)
	}

	flat := tree.Flatten()
	if len(flat) != 3 || flat[0].Path != "." || flat[1].Path != "zeta" || flat[2].Path != "alpha" {
		paths := make([]string, len(flat))
		for i, r := range flat {
			paths[i] = r.Path
		}
		t.Errorf("Flatten order = %v, want [. zeta alpha]", paths)
	}
}

func TestDiscoverMissingNestedWarns(t *testing.T) {
	root := t.TempDir()
	initRepo(t, root)

	manifest := `[submodule "ghost"]
	path = ghost
	url = ../ghost.git
`
	os.WriteFile(filepath.Join(root, ManifestName), []byte(manifest), 0o644)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	commitAll(t, root, "initial")

	tree, err := Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(tree.Root.Nested) != 0 {
		t.Errorf("expected missing nested replica to be skipped, got %d", len(tree.Root.Nested))
	}
	if len(tree.Warnings) != 1 || !strings.Contains(tree.Warnings[0], "ghost") {
		t.Errorf("expected a warning naming ghost, got %v", tree.Warnings)
	}
}
