package plan

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"shuttle/internal/lob"
	"shuttle/internal/replica"
)

func initRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if err := exec.Command("git", "init", dir).Run(); err != nil {
		t.Fatalf("git init failed: %v", err)
	}
	exec.Command("git", "-C", dir, "config", "user.name", "Test User").Run()
	exec.Command("git", "-C", dir, "config", "user.email", "test@example.com").Run()

	return dir
}

func commitFile(t *testing.T, repo, name, content, message string) string {
	t.Helper()

	if err := os.WriteFile(filepath.Join(repo, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := exec.Command("git", "-C", repo, "add", name).Run(); err != nil {
		t.Fatalf("git add failed: %v", err)
	}
	if err := exec.Command("git", "-C", repo, "commit", "-m", message).Run(); err != nil {
		t.Fatalf("git commit failed: %v", err)
	}

	out, err := exec.Command("git", "-C", repo, "rev-parse", "HEAD").Output()
	if err != nil {
		t.Fatalf("git rev-parse failed: %v", err)
	}
	return strings.TrimSpace(string(out))
}

func discoverSingle(t *testing.T, dir string) *replica.Replica {
	t.Helper()

	tree, err := replica.Discover(context.Background(), dir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	return tree.Root
}

func stagingDir(t *testing.T) string {
	t.Helper()

	dir, err := NewStagingDir()
	if err != nil {
		t.Fatalf("NewStagingDir failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestPackageInSyncContributesNothing(t *testing.T) {
	repo := initRepo(t)
	head := commitFile(t, repo, "a.txt", "one", "c1")
	r := discoverSingle(t, repo)

	rp, warning, err := Package(context.Background(), r, Baseline{Identity: head, Available: true}, stagingDir(t))
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if rp != nil {
		t.Errorf("expected nil plan for in-sync replica, got %+v", rp)
	}
	if warning != "" {
		t.Errorf("unexpected warning: %s", warning)
	}
}

func TestPackageSymbolicBaselineAtHead(t *testing.T) {
	repo := initRepo(t)
	commitFile(t, repo, "a.txt", "one", "c1")
	if err := exec.Command("git", "-C", repo, "tag", "v1").Run(); err != nil {
		t.Fatalf("git tag failed: %v", err)
	}
	r := discoverSingle(t, repo)

	// "v1" resolves to the local head but never compares equal to it
	// textually, so packaging has to recognize the empty range itself.
	rp, warning, err := Package(context.Background(), r, Baseline{Identity: "v1", Available: true}, stagingDir(t))
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if rp != nil {
		t.Errorf("expected nil plan for a baseline at head, got %+v", rp)
	}
	if warning != "" {
		t.Errorf("unexpected warning: %s", warning)
	}
}

func TestPackageFastForward(t *testing.T) {
	repo := initRepo(t)
	c1 := commitFile(t, repo, "a.txt", "one", "c1")
	commitFile(t, repo, "a.txt", "two", "c2")
	c3 := commitFile(t, repo, "b.txt", "three", "c3")
	r := discoverSingle(t, repo)

	rp, warning, err := Package(context.Background(), r, Baseline{Identity: c1, Available: true}, stagingDir(t))
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if warning != "" {
		t.Errorf("unexpected warning: %s", warning)
	}
	if rp == nil || rp.Committed == nil {
		t.Fatal("expected a committed delta")
	}
	if rp.Committed.Kind != DeltaRange {
		t.Errorf("kind = %v, want DeltaRange", rp.Committed.Kind)
	}
	if rp.Committed.Baseline != c1 || rp.Committed.Target != c3 {
		t.Errorf("delta = %+v, want baseline %s target %s", rp.Committed, c1, c3)
	}
	if rp.Uncommitted != nil {
		t.Error("unexpected uncommitted delta on a clean tree")
	}
	if _, err := os.Stat(rp.Committed.BundlePath); err != nil {
		t.Errorf("bundle not written: %v", err)
	}
}

func TestPackageBaselineUnavailable(t *testing.T) {
	repo := initRepo(t)
	head := commitFile(t, repo, "a.txt", "one", "c1")
	r := discoverSingle(t, repo)

	rp, warning, err := Package(context.Background(), r, Baseline{}, stagingDir(t))
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if warning != "" {
		t.Errorf("first sync should not warn, got: %s", warning)
	}
	if rp == nil || rp.Committed == nil {
		t.Fatal("expected a committed delta")
	}
	if rp.Committed.Kind != DeltaFull {
		t.Errorf("kind = %v, want DeltaFull", rp.Committed.Kind)
	}
	if rp.Committed.Target != head {
		t.Errorf("target = %s, want %s", rp.Committed.Target, head)
	}
}

func TestPackageDivergedFallsBackToFull(t *testing.T) {
	repo := initRepo(t)
	head := commitFile(t, repo, "a.txt", "one", "c1")
	r := discoverSingle(t, repo)

	// A commit from an unrelated repository: the remote moved somewhere
	// we cannot reach.
	other := initRepo(t)
	stranger := commitFile(t, other, "z.txt", "zzz", "unrelated")

	rp, warning, err := Package(context.Background(), r, Baseline{Identity: stranger, Available: true}, stagingDir(t))
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if rp == nil || rp.Committed == nil {
		t.Fatal("expected a committed delta")
	}
	if rp.Committed.Kind != DeltaFull {
		t.Errorf("kind = %v, want DeltaFull", rp.Committed.Kind)
	}
	if !rp.Diverged {
		t.Error("expected the plan to record divergence")
	}
	if warning == "" || !strings.Contains(warning, "full history") {
		t.Errorf("expected a divergence warning, got %q", warning)
	}
	if rp.Committed.Target != head {
		t.Errorf("target = %s, want %s", rp.Committed.Target, head)
	}
}

func TestPackageUncommittedOnly(t *testing.T) {
	repo := initRepo(t)
	head := commitFile(t, repo, "a.txt", "one", "c1")
	os.WriteFile(filepath.Join(repo, "new.txt"), []byte("untracked\n"), 0o644)
	r := discoverSingle(t, repo)

	rp, _, err := Package(context.Background(), r, Baseline{Identity: head, Available: true}, stagingDir(t))
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if rp == nil {
		t.Fatal("expected a plan entry")
	}
	if rp.Committed != nil {
		t.Error("unexpected committed delta")
	}
	if rp.Uncommitted == nil {
		t.Fatal("expected an uncommitted delta")
	}
	if _, err := os.Stat(rp.Uncommitted.PatchPath); err != nil {
		t.Errorf("patch not written: %v", err)
	}
}

func TestPackagePreservesWorkingState(t *testing.T) {
	repo := initRepo(t)
	commitFile(t, repo, "a.txt", "one\n", "c1")

	os.WriteFile(filepath.Join(repo, "a.txt"), []byte("staged\n"), 0o644)
	exec.Command("git", "-C", repo, "add", "a.txt").Run()
	os.WriteFile(filepath.Join(repo, "a.txt"), []byte("working\n"), 0o644)
	os.WriteFile(filepath.Join(repo, "u.txt"), []byte("untracked\n"), 0o644)

	before, _ := exec.Command("git", "-C", repo, "status", "--porcelain").Output()

	r := discoverSingle(t, repo)
	if _, _, err := Package(context.Background(), r, Baseline{}, stagingDir(t)); err != nil {
		t.Fatalf("Package failed: %v", err)
	}

	after, _ := exec.Command("git", "-C", repo, "status", "--porcelain").Output()
	if string(before) != string(after) {
		t.Errorf("packaging disturbed working state:\nbefore:\n%s\nafter:\n%s", before, after)
	}
}

// TestPackageScenario covers the composite case: local at C3 (descendant of
// C1), remote assumed at C1, an untracked a.bin, and a tracked large object
// m.usd whose working copy is real payload while C1 recorded the pointer.
func TestPackageScenario(t *testing.T) {
	repo := initRepo(t)

	commitFile(t, repo, ".gitattributes", "*.usd filter=lfs\n", "attrs")
	pointer := fmt.Sprintf("version https://git-lfs.github.com/spec/v1\noid sha256:%s\nsize 5\n",
		strings.Repeat("ab", 32))
	c1 := commitFile(t, repo, "m.usd", pointer, "c1 pointer")
	commitFile(t, repo, "code.txt", "v2", "c2")
	c3 := commitFile(t, repo, "code.txt", "v3", "c3")

	// Resolved working copy of the large object, plus an untracked file.
	os.WriteFile(filepath.Join(repo, "m.usd"), []byte("real payload bytes"), 0o644)
	os.WriteFile(filepath.Join(repo, "a.bin"), []byte{0x01, 0x02}, 0o644)

	r := discoverSingle(t, repo)
	rp, _, err := Package(context.Background(), r, Baseline{Identity: c1, Available: true}, stagingDir(t))
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if rp == nil {
		t.Fatal("expected a plan entry")
	}

	if rp.Committed == nil || rp.Committed.Kind != DeltaRange || rp.Committed.Target != c3 {
		t.Errorf("committed = %+v, want range to %s", rp.Committed, c3)
	}
	if rp.Uncommitted == nil {
		t.Fatal("expected an uncommitted delta for a.bin and m.usd")
	}

	found := false
	for _, ref := range rp.LargeObjects {
		if ref.Path == "m.usd" {
			found = true
			if ref.State != lob.StateResolved {
				t.Errorf("m.usd state = %v, want resolved", ref.State)
			}
		}
	}
	if !found {
		t.Errorf("large objects = %+v, want m.usd listed", rp.LargeObjects)
	}
}

func TestBuildOmitsInSyncReplicas(t *testing.T) {
	repo := initRepo(t)
	head := commitFile(t, repo, "a.txt", "one", "c1")

	tree, err := replica.Discover(context.Background(), repo)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	p, err := Build(context.Background(), tree, func(ctx context.Context, r *replica.Replica) (Baseline, error) {
		return Baseline{Identity: head, Available: true}, nil
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer p.Close()

	if !p.IsEmpty() {
		t.Errorf("expected empty plan, got %d replicas", len(p.Replicas))
	}
}
