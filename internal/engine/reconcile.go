package engine

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"shuttle/internal/apply"
	"shuttle/internal/lob"
	"shuttle/internal/plan"
)

// reconcile restores large-object payloads on the remote. After the
// applier runs, files tracked by the large-object filter may exist remotely
// only as pointer stubs; for every such file that resolved to a real
// payload locally, the payload is streamed straight into the remote
// working tree and verified by digest. A file that is a pointer on both
// sides may legitimately not be needed at this destination, so it yields a
// warning, never an error.
func (e *Engine) reconcile(ctx context.Context, rp *plan.ReplicaPlan) (int, []string, error) {
	if len(rp.LargeObjects) == 0 {
		return 0, nil, nil
	}

	remoteRoot := e.remotePath(rp.Path)
	byPath := make(map[string]lob.Reference, len(rp.LargeObjects))
	paths := make([]string, 0, len(rp.LargeObjects))
	for _, ref := range rp.LargeObjects {
		byPath[ref.Path] = ref
		paths = append(paths, ref.Path)
	}

	res, err := e.remote.Exec(ctx, apply.ScanCommand(remoteRoot, paths))
	if err != nil {
		return 0, nil, err
	}

	repaired := 0
	var warnings []string
	sc := bufio.NewScanner(strings.NewReader(res.Stdout))
	for sc.Scan() {
		state, rel, found := strings.Cut(strings.TrimRight(sc.Text(), "\r"), " ")
		if !found {
			continue
		}
		if state == "resolved" {
			continue
		}
		ref, known := byPath[rel]
		if !known {
			continue
		}
		if ref.State != lob.StateResolved {
			warnings = append(warnings, fmt.Sprintf(
				"replica %s: %s is a pointer on both sides, leaving as-is", rp.Path, rel))
			continue
		}

		localPath := filepath.Join(rp.Replica.Root, filepath.FromSlash(rel))
		remotePath := path.Join(remoteRoot, rel)
		if err := e.remote.Upload(ctx, localPath, remotePath); err != nil {
			return repaired, warnings, fmt.Errorf("repair %s: %w", rel, err)
		}

		hashRes, err := e.remote.Exec(ctx, apply.HashCommand(remotePath))
		if err != nil {
			return repaired, warnings, err
		}
		if got := firstLine(hashRes.Stdout); got != ref.OID {
			return repaired, warnings, fmt.Errorf("%w: %s digest %s, want %s",
				apply.ErrVerificationMismatch, rel, short(got), short(ref.OID))
		}

		repaired++
		e.logger.Printf("[engine] %s: restored large object %s", rp.Path, rel)
	}

	return repaired, warnings, nil
}
