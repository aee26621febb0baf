// Package engine orchestrates a full synchronization run: discover the
// local replica tree, inspect remote baselines, package minimal deltas,
// ship them, drive the remote applier, and reconcile large-object files.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"

	"shuttle/internal/apply"
	"shuttle/internal/plan"
	"shuttle/internal/replica"
	"shuttle/internal/transport"
)

// Remote is the command surface the engine needs on the destination
// machine. *transport.SSH satisfies it.
type Remote interface {
	Exec(ctx context.Context, command string) (transport.Result, error)
	Upload(ctx context.Context, localPath, remotePath string) error
}

// remoteStagingParent is where per-run staging directories live on the
// destination machine.
const remoteStagingParent = "/tmp"

// Options configures a run.
type Options struct {
	// LocalRoot is the local workspace root. Defaults to the current
	// directory.
	LocalRoot string

	// RemoteRoot is the workspace root on the destination machine.
	RemoteRoot string

	// BaselineOverride, when set, replaces the inspected baseline of the
	// root replica. Nested replicas are always inspected.
	BaselineOverride string

	// DestOverrides maps a replica's workspace-relative path to an
	// absolute remote destination, overriding the default layout under
	// RemoteRoot.
	DestOverrides map[string]string

	// DryRun plans and reports but transfers and changes nothing.
	DryRun bool

	Logger *log.Logger
}

// Engine runs synchronization passes against one remote.
type Engine struct {
	remote Remote
	opts   Options
	logger *log.Logger
}

func New(remote Remote, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.LocalRoot == "" {
		opts.LocalRoot = "."
	}
	return &Engine{remote: remote, opts: opts, logger: logger}
}

// ReplicaReport is the outcome for one replica.
type ReplicaReport struct {
	// Path is the replica's workspace-relative path, "." for the root.
	Path string

	// Before and After are the remote identities around the run, empty
	// when the replica had no history at that point.
	Before string
	After  string

	Committed   apply.Outcome
	Uncommitted apply.Outcome

	// Repaired counts large-object files whose payload was restored on
	// the remote.
	Repaired int

	// Err is the replica-scoped failure, nil on success. Failures here
	// do not stop other replicas.
	Err error
}

// Summary aggregates a run.
type Summary struct {
	Reports  []ReplicaReport
	Warnings []string

	// NoOp is true when every replica was already in sync.
	NoOp bool

	// DryRun is true when nothing was transferred.
	DryRun bool
}

// Failed reports how many replicas ended in error.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Reports {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Run performs one synchronization pass. A transport-level failure aborts
// the whole run with an error wrapping transport.ErrUnreachable; replica
// failures are reported in the summary instead.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	tree, err := replica.Discover(ctx, e.opts.LocalRoot)
	if err != nil {
		return nil, fmt.Errorf("discover local workspace: %w", err)
	}
	e.logger.Printf("[engine] discovered %d replica(s)", len(tree.Flatten()))

	if _, err := e.remote.Exec(ctx, apply.SweepCommand(remoteStagingParent)); err != nil {
		return nil, err
	}

	syncPlan, err := plan.Build(ctx, tree, e.baselineFor)
	if err != nil {
		return nil, err
	}
	defer syncPlan.Close()

	summary := &Summary{Warnings: append([]string(nil), syncPlan.Warnings...), DryRun: e.opts.DryRun}
	planned := make(map[string]*plan.ReplicaPlan, len(syncPlan.Replicas))
	for _, rp := range syncPlan.Replicas {
		planned[rp.Path] = rp
	}

	if syncPlan.IsEmpty() || e.opts.DryRun {
		// Every replica still gets its summary line, in-sync ones
		// included.
		for _, r := range tree.Flatten() {
			rp, ok := planned[r.Path]
			if !ok {
				summary.Reports = append(summary.Reports, e.inSyncReport(ctx, r))
				continue
			}
			summary.Reports = append(summary.Reports, ReplicaReport{
				Path:        rp.Path,
				Before:      rp.Baseline.Identity,
				After:       rp.LocalHead,
				Committed:   plannedOutcome(rp.Committed != nil),
				Uncommitted: plannedOutcome(rp.Uncommitted != nil),
			})
		}
		if syncPlan.IsEmpty() {
			summary.NoOp = true
			e.logger.Printf("[engine] all replicas in sync, nothing to do")
		}
		return summary, nil
	}

	staging := path.Join(remoteStagingParent, filepath.Base(syncPlan.StagingDir))
	if _, err := e.remote.Exec(ctx, "mkdir -p "+transport.ShellQuote(staging)); err != nil {
		return nil, err
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if _, err := e.remote.Exec(cleanupCtx, apply.CleanupCommand(staging)); err != nil {
			e.logger.Printf("[engine] staging cleanup failed: %v", err)
		}
	}()

	for _, r := range tree.Flatten() {
		rp, ok := planned[r.Path]
		if !ok {
			summary.Reports = append(summary.Reports, e.inSyncReport(ctx, r))
			continue
		}
		report, warnings := e.syncReplica(ctx, rp, staging)
		if report.Err != nil && errors.Is(report.Err, transport.ErrUnreachable) {
			return nil, report.Err
		}
		summary.Reports = append(summary.Reports, report)
		summary.Warnings = append(summary.Warnings, warnings...)
	}

	return summary, nil
}

// inSyncReport covers a replica the plan omitted: nothing to do, same
// identity on both sides.
func (e *Engine) inSyncReport(ctx context.Context, r *replica.Replica) ReplicaReport {
	head, _ := r.Backend.Identity(ctx)
	return ReplicaReport{
		Path:        r.Path,
		Before:      head,
		After:       head,
		Committed:   apply.OutcomeNone,
		Uncommitted: apply.OutcomeNone,
	}
}

func plannedOutcome(planned bool) apply.Outcome {
	if planned {
		return apply.OutcomePlanned
	}
	return apply.OutcomeNone
}

// remotePath maps a workspace-relative replica or file path onto the
// destination workspace. Remote paths always use forward slashes.
func (e *Engine) remotePath(rel string) string {
	if override, ok := e.opts.DestOverrides[rel]; ok {
		return override
	}
	if rel == "." || rel == "" {
		return e.opts.RemoteRoot
	}
	return path.Join(e.opts.RemoteRoot, filepath.ToSlash(rel))
}

// baselineFor inspects the remote replica's current identity. An absent
// replica or one without history is an expected unavailable baseline, not
// an error.
func (e *Engine) baselineFor(ctx context.Context, r *replica.Replica) (plan.Baseline, error) {
	if e.opts.BaselineOverride != "" && r.Path == "." {
		return plan.Baseline{Identity: e.opts.BaselineOverride, Available: true}, nil
	}

	res, err := e.remote.Exec(ctx, apply.InspectCommand(e.remotePath(r.Path)))
	if err != nil {
		return plan.Baseline{}, err
	}
	id := firstLine(res.Stdout)
	if res.ExitCode != 0 || id == "" || id == "none" {
		return plan.Baseline{}, nil
	}
	return plan.Baseline{Identity: id, Available: true}, nil
}

// syncReplica ships one replica's deltas, runs the applier, and reconciles
// large objects.
func (e *Engine) syncReplica(ctx context.Context, rp *plan.ReplicaPlan, staging string) (ReplicaReport, []string) {
	report := ReplicaReport{Path: rp.Path, Committed: apply.OutcomeNone, Uncommitted: apply.OutcomeNone}

	req := apply.Request{RemoteRoot: e.remotePath(rp.Path)}
	if rp.Committed != nil {
		req.BundlePath = path.Join(staging, filepath.Base(rp.Committed.BundlePath))
		req.Target = rp.Committed.Target
		if err := e.remote.Upload(ctx, rp.Committed.BundlePath, req.BundlePath); err != nil {
			report.Err = err
			return report, nil
		}
	}
	if rp.Uncommitted != nil {
		req.PatchPath = path.Join(staging, filepath.Base(rp.Uncommitted.PatchPath))
		if err := e.remote.Upload(ctx, rp.Uncommitted.PatchPath, req.PatchPath); err != nil {
			report.Err = err
			return report, nil
		}
	}

	res, err := e.remote.Exec(ctx, apply.Script(req))
	if err != nil {
		report.Err = err
		return report, nil
	}
	parsed, err := apply.ParseResult(res.Stdout)
	if err != nil {
		report.Err = err
		return report, nil
	}

	report.Before = parsed.Before
	report.After = parsed.Final
	report.Committed = parsed.Committed
	report.Uncommitted = parsed.Uncommitted
	report.Err = parsed.Err()
	e.logger.Printf("[engine] %s: committed=%s uncommitted=%s head=%s",
		rp.Path, parsed.Committed, parsed.Uncommitted, short(parsed.Final))

	// A failed or skipped patch step does not block reconciliation: the
	// committed delta landed (or there was none), and that is exactly
	// when history application regresses resolved files to pointers.
	if parsed.Committed != apply.OutcomeApplied && parsed.Committed != apply.OutcomeNone {
		return report, nil
	}

	repaired, warnings, err := e.reconcile(ctx, rp)
	report.Repaired = repaired
	if report.Err == nil {
		report.Err = err
	}
	return report, warnings
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "(none)"
	}
	return id
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return s[:i]
		}
	}
	return s
}
