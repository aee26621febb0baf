package apply

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCorruptDelta means a delta failed self-integrity checks after
	// transfer and was not applied.
	ErrCorruptDelta = errors.New("delta corrupt after transfer")

	// ErrVerificationMismatch means the replica's identity after applying
	// the committed delta did not match the intended target.
	ErrVerificationMismatch = errors.New("identity mismatch after apply")

	// ErrPatchRejected means the uncommitted delta failed validation and
	// the remote working tree was left untouched.
	ErrPatchRejected = errors.New("uncommitted delta rejected")

	// ErrApplyFailed covers remote-side failures outside the three
	// specific classes above (clean failure, init failure, fetch failure).
	ErrApplyFailed = errors.New("remote apply failed")
)

// Outcome is the reported disposition of one apply step.
type Outcome string

const (
	// OutcomeNone means the step had nothing to do.
	OutcomeNone Outcome = "none"

	// OutcomeApplied means the step completed and took effect.
	OutcomeApplied Outcome = "applied"

	// OutcomePlanned means a dry run would perform the step. Never
	// reported by the applier itself.
	OutcomePlanned Outcome = "planned"

	// OutcomeCorrupt means the delta failed integrity verification.
	OutcomeCorrupt Outcome = "corrupt"

	// OutcomeMismatch means the replica landed on an unexpected identity.
	OutcomeMismatch Outcome = "mismatch"

	// OutcomeRejected means patch validation failed and nothing changed.
	OutcomeRejected Outcome = "rejected"

	// OutcomeBlocked means an earlier failed step prevented this one.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeFailed means the step was attempted and failed.
	OutcomeFailed Outcome = "failed"
)

// Result is the parsed report of one replica application.
type Result struct {
	// Before is the replica identity observed before any change, empty
	// when the replica had no history.
	Before string

	// Final is the identity after the run, empty when still unborn.
	Final string

	Committed   Outcome
	Uncommitted Outcome

	// Mismatch carries the unexpected identity when Committed is
	// OutcomeMismatch.
	Mismatch string

	// Diagnostics holds remote-side detail lines, such as the reason a
	// patch was rejected.
	Diagnostics []string
}

// Err maps the result to the failure it represents, nil when every step
// either applied or had nothing to do.
func (r *Result) Err() error {
	switch r.Committed {
	case OutcomeCorrupt:
		return ErrCorruptDelta
	case OutcomeMismatch:
		return fmt.Errorf("%w: landed on %s", ErrVerificationMismatch, r.Mismatch)
	case OutcomeFailed:
		return fmt.Errorf("%w: committed delta", ErrApplyFailed)
	}
	switch r.Uncommitted {
	case OutcomeRejected:
		if len(r.Diagnostics) > 0 {
			return fmt.Errorf("%w: %s", ErrPatchRejected, strings.Join(r.Diagnostics, "; "))
		}
		return ErrPatchRejected
	case OutcomeFailed, OutcomeBlocked:
		return fmt.Errorf("%w: uncommitted delta", ErrApplyFailed)
	}
	return nil
}

const linePrefix = "shuttle: "

// ParseResult interprets the applier's stdout. Lines without the report
// prefix are pass-through remote output and are ignored.
func ParseResult(stdout string) (*Result, error) {
	res := &Result{Committed: OutcomeNone, Uncommitted: OutcomeNone}
	sawFinal := false

	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, linePrefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, linePrefix))
		if len(fields) == 0 {
			continue
		}
		rest := strings.Join(fields[1:], " ")

		switch fields[0] {
		case "before":
			if rest != "none" {
				res.Before = rest
			}
		case "final":
			if rest != "none" {
				res.Final = rest
			}
			sawFinal = true
		case "committed":
			outcome, detail := splitOutcome(fields[1:])
			res.Committed = outcome
			if outcome == OutcomeMismatch {
				res.Mismatch = detail
			}
		case "uncommitted":
			outcome, detail := splitOutcome(fields[1:])
			res.Uncommitted = outcome
			if detail != "" {
				res.Diagnostics = append(res.Diagnostics, detail)
			}
		case "error":
			return nil, fmt.Errorf("%w: %s", ErrApplyFailed, rest)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawFinal {
		return nil, fmt.Errorf("%w: applier output truncated", ErrApplyFailed)
	}

	return res, nil
}

func splitOutcome(fields []string) (Outcome, string) {
	if len(fields) == 0 {
		return OutcomeFailed, ""
	}
	detail := strings.TrimRight(strings.Join(fields[1:], " "), ";")
	return Outcome(fields[0]), detail
}
