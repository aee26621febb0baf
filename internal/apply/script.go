// Package apply expresses the remote side of a sync run.
//
// The remote machine is reachable only through single-shot command
// execution, so the per-replica applier is generated as one self-contained
// POSIX sh script per invocation instead of a sequence of independent round
// trips, which would race against partial state. The script walks the
// replica through Clean -> Extending -> Patching -> Verified and reports
// every step on stdout as machine-readable "shuttle: ..." lines that
// ParseResult turns back into a Result.
package apply

import (
	"fmt"
	"strings"

	"shuttle/internal/transport"
)

// Request describes one replica application.
type Request struct {
	// RemoteRoot is the replica's working tree root on the remote.
	RemoteRoot string

	// BundlePath is the uploaded committed-delta bundle; empty when the
	// remote already has the local head.
	BundlePath string

	// Target is the identity the replica must land on after the bundle
	// is applied. Required when BundlePath is set.
	Target string

	// PatchPath is the uploaded uncommitted-delta patch; empty when the
	// working state is clean.
	PatchPath string
}

// Script renders the self-contained applier for one replica.
//
// The state machine:
//   - Clean: any remote uncommitted state is discarded (hard reset plus
//     untracked removal); the remote is a deployment mirror, never a second
//     source of truth. A missing replica is initialized fresh when a full
//     history transfer is available.
//   - Extending: verify the bundle's self-integrity, fetch it, then force
//     the replica onto the declared target identity and check the result.
//     Any failure here blocks the patching step for this replica.
//   - Patching: dry-run the patch first; apply only if validation passes,
//     leaving the tree untouched otherwise.
//   - Verified: the final identity is re-read and reported.
func Script(req Request) string {
	var b strings.Builder

	b.WriteString("set -u\n")
	fmt.Fprintf(&b, "root=%s\n", transport.ShellQuote(req.RemoteRoot))
	fmt.Fprintf(&b, "bundle=%s\n", transport.ShellQuote(req.BundlePath))
	fmt.Fprintf(&b, "target=%s\n", transport.ShellQuote(req.Target))
	fmt.Fprintf(&b, "patch=%s\n", transport.ShellQuote(req.PatchPath))
	b.WriteString(`
say() { printf 'shuttle: %s\n' "$*"; }

if [ ! -e "$root/.git" ]; then
    if [ -z "$bundle" ]; then
        say "error missing-replica"
        exit 0
    fi
    mkdir -p "$root" && git -C "$root" init -q || { say "error init-failed"; exit 0; }
fi

before=$(git -C "$root" rev-parse --verify -q 'HEAD^{commit}' 2>/dev/null) || before=none
say "before $before"

if [ "$before" != none ]; then
    git -C "$root" reset --hard -q || { say "error clean-failed"; exit 0; }
fi
git -C "$root" clean -fdq || { say "error clean-failed"; exit 0; }

ok=1
if [ -n "$bundle" ]; then
    if ! git -C "$root" bundle verify "$bundle" >/dev/null 2>&1; then
        say "committed corrupt"
        ok=0
    elif git -C "$root" fetch -q --force "$bundle" HEAD >/dev/null 2>&1 \
        && git -C "$root" update-ref HEAD "$target" \
        && git -C "$root" reset --hard -q \
        && git -C "$root" clean -fdq; then
        now=$(git -C "$root" rev-parse HEAD)
        if [ "$now" = "$target" ]; then
            say "committed applied"
        else
            say "committed mismatch $now"
            ok=0
        fi
    else
        say "committed failed"
        ok=0
    fi
else
    say "committed none"
fi

if [ -n "$patch" ]; then
    if [ "$ok" != 1 ]; then
        say "uncommitted blocked"
    elif git -C "$root" apply --check --binary "$patch" >/dev/null 2>&1; then
        if git -C "$root" apply --binary "$patch"; then
            say "uncommitted applied"
        else
            say "uncommitted failed"
        fi
    else
        reason=$(git -C "$root" apply --check --binary "$patch" 2>&1 | head -n 3 | tr '\n' ';')
        say "uncommitted rejected $reason"
    fi
else
    say "uncommitted none"
fi

final=$(git -C "$root" rev-parse --verify -q 'HEAD^{commit}' 2>/dev/null) || final=none
say "final $final"
`)

	return b.String()
}

// InspectCommand queries a remote replica's identity. Prints the commit
// hash, or "none" when the replica is missing or has no history, which the
// caller treats as an expected baseline-unavailable state.
func InspectCommand(remoteRoot string) string {
	root := transport.ShellQuote(remoteRoot)
	return fmt.Sprintf("git -C %s rev-parse --verify -q 'HEAD^{commit}' 2>/dev/null || echo none", root)
}

// ScanCommand classifies candidate large-object files on the remote by
// inspecting working-copy content, one "state path" line each.
func ScanCommand(remoteRoot string, relPaths []string) string {
	var b strings.Builder

	b.WriteString("set -u\n")
	fmt.Fprintf(&b, "root=%s\n", transport.ShellQuote(remoteRoot))
	b.WriteString("scan() {\n")
	b.WriteString("    f=\"$root/$1\"\n")
	b.WriteString("    if [ ! -f \"$f\" ]; then printf 'missing %s\\n' \"$1\"; return; fi\n")
	// 42 bytes is the exact length of the pointer header line.
	b.WriteString("    if [ \"$(head -c 42 \"$f\" 2>/dev/null)\" = 'version https://git-lfs.github.com/spec/v1' ]; then\n")
	b.WriteString("        printf 'pointer %s\\n' \"$1\"\n")
	b.WriteString("    else\n")
	b.WriteString("        printf 'resolved %s\\n' \"$1\"\n")
	b.WriteString("    fi\n")
	b.WriteString("}\n")

	for _, p := range relPaths {
		fmt.Fprintf(&b, "scan %s\n", transport.ShellQuote(p))
	}

	return b.String()
}

// HashCommand prints the sha256 digest of one remote file.
func HashCommand(remotePath string) string {
	return fmt.Sprintf("sha256sum %s | cut -d' ' -f1", transport.ShellQuote(remotePath))
}

// SweepCommand removes stale staging directories left behind by cancelled
// runs. Only directories untouched for several hours are removed so
// concurrent runs against the same host are not disturbed.
func SweepCommand(stagingParent string) string {
	return fmt.Sprintf("find %s -maxdepth 1 -type d -name 'shuttle-*' -mmin +240 -exec rm -rf {} + 2>/dev/null; true",
		transport.ShellQuote(stagingParent))
}

// CleanupCommand removes this run's staging directory.
func CleanupCommand(stagingDir string) string {
	return "rm -rf " + transport.ShellQuote(stagingDir)
}
