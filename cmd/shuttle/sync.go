package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shuttle/internal/apply"
	"shuttle/internal/config"
	"shuttle/internal/engine"
	"shuttle/internal/logging"
	"shuttle/internal/transport"
	"shuttle/internal/ui"
	"shuttle/internal/vcs"
)

var (
	syncDryRun bool
	syncYes    bool
	syncLocal  string
)

var syncCmd = &cobra.Command{
	Use:   "sync [target] [baseline-revision]",
	Short: "Synchronize the workspace to a remote machine",
	Long: `Synchronize the local workspace to a target machine.

The target is a name from the config file or an ad-hoc spec of the form
[user@]host:/remote/workspace/root. With no target the configured
default_target is used.

The optional baseline-revision overrides the inspected state of the main
replica: shuttle assumes the remote already holds that revision and
transfers only what came after it. Nested replicas are always inspected.

Example usage:
  shuttle sync                         # default target, inspected baselines
  shuttle sync studio                  # named target
  shuttle sync dev@box:/srv/ws         # ad-hoc target
  shuttle sync studio v2.1             # remote assumed to hold v2.1
  shuttle sync --dry-run studio        # plan and report, change nothing`,
	Args: cobra.MaximumNArgs(2),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVarP(&syncDryRun, "dry-run", "n", false, "plan and report without transferring anything")
	syncCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "skip the confirmation prompt")
	syncCmd.Flags().StringVar(&syncLocal, "local", ".", "local workspace root")
}

func runSync(cmd *cobra.Command, args []string) error {
	out := ui.NewPrinter(os.Stdout)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		out.Fail("%v", err)
		return err
	}

	targetArg := ""
	if len(args) > 0 {
		targetArg = args[0]
	}
	target, err := cfg.Resolve(targetArg)
	if err != nil {
		out.Fail("%v", err)
		return err
	}
	if err := target.Validate(); err != nil {
		out.Fail("%v", err)
		return err
	}
	baseline := ""
	if len(args) > 1 {
		baseline = args[1]
	}

	if !syncYes && !syncDryRun {
		ok, err := ui.Confirm(fmt.Sprintf("Sync workspace to %s:%s?", target.Host, target.Root))
		if err != nil {
			return err
		}
		if !ok {
			out.Info("cancelled")
			return errors.New("cancelled")
		}
	}

	logger := logging.New("[shuttle] ", cfg.LogFile, verbose)
	logger.Printf("sync to %s:%s starting", target.Host, target.Root)

	known := target.KnownHosts
	if known == "insecure" {
		known = ""
	}
	ssh, err := transport.Dial(cmd.Context(), transport.Config{
		Host:           target.Host,
		Port:           target.Port,
		User:           target.User,
		KeyPath:        target.Key,
		KnownHostsPath: known,
	}, logger)
	if err != nil {
		out.Fail("%v", err)
		return err
	}
	defer ssh.Close()

	eng := engine.New(ssh, engine.Options{
		LocalRoot:        syncLocal,
		RemoteRoot:       target.Root,
		BaselineOverride: baseline,
		DestOverrides:    target.ReplicaRoots,
		DryRun:           syncDryRun,
		Logger:           logger,
	})

	summary, err := eng.Run(cmd.Context())
	if err != nil {
		if vcs.IsFatal(err) {
			out.Fail("local git is unusable: %v", err)
		} else {
			out.Fail("%v", err)
		}
		logger.Printf("sync failed: %v", err)
		return err
	}

	renderSummary(out, target, summary)
	if n := summary.Failed(); n > 0 {
		err := fmt.Errorf("%d replica(s) failed", n)
		logger.Printf("sync finished with failures: %v", err)
		return err
	}
	logger.Printf("sync finished")
	return nil
}

func renderSummary(out *ui.Printer, target config.Target, s *engine.Summary) {
	for _, w := range s.Warnings {
		out.Warn("%s", w)
	}
	if s.DryRun {
		out.Info("dry run, planned transfers:")
	}
	for _, rep := range s.Reports {
		name := rep.Path
		if name == "." {
			name = "(root)"
		}
		line := fmt.Sprintf("%-20s %s -> %s  history:%s working:%s",
			name, shortID(rep.Before), shortID(rep.After),
			outcomeWord(rep.Committed), outcomeWord(rep.Uncommitted))
		if rep.Repaired > 0 {
			line += fmt.Sprintf(" objects:%d", rep.Repaired)
		}
		if rep.Err != nil {
			out.Fail("%s  (%v)", line, rep.Err)
		} else {
			out.Pass("%s", line)
		}
	}
	if s.NoOp {
		out.Pass("workspace already in sync with %s", out.Accent(target.Host))
	}
}

func shortID(id string) string {
	if id == "" {
		return "(none)"
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func outcomeWord(o apply.Outcome) string {
	if o == apply.OutcomeNone {
		return "unchanged"
	}
	return string(o)
}
