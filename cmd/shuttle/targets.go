package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"shuttle/internal/config"
	"shuttle/internal/ui"
)

var targetsFull bool

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List configured sync targets",
	Long: `List the targets configured in the shuttle config file.

Example usage:
  shuttle targets          # one line per target
  shuttle targets --full   # full resolved settings as YAML`,
	RunE: runTargets,
}

func init() {
	targetsCmd.Flags().BoolVar(&targetsFull, "full", false, "print full resolved settings as YAML")
}

func runTargets(cmd *cobra.Command, args []string) error {
	out := ui.NewPrinter(os.Stdout)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		out.Fail("%v", err)
		return err
	}
	names := cfg.Names()
	if len(names) == 0 {
		out.Info("no targets configured")
		return nil
	}

	if targetsFull {
		resolved := make(map[string]config.Target, len(names))
		for _, name := range names {
			t, err := cfg.Resolve(name)
			if err != nil {
				return err
			}
			resolved[name] = t
		}
		data, err := yaml.Marshal(resolved)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, string(data))
		return nil
	}

	for _, name := range names {
		t := cfg.Targets[name]
		label := name
		if name == cfg.DefaultTarget {
			label = out.Accent(name + " (default)")
		}
		host := t.Host
		if t.User != "" {
			host = t.User + "@" + host
		}
		out.Info("%-24s %s:%s", label, host, t.Root)
	}
	return nil
}
