// Package config loads shuttle settings from a YAML file and the
// environment. Named targets let a workspace describe its destination
// machines once; ad-hoc user@host:/path specs work without any file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ErrUnknownTarget means the requested name matches no configured target
// and does not parse as an ad-hoc destination spec.
var ErrUnknownTarget = errors.New("unknown sync target")

// Target is one destination machine.
type Target struct {
	// Host is the SSH host name or address.
	Host string `mapstructure:"host"`

	// Port is the SSH port, 22 when unset.
	Port int `mapstructure:"port"`

	// User is the SSH login; defaults to the local user.
	User string `mapstructure:"user"`

	// Key is the private key path; defaults to the first of
	// ~/.ssh/id_ed25519 and ~/.ssh/id_rsa that exists.
	Key string `mapstructure:"key"`

	// KnownHosts is the host key database, ~/.ssh/known_hosts when
	// unset. "insecure" disables host key checking.
	KnownHosts string `mapstructure:"known_hosts"`

	// Root is the workspace root on the destination machine.
	Root string `mapstructure:"root"`

	// ReplicaRoots overrides the destination of individual replicas,
	// keyed by workspace-relative path, with absolute remote paths.
	ReplicaRoots map[string]string `mapstructure:"replica_roots"`
}

// Config is the full loaded configuration.
type Config struct {
	// DefaultTarget names the target used when the command line gives
	// none.
	DefaultTarget string `mapstructure:"default_target"`

	// LogFile receives the rotating activity log; empty disables it.
	LogFile string `mapstructure:"log_file"`

	Targets map[string]Target `mapstructure:"targets"`
}

// Load reads configuration. An explicit path must exist; otherwise
// .shuttle.yaml is searched in the working directory and the home
// directory, and a missing file yields an empty config. SHUTTLE_* variables
// override file values (SHUTTLE_LOG_FILE, SHUTTLE_DEFAULT_TARGET), and
// SHUTTLE_HOST plus the other target variables define a target named "env"
// that becomes the default when none is configured.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("shuttle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal ignores AutomaticEnv for keys the file never mentions,
	// so every env-settable key is bound by name.
	for _, key := range []string{
		"log_file", "default_target",
		"host", "port", "user", "key", "known_hosts", "root", "replica_roots",
	} {
		v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(".shuttle")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if host := v.GetString("host"); host != "" {
		if cfg.Targets == nil {
			cfg.Targets = map[string]Target{}
		}
		cfg.Targets["env"] = Target{
			Host:         host,
			Port:         v.GetInt("port"),
			User:         v.GetString("user"),
			Key:          v.GetString("key"),
			KnownHosts:   v.GetString("known_hosts"),
			Root:         v.GetString("root"),
			ReplicaRoots: parseReplicaRoots(v.GetString("replica_roots")),
		}
		if cfg.DefaultTarget == "" {
			cfg.DefaultTarget = "env"
		}
	}
	return cfg, nil
}

// parseReplicaRoots reads SHUTTLE_REPLICA_ROOTS, a comma-separated list of
// workspace-path=remote-path pairs.
func parseReplicaRoots(s string) map[string]string {
	if s == "" {
		return nil
	}
	roots := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		path, dest, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || path == "" || dest == "" {
			continue
		}
		roots[path] = dest
	}
	return roots
}

// Resolve maps a command-line destination onto a target: a configured name,
// an ad-hoc user@host:/path spec, or the configured default when empty.
func (c *Config) Resolve(name string) (Target, error) {
	if name == "" {
		name = c.DefaultTarget
	}
	if name == "" {
		return Target{}, fmt.Errorf("%w: no target given and no default configured", ErrUnknownTarget)
	}
	if t, ok := c.Targets[name]; ok {
		return t.withDefaults(), nil
	}
	if t, ok := parseSpec(name); ok {
		return t.withDefaults(), nil
	}
	return Target{}, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
}

// Names returns the configured target names, default first.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Targets))
	if c.DefaultTarget != "" {
		if _, ok := c.Targets[c.DefaultTarget]; ok {
			names = append(names, c.DefaultTarget)
		}
	}
	for name := range c.Targets {
		if name != c.DefaultTarget {
			names = append(names, name)
		}
	}
	return names
}

// parseSpec recognizes [user@]host:/absolute/path.
func parseSpec(s string) (Target, bool) {
	var t Target
	rest := s
	if at := strings.Index(rest, "@"); at >= 0 {
		t.User = rest[:at]
		rest = rest[at+1:]
	}
	colon := strings.Index(rest, ":")
	if colon <= 0 || !strings.HasPrefix(rest[colon+1:], "/") {
		return Target{}, false
	}
	t.Host = rest[:colon]
	t.Root = rest[colon+1:]
	return t, true
}

func (t Target) withDefaults() Target {
	if t.Port == 0 {
		t.Port = 22
	}
	if t.User == "" {
		t.User = os.Getenv("USER")
	}
	home, _ := os.UserHomeDir()
	if t.Key == "" && home != "" {
		for _, name := range []string{"id_ed25519", "id_rsa"} {
			candidate := filepath.Join(home, ".ssh", name)
			if _, err := os.Stat(candidate); err == nil {
				t.Key = candidate
				break
			}
		}
	}
	if t.KnownHosts == "" && home != "" {
		t.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	return t
}

// Validate checks that a resolved target is usable.
func (t Target) Validate() error {
	switch {
	case t.Host == "":
		return errors.New("target has no host")
	case t.Root == "":
		return errors.New("target has no remote workspace root")
	case !strings.HasPrefix(t.Root, "/"):
		return fmt.Errorf("remote root %q is not absolute", t.Root)
	}
	return nil
}
