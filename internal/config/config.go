// Package config loads process configuration for the configuration
// governance service from command-line flags with environment-variable
// fallback, the same shape as the reference tool's cmd/main.go flag block.
package config

import (
	"flag"
	"os"
)

// Config holds the settings needed to stand up the core: where the
// git-backed repository lives on disk, where the metadata database lives,
// the service identity used as committer on merges and promotions, and
// the ports the ambient metrics/health surface listens on.
type Config struct {
	RepoPath        string
	DBPath          string
	CommitterName   string
	CommitterEmail  string
	MetricsPort     int
	Dev             bool
}

// Default mirrors §6's persisted-state layout: <project>/config-repo and
// <project>/data/<service>.db relative to the working directory.
func Default() Config {
	return Config{
		RepoPath:       "config-repo",
		DBPath:         "data/confgov.db",
		CommitterName:  "Config Governance",
		CommitterEmail: "noreply@confgov.local",
		MetricsPort:    8080,
		Dev:            false,
	}
}

// ParseFlags parses args against a fresh FlagSet seeded from environment
// variables, then flags; flags win when both are set. This mirrors the
// reference tool's flag.StringVar/flag.BoolVar block in cmd/main.go,
// adapted to also accept CONFGOV_* environment overrides so the service
// can run unmodified under a process supervisor.
func ParseFlags(args []string) (Config, error) {
	cfg := Default()
	applyEnv(&cfg)

	fs := flag.NewFlagSet("confgovd", flag.ContinueOnError)
	fs.StringVar(&cfg.RepoPath, "repo-path", cfg.RepoPath, "Path to the on-disk git configuration repository.")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the sqlite metadata database.")
	fs.StringVar(&cfg.CommitterName, "committer-name", cfg.CommitterName, "Git committer name for service-generated commits.")
	fs.StringVar(&cfg.CommitterEmail, "committer-email", cfg.CommitterEmail, "Git committer email for service-generated commits.")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "The port for the metrics server.")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "Enable development-mode (console) logging.")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONFGOV_REPO_PATH"); v != "" {
		cfg.RepoPath = v
	}
	if v := os.Getenv("CONFGOV_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONFGOV_COMMITTER_NAME"); v != "" {
		cfg.CommitterName = v
	}
	if v := os.Getenv("CONFGOV_COMMITTER_EMAIL"); v != "" {
		cfg.CommitterEmail = v
	}
	if v := os.Getenv("CONFGOV_DEV"); v == "true" {
		cfg.Dev = true
	}
}
