// Package main is the entry point for the nuclearqc command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ARyaskov/kira-nuclearqc/internal/config"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

// Set at build time with -ldflags "-X main.version=... -X main.gitHash=...".
var (
	version = "dev"
	gitHash = ""
)

// app holds state shared by the subcommands of one invocation.
type app struct {
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "nuclearqc",
		Short: "Nuclear transcriptional state scoring for single-cell data",
		Long: `nuclearqc scores every cell of a 10x expression matrix on twelve nuclear
state axes, three composites and a confidence estimate, assigns a regime
and quality flags, and writes TSV, JSON and text reports.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "nuclearqc.yaml", "Path to configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newRunCmd(a), newServeCmd(a), newProfilesCmd(a))
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	zcfg := zap.NewProductionConfig()
	if cfg.Log.Development || a.verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	if a.verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	a.logger, err = zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// resolveProfile resolves a profile by name. The configured overrides only
// apply to the configured profile.
func (a *app) resolveProfile(name string, strictNuclear bool) (*profile.Profile, error) {
	if name == "" || name == a.cfg.Scoring.Profile {
		c := *a.cfg
		c.Scoring.StrictNuclear = c.Scoring.StrictNuclear || strictNuclear
		return c.ResolveProfile()
	}
	return profile.Resolve(name, strictNuclear, nil)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
