package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ARyaskov/kira-nuclearqc/internal/pipeline"
	"github.com/ARyaskov/kira-nuclearqc/internal/report"
	"github.com/ARyaskov/kira-nuclearqc/internal/scorestore"
)

type runFlags struct {
	input           string
	out             string
	mode            string
	meta            string
	normalize       bool
	cacheNormalized bool
	profile         string
	strictNuclear   bool
	runMode         string
	panels          string
	keyPanels       []string
	store           bool
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score one input directory and write reports",
		Example: `  nuclearqc run --input ./filtered_feature_bc_matrix --out ./qc
  nuclearqc run --input ./data --out ./qc --mode sample --meta meta.tsv --profile immune_v1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, a)
			return a.run(cmd)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "Input directory with matrix.mtx, features/genes.tsv and barcodes.tsv")
	fl.StringVarP(&f.out, "out", "o", "", "Output directory")
	fl.StringVar(&f.mode, "mode", "cell", "Report mode: cell or sample")
	fl.StringVar(&f.meta, "meta", "", "Optional per-barcode metadata TSV")
	fl.BoolVar(&f.normalize, "normalize", false, "Log-normalize counts before scoring")
	fl.BoolVar(&f.cacheNormalized, "cache-normalized", false, "Reuse or write the normalized expression cache")
	fl.StringVar(&f.profile, "profile", "default_v1", "Scoring profile: default_v1 or immune_v1")
	fl.BoolVar(&f.strictNuclear, "strict-nuclear", false, "Force strict-bulk scoring with absolute activation")
	fl.StringVar(&f.runMode, "run-mode", "standalone", "standalone, or pipeline to write under a kira-nuclearqc/ subdirectory")
	fl.StringVar(&f.panels, "panels", "", "YAML file replacing the builtin panels")
	fl.StringSliceVar(&f.keyPanels, "key-panels", nil, "Panel ids used for key-panel coverage")
	fl.BoolVar(&f.store, "store", false, "Archive the run in the results store")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f *runFlags) apply(cmd *cobra.Command, a *app) {
	c := a.cfg
	set := cmd.Flags().Changed
	if set("input") {
		c.Input.Dir = f.input
	}
	if set("out") {
		c.Output.Dir = f.out
	}
	if set("mode") {
		c.Output.Mode = f.mode
	}
	if set("meta") {
		c.Input.Meta = f.meta
	}
	if set("normalize") {
		c.Input.Normalize = f.normalize
	}
	if set("cache-normalized") {
		c.Input.CacheNormalized = f.cacheNormalized
	}
	if set("profile") {
		c.Scoring.Profile = f.profile
	}
	if set("strict-nuclear") {
		c.Scoring.StrictNuclear = f.strictNuclear
	}
	if set("run-mode") {
		c.Output.RunMode = f.runMode
	}
	if set("panels") {
		c.Panels.File = f.panels
	}
	if set("key-panels") {
		c.Panels.KeyPanels = f.keyPanels
	}
	if set("store") {
		c.Store.Enabled = f.store
	}
}

func (a *app) run(cmd *cobra.Command) error {
	c := a.cfg
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Input.Dir == "" {
		return fmt.Errorf("--input is required")
	}
	// Profile errors are fatal before any input is read.
	prof, err := c.ResolveProfile()
	if err != nil {
		return err
	}

	var store *scorestore.Store
	if c.Store.Enabled {
		if store, err = scorestore.NewStore(c.Store.Path); err != nil {
			return fmt.Errorf("failed to open results store: %w", err)
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Store:   store,
		Logger:  a.logger,
		Version: version,
		GitHash: gitHash,
	})
	out, err := runner.Run(ctx, pipeline.Options{
		InputDir:        c.Input.Dir,
		MetaPath:        c.Input.Meta,
		OutDir:          c.Output.Dir,
		Mode:            report.Mode(c.Output.Mode),
		RunMode:         report.RunMode(c.Output.RunMode),
		Profile:         prof,
		Normalize:       c.Input.Normalize,
		CacheNormalized: c.Input.CacheNormalized,
		PanelsFile:      c.Panels.File,
		KeyPanels:       c.Panels.KeyPanels,
	})
	if err != nil {
		return err
	}

	a.logger.Debug("reports written", zap.String("dir", out.OutputDir), zap.String("run_id", out.RunID))
	fmt.Fprintf(cmd.OutOrStdout(), "%d cells scored with %s in %s; reports in %s\n",
		len(out.Result.Cells), prof.Name, out.Duration.Round(time.Millisecond), out.OutputDir)
	return nil
}
