package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
	"github.com/ARyaskov/kira-nuclearqc/internal/report"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nuclearqc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeInput(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var symbols []string
	seen := map[string]bool{}
	for _, d := range panels.Builtin() {
		for _, g := range d.Genes {
			if !seen[g] {
				seen[g] = true
				symbols = append(symbols, g)
			}
		}
	}

	var features, barcodes, entries strings.Builder
	for i, s := range symbols {
		fmt.Fprintf(&features, "ENSG%011d\t%s\n", i+1, s)
	}
	nnz := 0
	for c := 0; c < 5; c++ {
		fmt.Fprintf(&barcodes, "AC%02d-1\n", c)
		for g := range symbols {
			if (g+2*c)%5 != 0 {
				fmt.Fprintf(&entries, "%d %d %d\n", g+1, c+1, 1+(g+c)%6)
				nnz++
			}
		}
	}
	mtx := fmt.Sprintf("%%%%MatrixMarket matrix coordinate integer general\n%d %d %d\n%s", len(symbols), 5, nnz, entries.String())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "matrix.mtx"), []byte(mtx), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "genes.tsv"), []byte(features.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "barcodes.tsv"), []byte(barcodes.String()), 0o644))
	return dir
}

func TestProfilesCommand_List(t *testing.T) {
	out, err := execute(t, "profiles", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "default_v1")
	assert.Contains(t, out, "immune_v1")
	assert.Contains(t, out, "immune-aware")
}

func TestProfilesCommand_PrintsOverriddenYAML(t *testing.T) {
	cfg := writeConfig(t, `
scoring:
  profile: immune_v1
  overrides:
    axes:
      min_expr_genes: 42
`)
	out, err := execute(t, "profiles", "immune_v1", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "name: immune_v1")
	assert.Contains(t, out, "min_expr_genes: 42")

	// Overrides belong to the configured profile only.
	out, err = execute(t, "profiles", "default_v1", "--config", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, "min_expr_genes: 42")

	_, err = execute(t, "profiles", "nope_v9", "--config", cfg)
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	in := writeInput(t)
	outDir := t.TempDir()
	cfg := writeConfig(t, "log:\n  level: warn\n")

	out, err := execute(t, "run", "--config", cfg, "--input", in, "--out", outDir, "--profile", "immune_v1", "--normalize")
	require.NoError(t, err)
	assert.Contains(t, out, "5 cells scored with immune_v1")

	for _, name := range []string{report.CellFile, report.SummaryFile, report.TextFile, report.PanelsFile} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunCommand_Errors(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, "run", "--config", cfg)
	assert.ErrorContains(t, err, "--input is required")

	_, err = execute(t, "run", "--config", cfg, "--input", t.TempDir(), "--mode", "bulk")
	assert.ErrorContains(t, err, "output.mode")

	_, err = execute(t, "run", "--config", cfg, "--input", t.TempDir(), "--profile", "nope_v9")
	assert.Error(t, err)
}
