package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
	"github.com/ARyaskov/kira-nuclearqc/internal/pipeline"
	"github.com/ARyaskov/kira-nuclearqc/internal/scorestore"
)

const fixtureCells = 8

// writeInput writes a small 10x directory covering the builtin panels.
func writeInput(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	seen := map[string]bool{}
	var symbols []string
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
		fmt.Fprintf(&features, "ENSG%011d\t%s\tGene Expression\n", i+1, s)
	}
	nnz := 0
	for c := 0; c < fixtureCells; c++ {
		fmt.Fprintf(&barcodes, "CELL%02d-1\n", c)
		for g := range symbols {
			if (g+c)%3 != 0 {
				fmt.Fprintf(&entries, "%d %d %d\n", g+1, c+1, 1+(g*c)%7)
				nnz++
			}
		}
	}
	mtx := fmt.Sprintf("%%%%MatrixMarket matrix coordinate integer general\n%d %d %d\n%s",
		len(symbols), fixtureCells, nnz, entries.String())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "matrix.mtx"), []byte(mtx), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "features.tsv"), []byte(features.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "barcodes.tsv"), []byte(barcodes.String()), 0o644))
	return dir
}

func newStore(t *testing.T) *scorestore.Store {
	t.Helper()
	store, err := scorestore.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	return store
}

func newManager(store *scorestore.Store) *RunManager {
	runner := pipeline.NewRunner(pipeline.RunnerConfig{Store: store, Logger: zap.NewNop(), Version: "test"})
	return NewRunManager(RunManagerConfig{Workers: 1, Logger: zap.NewNop()}, store, runner)
}

// waitFinished polls until the run reaches a terminal status.
func waitFinished(t *testing.T, store *scorestore.Store, id string) *scorestore.Run {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.GetRun(id)
		require.NoError(t, err)
		if run.Status.Finished() {
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return nil
}
