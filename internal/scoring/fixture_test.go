package scoring

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
	"github.com/ARyaskov/kira-nuclearqc/internal/panels"
)

// builtinSymbols returns every builtin panel gene once, followed by filler
// genes that belong to no panel.
func builtinSymbols(filler int) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range panels.Builtin() {
		for _, g := range d.Genes {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	for i := 0; i < filler; i++ {
		out = append(out, fmt.Sprintf("FILL%d", i))
	}
	return out
}

// newDataset builds a dataset from per-cell symbol->value maps.
func newDataset(t *testing.T, symbols []string, cells []map[string]float64, samples []string) *matrix.Dataset {
	t.Helper()
	genes := matrix.NewGeneIndex(symbols, matrix.SpeciesHuman)
	b := matrix.NewBuilder(len(symbols), len(cells))
	barcodes := make([]string, len(cells))
	for c, vals := range cells {
		barcodes[c] = fmt.Sprintf("CELL%03d-1", c)
		for sym, v := range vals {
			row, ok := genes.Lookup(sym)
			require.True(t, ok, "unknown symbol %s", sym)
			require.NoError(t, b.Add(row, c, v))
		}
	}
	ds := &matrix.Dataset{
		Matrix:   b.Build(),
		Genes:    genes,
		Barcodes: barcodes,
		Meta:     matrix.CellMeta{Sample: samples},
	}
	ds.RawStats()
	return ds
}

// randomCells draws sparse positive expression over symbols.
func randomCells(seed int64, symbols []string, n int) []map[string]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]map[string]float64, n)
	for c := range out {
		vals := map[string]float64{}
		density := 0.1 + 0.8*rng.Float64()
		for _, s := range symbols {
			if rng.Float64() < density {
				vals[s] = float64(1 + rng.Intn(20))
			}
		}
		out[c] = vals
	}
	return out
}

func builtinSet(t *testing.T, symbols []string) *panels.Set {
	t.Helper()
	return panels.Resolve(panels.Builtin(), matrix.NewGeneIndex(symbols, matrix.SpeciesHuman))
}
