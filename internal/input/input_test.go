package input

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if filepath.Ext(name) == ".gz" {
		f, err := os.Create(p)
		require.NoError(t, err)
		zw := gzip.NewWriter(f)
		_, err = zw.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())
		return p
	}
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const features = "ENSG01\tHLA-A\tGene Expression\n" +
	"ENSG02\tHLA-B\tGene Expression\n" +
	"ENSG03\thla-c\tGene Expression\n" +
	"ENSG04.7\t\tGene Expression\n"

const barcodes = "AAAC-1\nAAAG-1\nAAAT-1\n"

const mtx = "%%MatrixMarket matrix coordinate integer general\n" +
	"% generated\n" +
	"4 3 5\n" +
	"1 1 3\n" +
	"2 1 1\n" +
	"1 1 2\n" +
	"3 2 4\n" +
	"4 3 0\n"

func tenxDir(t *testing.T, gz bool) string {
	t.Helper()
	dir := t.TempDir()
	suffix := ""
	if gz {
		suffix = ".gz"
	}
	writeFile(t, dir, "features.tsv"+suffix, features)
	writeFile(t, dir, "barcodes.tsv"+suffix, barcodes)
	writeFile(t, dir, "matrix.mtx"+suffix, mtx)
	return dir
}

func TestLoad(t *testing.T) {
	for _, gz := range []bool{false, true} {
		dir := tenxDir(t, gz)
		files, err := Discover(dir)
		require.NoError(t, err)

		ds, err := NewLoader(zap.NewNop()).Load(files, "")
		require.NoError(t, err)

		assert.Equal(t, 4, ds.Genes.Len())
		assert.Equal(t, "HLA-C", ds.Genes.Symbol(2))
		assert.Equal(t, "ENSG04", ds.Genes.Symbol(3))
		assert.Equal(t, matrix.SpeciesHuman, ds.Genes.Species())
		assert.Equal(t, []string{"AAAC-1", "AAAG-1", "AAAT-1"}, ds.Barcodes)

		// Duplicates are summed and zeros skipped.
		assert.Equal(t, []float64{6, 4, 0}, ds.LibSizes)
		assert.Equal(t, []int{2, 1, 0}, ds.NNZ)
	}
}

func TestDiscover_Missing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "matrix.mtx", mtx)
	writeFile(t, dir, "barcodes.tsv", barcodes)
	_, err := Discover(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingInput))
	assert.Contains(t, err.Error(), "features.tsv")
}

func TestDiscover_GenesFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "matrix.mtx", mtx)
	writeFile(t, dir, "genes.tsv", features)
	writeFile(t, dir, "barcodes.tsv", barcodes)
	files, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "genes.tsv"), files.Features)
}

func TestReadMTX_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no header", "4 3 0\n", ErrMalformed},
		{"row mismatch", "%%MatrixMarket matrix coordinate integer general\n5 3 0\n", matrix.ErrDimensionMismatch},
		{"col mismatch", "%%MatrixMarket matrix coordinate integer general\n4 2 0\n", matrix.ErrDimensionMismatch},
		{"out of range", "%%MatrixMarket matrix coordinate integer general\n4 3 1\n5 1 1\n", ErrMalformed},
		{"zero index", "%%MatrixMarket matrix coordinate integer general\n4 3 1\n0 1 1\n", ErrMalformed},
		{"nnz mismatch", "%%MatrixMarket matrix coordinate integer general\n4 3 2\n1 1 1\n", ErrMalformed},
		{"bad value", "%%MatrixMarket matrix coordinate integer general\n4 3 1\n1 1 x\n", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "matrix.mtx", tt.body)
			_, err := ReadMTX(p, 4, 3)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestReadMTX_RowMismatchMessage(t *testing.T) {
	p := writeFile(t, t.TempDir(), "matrix.mtx", "%%MatrixMarket matrix coordinate integer general\n5 3 0\n")
	_, err := ReadMTX(p, 4, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix row count 5 does not match features 4")
}

func TestLoadMeta(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "meta.tsv",
		"sample\tbarcode\tcondition\tambient_rna_risk\n"+
			"s1\tAAAC-1\tctrl\tyes\n"+
			"s2\tAAAC-1\ttreated\tno\n"+
			"s3\tAAAT-1\ttreated\t0\n"+
			"s9\tUNKNOWN\tctrl\ttrue\n")

	meta, err := NewLoader(nil).LoadMeta(p, []string{"AAAC-1", "AAAG-1", "AAAT-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "", "s3"}, meta.Sample)
	assert.Equal(t, []string{"ctrl", "", "treated"}, meta.Condition)
	assert.Equal(t, []bool{true, false, false}, meta.AmbientRisk)
}

func TestDetectSpecies(t *testing.T) {
	tests := []struct {
		name    string
		symbols []string
		want    matrix.Species
	}{
		{"human", []string{"HLA-A", "HLA-B", "HLA-C", "ACTB"}, matrix.SpeciesHuman},
		{"mouse", []string{"H2-K1", "H2-D1", "H2-AA", "ACTB"}, matrix.SpeciesMouse},
		{"too few", []string{"HLA-A", "HLA-B"}, matrix.SpeciesUnknown},
		{"no lead", []string{"HLA-A", "HLA-B", "HLA-C", "H2-K1", "H2-D1"}, matrix.SpeciesUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectSpecies(tt.symbols))
		})
	}
}
