package exprcache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
)

func sampleMatrix(t *testing.T) *matrix.Matrix {
	t.Helper()
	b := matrix.NewBuilder(4, 3)
	require.NoError(t, b.Add(0, 0, 1.5))
	require.NoError(t, b.Add(3, 0, 0.25))
	require.NoError(t, b.Add(2, 2, 7))
	return b.Build()
}

func inputs(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	var out []string
	for name, body := range map[string]string{"a.mtx": "matrix", "b.tsv": "features"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		out = append(out, p)
	}
	return out
}

func TestWriteRead(t *testing.T) {
	files := inputs(t)
	key, err := KeyFor(files, 10000)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), FileName)
	m := sampleMatrix(t)
	require.NoError(t, Write(path, key, m))

	got, err := Read(path, key)
	require.NoError(t, err)
	assert.Equal(t, m.NGenes(), got.NGenes())
	assert.Equal(t, m.NCells(), got.NCells())

	wantPtr, wantRows, wantVals := m.Raw()
	gotPtr, gotRows, gotVals := got.Raw()
	if diff := cmp.Diff(wantPtr, gotPtr); diff != "" {
		t.Errorf("colPtr mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantRows, gotRows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantVals, gotVals); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_Stale(t *testing.T) {
	files := inputs(t)
	key, err := KeyFor(files, 10000)
	require.NoError(t, err)
	other, err := KeyFor(files, 1000)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Write(path, key, sampleMatrix(t)))
	_, err = Read(path, other)
	assert.True(t, errors.Is(err, ErrStale), "got %v", err)
}

func TestRead_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("not zstd at all"), 0o644))
	_, err := Read(path, "00")
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope"), "00")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestKeyFor_ContentSensitive(t *testing.T) {
	files := inputs(t)
	k1, err := KeyFor(files, 10000)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(files[0], []byte("changed"), 0o644))
	k2, err := KeyFor(files, 10000)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}
