// Package exprcache persists a normalized expression matrix as a
// zstd-compressed binary blob keyed by the inputs it was derived from.
package exprcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
)

var (
	// ErrStale means the cache was built from different inputs.
	ErrStale = errors.New("expression cache is stale")
	// ErrCorrupt means the cache could not be decoded.
	ErrCorrupt = errors.New("expression cache is corrupt")
)

const (
	magic   = "KNQC"
	version = uint32(1)

	// FileName is the cache file placed next to the matrix.
	FileName = "nuclearqc.normalized.bin.zst"
)

// PathFor returns the cache location for a matrix file.
func PathFor(matrixPath string) string {
	return filepath.Join(filepath.Dir(matrixPath), FileName)
}

// KeyFor hashes the content of every input file plus the normalization
// scale.
func KeyFor(paths []string, scale float64) (string, error) {
	h := sha256.New()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", p, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", p, err)
		}
		h.Write([]byte{0})
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(scale))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil)), nil
}

type header struct {
	Magic   [4]byte
	Version uint32
	Key     [32]byte
	NGenes  uint64
	NCells  uint64
	NNZ     uint64
}

// Write encodes m under key and replaces path atomically.
func Write(path, key string, m *matrix.Matrix) error {
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("invalid cache key %q", key)
	}
	colPtr, rows, values := m.Raw()

	var buf bytes.Buffer
	h := header{Version: version, NGenes: uint64(m.NGenes()), NCells: uint64(m.NCells()), NNZ: uint64(len(rows))}
	copy(h.Magic[:], magic)
	copy(h.Key[:], raw)
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to encode cache header: %w", err)
	}
	ptr := make([]uint64, len(colPtr))
	for i, p := range colPtr {
		ptr[i] = uint64(p)
	}
	for _, v := range []any{ptr, rows, values} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to encode cache body: %w", err)
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(buf.Bytes(), nil)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move cache into place: %w", err)
	}
	return nil
}

// Read decodes the cache at path. It returns ErrStale when the stored key
// differs from key and ErrCorrupt when the blob cannot be decoded.
func Read(path, key string) (*matrix.Matrix, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decompress failed: %v", ErrCorrupt, err)
	}

	r := bytes.NewReader(data)
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if string(h.Magic[:]) != magic || h.Version != version {
		return nil, fmt.Errorf("%w: unexpected magic or version", ErrCorrupt)
	}
	if hex.EncodeToString(h.Key[:]) != key {
		return nil, ErrStale
	}
	// Body sizes must fit the remaining bytes before anything is allocated.
	need := (h.NCells+1)*8 + h.NNZ*4 + h.NNZ*8
	if h.NCells > uint64(r.Len()) || h.NNZ > uint64(r.Len()) || need != uint64(r.Len()) {
		return nil, fmt.Errorf("%w: body size mismatch", ErrCorrupt)
	}

	ptr := make([]uint64, h.NCells+1)
	rows := make([]int32, h.NNZ)
	values := make([]float64, h.NNZ)
	for _, v := range []any{ptr, rows, values} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: truncated body", ErrCorrupt)
		}
	}
	colPtr := make([]int, len(ptr))
	for i, p := range ptr {
		colPtr[i] = int(p)
	}
	m, err := matrix.FromCSC(int(h.NGenes), int(h.NCells), colPtr, rows, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return m, nil
}
