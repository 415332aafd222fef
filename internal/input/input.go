// Package input discovers and parses 10x-style MatrixMarket directories.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
)

var (
	// ErrMissingInput is returned when a required file is absent.
	ErrMissingInput = errors.New("missing input")
	// ErrMalformed is returned for any parse error.
	ErrMalformed = errors.New("malformed input")
)

// Files are the resolved paths of one input directory.
type Files struct {
	Matrix   string
	Features string
	Barcodes string
}

// Paths returns the files in a fixed order.
func (f Files) Paths() []string {
	return []string{f.Matrix, f.Features, f.Barcodes}
}

func firstExisting(dir string, names ...string) (string, error) {
	for _, n := range names {
		p := filepath.Join(dir, n)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrMissingInput, strings.Join(names, " or "), dir)
}

// Discover locates the matrix, features and barcodes files in dir.
func Discover(dir string) (Files, error) {
	var f Files
	var err error
	if f.Matrix, err = firstExisting(dir, "matrix.mtx", "matrix.mtx.gz"); err != nil {
		return Files{}, err
	}
	if f.Features, err = firstExisting(dir, "features.tsv", "features.tsv.gz", "genes.tsv", "genes.tsv.gz"); err != nil {
		return Files{}, err
	}
	if f.Barcodes, err = firstExisting(dir, "barcodes.tsv", "barcodes.tsv.gz"); err != nil {
		return Files{}, err
	}
	return f, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open opens a plain or gzip-compressed file by extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return &readCloser{Reader: zr, closers: []io.Closer{f, zr}}, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return sc
}

// Loader reads a full input directory into a dataset.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a loader that reports recoverable oddities to logger.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// Load parses the files and optional metadata. The returned dataset holds
// raw counts with library sizes filled in.
func (l *Loader) Load(files Files, metaPath string) (*matrix.Dataset, error) {
	symbols, err := ReadFeatures(files.Features)
	if err != nil {
		return nil, err
	}
	barcodes, err := ReadBarcodes(files.Barcodes)
	if err != nil {
		return nil, err
	}
	m, err := ReadMTX(files.Matrix, len(symbols), len(barcodes))
	if err != nil {
		return nil, err
	}

	species := DetectSpecies(symbols)
	l.logger.Info("input parsed",
		zap.Int("genes", len(symbols)),
		zap.Int("cells", len(barcodes)),
		zap.String("species", species.String()))

	ds := &matrix.Dataset{
		Matrix:   m,
		Genes:    matrix.NewGeneIndex(symbols, species),
		Barcodes: barcodes,
	}
	if metaPath != "" {
		meta, err := l.LoadMeta(metaPath, barcodes)
		if err != nil {
			return nil, err
		}
		ds.Meta = meta
	}
	ds.RawStats()
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
