package input

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
)

const mtxHeader = "%%MatrixMarket"

// ReadMTX parses a coordinate MatrixMarket file of genes x cells. nGenes and
// nCells are the feature and barcode counts the size line must agree with.
func ReadMTX(path string, nGenes, nCells int) (*matrix.Matrix, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sc := newScanner(rc)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read matrix %s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: matrix %s is empty", ErrMalformed, path)
	}
	if !strings.HasPrefix(sc.Text(), mtxHeader) {
		return nil, fmt.Errorf("%w: %s is missing the MatrixMarket header", ErrMalformed, path)
	}

	line := 1
	var rows, cols, nnz int
	sized := false
	for !sized && sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '%' {
			continue
		}
		f := strings.Fields(text)
		if len(f) < 3 {
			return nil, fmt.Errorf("%w: invalid matrix size line %d", ErrMalformed, line)
		}
		if rows, err = strconv.Atoi(f[0]); err == nil {
			if cols, err = strconv.Atoi(f[1]); err == nil {
				nnz, err = strconv.Atoi(f[2])
			}
		}
		if err != nil || rows < 0 || cols < 0 || nnz < 0 {
			return nil, fmt.Errorf("%w: invalid matrix size line %d", ErrMalformed, line)
		}
		sized = true
	}
	if !sized {
		return nil, fmt.Errorf("%w: %s has no size line", ErrMalformed, path)
	}
	if rows != nGenes {
		return nil, fmt.Errorf("%w: matrix row count %d does not match features %d", matrix.ErrDimensionMismatch, rows, nGenes)
	}
	if cols != nCells {
		return nil, fmt.Errorf("%w: matrix column count %d does not match barcodes %d", matrix.ErrDimensionMismatch, cols, nCells)
	}

	b := matrix.NewBuilder(rows, cols)
	entries := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '%' {
			continue
		}
		f := strings.Fields(text)
		if len(f) < 3 {
			return nil, fmt.Errorf("%w: invalid matrix entry at line %d", ErrMalformed, line)
		}
		r, err1 := strconv.Atoi(f[0])
		c, err2 := strconv.Atoi(f[1])
		v, err3 := strconv.ParseFloat(f[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("%w: invalid matrix entry at line %d", ErrMalformed, line)
		}
		if r < 1 || r > rows || c < 1 || c > cols {
			return nil, fmt.Errorf("%w: matrix entry out of bounds at line %d", ErrMalformed, line)
		}
		entries++
		if err := b.Add(r-1, c-1, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matrix %s: %w", path, err)
	}
	if entries != nnz {
		return nil, fmt.Errorf("%w: matrix declares %d entries but has %d", ErrMalformed, nnz, entries)
	}
	return b.Build(), nil
}
