// Package matrix holds the sparse expression matrix and its gene and barcode
// indices.
package matrix

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch reports a structural disagreement between the matrix
// and its indices. It is always fatal for a run.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Matrix is an immutable genes x cells sparse matrix stored column-major:
// the non-zero entries of cell c are rows[colPtr[c]:colPtr[c+1]].
type Matrix struct {
	nGenes int
	nCells int
	colPtr []int
	rows   []int32
	values []float64
}

// NGenes returns the number of gene rows.
func (m *Matrix) NGenes() int { return m.nGenes }

// NCells returns the number of cell columns.
func (m *Matrix) NCells() int { return m.nCells }

// Column returns the row indices and values of one cell. The returned slices
// alias the matrix and must not be modified.
func (m *Matrix) Column(cell int) ([]int32, []float64) {
	lo, hi := m.colPtr[cell], m.colPtr[cell+1]
	return m.rows[lo:hi:hi], m.values[lo:hi:hi]
}

// NNZ returns the number of stored entries of one cell.
func (m *Matrix) NNZ(cell int) int {
	return m.colPtr[cell+1] - m.colPtr[cell]
}

// LibSize returns the sum of a cell's values.
func (m *Matrix) LibSize(cell int) float64 {
	_, vals := m.Column(cell)
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

// Normalize returns a new matrix with ln1p(v / libsize * scale) per entry.
// Cells with a zero library size keep no entries.
func (m *Matrix) Normalize(scale float64) *Matrix {
	out := &Matrix{
		nGenes: m.nGenes,
		nCells: m.nCells,
		colPtr: make([]int, m.nCells+1),
		rows:   make([]int32, 0, len(m.rows)),
		values: make([]float64, 0, len(m.values)),
	}
	for c := 0; c < m.nCells; c++ {
		rows, vals := m.Column(c)
		lib := m.LibSize(c)
		if lib > 0 {
			for i, v := range vals {
				nv := math.Log1p(v / lib * scale)
				if nv == 0 {
					continue
				}
				out.rows = append(out.rows, rows[i])
				out.values = append(out.values, nv)
			}
		}
		out.colPtr[c+1] = len(out.rows)
	}
	return out
}

// Raw exposes the CSC arrays for serialization. The slices alias the matrix.
func (m *Matrix) Raw() (colPtr []int, rows []int32, values []float64) {
	return m.colPtr, m.rows, m.values
}

// FromCSC builds a matrix from CSC arrays after validating them.
func FromCSC(nGenes, nCells int, colPtr []int, rows []int32, values []float64) (*Matrix, error) {
	if len(colPtr) != nCells+1 {
		return nil, fmt.Errorf("%w: column pointer length %d for %d cells", ErrDimensionMismatch, len(colPtr), nCells)
	}
	if len(rows) != len(values) {
		return nil, fmt.Errorf("%w: %d row indices for %d values", ErrDimensionMismatch, len(rows), len(values))
	}
	if colPtr[0] != 0 || colPtr[nCells] != len(rows) {
		return nil, fmt.Errorf("%w: column pointers do not span %d entries", ErrDimensionMismatch, len(rows))
	}
	for c := 0; c < nCells; c++ {
		if colPtr[c+1] < colPtr[c] {
			return nil, fmt.Errorf("%w: column pointers decrease at cell %d", ErrDimensionMismatch, c)
		}
	}
	for _, r := range rows {
		if r < 0 || int(r) >= nGenes {
			return nil, fmt.Errorf("%w: row index %d outside %d genes", ErrDimensionMismatch, r, nGenes)
		}
	}
	return &Matrix{nGenes: nGenes, nCells: nCells, colPtr: colPtr, rows: rows, values: values}, nil
}

type entry struct {
	row int32
	val float64
}

// Builder accumulates (gene, cell, value) triplets. Zeros are dropped and
// duplicate coordinates are summed.
type Builder struct {
	nGenes int
	nCells int
	cols   [][]entry
}

// NewBuilder creates a builder for a genes x cells matrix.
func NewBuilder(nGenes, nCells int) *Builder {
	return &Builder{nGenes: nGenes, nCells: nCells, cols: make([][]entry, nCells)}
}

// Add records one entry. Indices are 0-based.
func (b *Builder) Add(gene, cell int, value float64) error {
	if gene < 0 || gene >= b.nGenes || cell < 0 || cell >= b.nCells {
		return fmt.Errorf("entry (%d, %d) outside %dx%d matrix", gene, cell, b.nGenes, b.nCells)
	}
	if value == 0 {
		return nil
	}
	b.cols[cell] = append(b.cols[cell], entry{row: int32(gene), val: value})
	return nil
}

// Build sorts each column by row, merges duplicates and returns the matrix.
func (b *Builder) Build() *Matrix {
	m := &Matrix{nGenes: b.nGenes, nCells: b.nCells, colPtr: make([]int, b.nCells+1)}
	for c, col := range b.cols {
		sort.SliceStable(col, func(i, j int) bool { return col[i].row < col[j].row })
		for i := 0; i < len(col); {
			row, sum := col[i].row, col[i].val
			j := i + 1
			for ; j < len(col) && col[j].row == row; j++ {
				sum += col[j].val
			}
			if sum != 0 {
				m.rows = append(m.rows, row)
				m.values = append(m.values, sum)
			}
			i = j
		}
		m.colPtr[c+1] = len(m.rows)
		b.cols[c] = nil
	}
	return m
}
