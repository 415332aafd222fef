package matrix

import "fmt"

// CellMeta carries optional per-cell annotations.
type CellMeta struct {
	Sample      []string
	Condition   []string
	AmbientRisk []bool
}

// Dataset bundles a matrix with the indices that describe it.
type Dataset struct {
	Matrix     *Matrix
	Genes      *GeneIndex
	Barcodes   []string
	Normalized bool
	Meta       CellMeta
	// LibSizes and NNZ describe the raw counts before normalization.
	LibSizes []float64
	NNZ      []int
}

// Validate checks the structural agreement of matrix and indices.
func (d *Dataset) Validate() error {
	if d.Matrix == nil || d.Genes == nil {
		return fmt.Errorf("%w: dataset is missing its matrix or gene index", ErrDimensionMismatch)
	}
	if d.Matrix.NGenes() != d.Genes.Len() {
		return fmt.Errorf("%w: matrix row count %d does not match features %d", ErrDimensionMismatch, d.Matrix.NGenes(), d.Genes.Len())
	}
	if d.Matrix.NCells() != len(d.Barcodes) {
		return fmt.Errorf("%w: matrix column count %d does not match barcodes %d", ErrDimensionMismatch, d.Matrix.NCells(), len(d.Barcodes))
	}
	n := len(d.Barcodes)
	if d.LibSizes != nil && len(d.LibSizes) != n {
		return fmt.Errorf("%w: %d library sizes for %d cells", ErrDimensionMismatch, len(d.LibSizes), n)
	}
	if d.NNZ != nil && len(d.NNZ) != n {
		return fmt.Errorf("%w: %d nnz counts for %d cells", ErrDimensionMismatch, len(d.NNZ), n)
	}
	for name, col := range map[string]int{
		"sample":    len(d.Meta.Sample),
		"condition": len(d.Meta.Condition),
		"ambient":   len(d.Meta.AmbientRisk),
	} {
		if col != 0 && col != n {
			return fmt.Errorf("%w: %d %s values for %d cells", ErrDimensionMismatch, col, name, n)
		}
	}
	return nil
}

// RawStats fills LibSizes and NNZ from the current matrix.
func (d *Dataset) RawStats() {
	n := d.Matrix.NCells()
	d.LibSizes = make([]float64, n)
	d.NNZ = make([]int, n)
	for c := 0; c < n; c++ {
		d.LibSizes[c] = d.Matrix.LibSize(c)
		d.NNZ[c] = d.Matrix.NNZ(c)
	}
}

// SampleOf returns the sample label of a cell, or "" without metadata.
func (d *Dataset) SampleOf(cell int) string {
	if cell < len(d.Meta.Sample) {
		return d.Meta.Sample[cell]
	}
	return ""
}

// ConditionOf returns the condition label of a cell.
func (d *Dataset) ConditionOf(cell int) string {
	if cell < len(d.Meta.Condition) {
		return d.Meta.Condition[cell]
	}
	return ""
}

// AmbientRiskOf returns the ambient-RNA risk input flag of a cell.
func (d *Dataset) AmbientRiskOf(cell int) bool {
	if cell < len(d.Meta.AmbientRisk) {
		return d.Meta.AmbientRisk[cell]
	}
	return false
}
