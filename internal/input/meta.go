package input

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
)

// LoadMeta reads a per-cell metadata TSV and aligns it to barcodes. The
// header names a barcode column plus optional sample, condition and
// ambient_rna_risk columns. Unknown barcodes get empty values.
func (l *Loader) LoadMeta(path string, barcodes []string) (matrix.CellMeta, error) {
	rc, err := Open(path)
	if err != nil {
		return matrix.CellMeta{}, err
	}
	defer rc.Close()

	sc := newScanner(rc)
	if !sc.Scan() {
		return matrix.CellMeta{}, fmt.Errorf("%w: meta file %s is empty", ErrMalformed, path)
	}
	header := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
	barcodeCol, sampleCol, conditionCol, ambientCol := 0, -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "barcode", "barcodes":
			barcodeCol = i
		case "sample":
			sampleCol = i
		case "condition":
			conditionCol = i
		case "ambient_rna_risk":
			ambientCol = i
		}
	}

	type row struct {
		sample, condition string
		ambient           bool
	}
	rows := make(map[string]row)
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		get := func(i int) string {
			if i < 0 || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}
		bc := get(barcodeCol)
		if bc == "" {
			l.logger.Warn("meta line has no barcode, skipping", zap.Int("line", line))
			continue
		}
		if _, dup := rows[bc]; dup {
			l.logger.Warn("duplicate barcode in metadata, keeping first", zap.Int("line", line), zap.String("barcode", bc))
			continue
		}
		rows[bc] = row{sample: get(sampleCol), condition: get(conditionCol), ambient: parseBool(get(ambientCol))}
	}
	if err := sc.Err(); err != nil {
		return matrix.CellMeta{}, fmt.Errorf("failed to read meta %s: %w", path, err)
	}

	meta := matrix.CellMeta{
		Sample:      make([]string, len(barcodes)),
		Condition:   make([]string, len(barcodes)),
		AmbientRisk: make([]bool, len(barcodes)),
	}
	missing := 0
	for i, bc := range barcodes {
		r, ok := rows[bc]
		if !ok {
			missing++
			continue
		}
		meta.Sample[i], meta.Condition[i], meta.AmbientRisk[i] = r.sample, r.condition, r.ambient
	}
	if missing > 0 {
		l.logger.Warn("barcodes without metadata", zap.Int("count", missing))
	}
	return meta, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	}
	return false
}
