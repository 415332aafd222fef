package input

import (
	"fmt"
	"strings"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
)

// ReadFeatures returns the normalized gene symbol of every feature row. The
// symbol is the second column when present, else the first.
func ReadFeatures(path string) ([]string, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []string
	sc := newScanner(rc)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		cols := strings.Split(text, "\t")
		sym := cols[0]
		if len(cols) >= 2 && strings.TrimSpace(cols[1]) != "" {
			sym = cols[1]
		}
		out = append(out, matrix.NormalizeSymbol(sym))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read features %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: features file %s is empty", ErrMalformed, path)
	}
	return out, nil
}

// ReadBarcodes returns the first column of every non-empty line.
func ReadBarcodes(path string) ([]string, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []string
	sc := newScanner(rc)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if i := strings.IndexByte(text, '\t'); i >= 0 {
			text = text[:i]
		}
		out = append(out, text)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read barcodes %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: barcodes file %s is empty", ErrMalformed, path)
	}
	return out, nil
}

var (
	humanMarkers = []string{"HLA-A", "HLA-B", "HLA-C", "HLA-DRA", "HLA-DRB1", "HLA-DPA1", "HLA-DPB1", "HLA-E", "HLA-F", "HLA-G"}
	mouseMarkers = []string{"H2-K1", "H2-D1", "H2-AB1", "H2-AA", "H2-EB1", "H2-EA", "H2-Q7", "H2-Q10", "H2-T23", "H2-M2"}
)

const (
	speciesMinMatches = 3
	speciesMinLead    = 2
)

// DetectSpecies counts MHC marker symbols. A species wins with at least three
// matches and a lead of two over the other.
func DetectSpecies(symbols []string) matrix.Species {
	markers := make(map[string]matrix.Species, len(humanMarkers)+len(mouseMarkers))
	for _, s := range humanMarkers {
		markers[s] = matrix.SpeciesHuman
	}
	for _, s := range mouseMarkers {
		markers[s] = matrix.SpeciesMouse
	}
	var human, mouse int
	for _, s := range symbols {
		switch markers[s] {
		case matrix.SpeciesHuman:
			human++
		case matrix.SpeciesMouse:
			mouse++
		}
	}
	switch {
	case human >= speciesMinMatches && human >= mouse+speciesMinLead:
		return matrix.SpeciesHuman
	case mouse >= speciesMinMatches && mouse >= human+speciesMinLead:
		return matrix.SpeciesMouse
	}
	return matrix.SpeciesUnknown
}
