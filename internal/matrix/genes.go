package matrix

import (
	"regexp"
	"strings"
)

// Species is the organism a dataset was detected as.
type Species int

const (
	SpeciesUnknown Species = iota
	SpeciesHuman
	SpeciesMouse
)

func (s Species) String() string {
	switch s {
	case SpeciesHuman:
		return "human"
	case SpeciesMouse:
		return "mouse"
	}
	return "unknown"
}

var ensemblVersion = regexp.MustCompile(`^(ENS[A-Z]*G\d+)\.\d+$`)

// NormalizeSymbol trims, upper-cases and strips an Ensembl version suffix.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if m := ensemblVersion.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// GeneIndex maps normalized gene symbols to matrix rows.
type GeneIndex struct {
	symbols  []string
	bySymbol map[string]int
	species  Species
}

// NewGeneIndex builds the index. When a symbol repeats, the first row wins.
func NewGeneIndex(symbols []string, species Species) *GeneIndex {
	g := &GeneIndex{
		symbols:  make([]string, len(symbols)),
		bySymbol: make(map[string]int, len(symbols)),
		species:  species,
	}
	for i, s := range symbols {
		n := NormalizeSymbol(s)
		g.symbols[i] = n
		if n == "" {
			continue
		}
		if _, ok := g.bySymbol[n]; !ok {
			g.bySymbol[n] = i
		}
	}
	return g
}

// Len returns the number of rows.
func (g *GeneIndex) Len() int { return len(g.symbols) }

// Distinct returns the number of distinct mappable symbols.
func (g *GeneIndex) Distinct() int { return len(g.bySymbol) }

// Species returns the species tag.
func (g *GeneIndex) Species() Species { return g.species }

// Symbol returns the normalized symbol of a row.
func (g *GeneIndex) Symbol(row int) string { return g.symbols[row] }

// Lookup resolves a symbol (normalized on the fly) to a row.
func (g *GeneIndex) Lookup(symbol string) (int, bool) {
	row, ok := g.bySymbol[NormalizeSymbol(symbol)]
	return row, ok
}
