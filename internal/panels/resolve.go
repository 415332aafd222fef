package panels

import (
	"fmt"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
)

// human -> mouse symbols whose upper-cased forms differ or that need an
// explicit ortholog.
var mouseOrthologs = map[string]string{
	"TP53":     "TRP53",
	"HLA-A":    "H2-K1",
	"HLA-B":    "H2-D1",
	"HLA-C":    "H2-Q7",
	"HLA-DRA":  "H2-AA",
	"HLA-DRB1": "H2-AB1",
}

// Panel is a definition resolved against a gene index.
type Panel struct {
	Definition
	// Rows are the matrix rows of the mappable members, in definition order.
	Rows []int
	// Missing lists members absent from the index.
	Missing []string
}

// Set is the ordered list of resolved panels of a run.
type Set struct {
	Panels []Panel
	byID   map[string]int
}

// Resolve maps every definition onto the gene index. For mouse data a fixed
// ortholog table is consulted when the human symbol is absent.
func Resolve(defs []Definition, genes *matrix.GeneIndex) *Set {
	s := &Set{Panels: make([]Panel, 0, len(defs)), byID: make(map[string]int, len(defs))}
	for _, d := range defs {
		p := Panel{Definition: d}
		for _, sym := range d.Genes {
			if row, ok := lookup(genes, sym); ok {
				p.Rows = append(p.Rows, row)
			} else {
				p.Missing = append(p.Missing, sym)
			}
		}
		s.byID[d.ID] = len(s.Panels)
		s.Panels = append(s.Panels, p)
	}
	return s
}

func lookup(genes *matrix.GeneIndex, symbol string) (int, bool) {
	if row, ok := genes.Lookup(symbol); ok {
		return row, true
	}
	if genes.Species() == matrix.SpeciesMouse {
		if mouse, ok := mouseOrthologs[matrix.NormalizeSymbol(symbol)]; ok {
			return genes.Lookup(mouse)
		}
	}
	return 0, false
}

// Index returns the position of a panel id, or -1.
func (s *Set) Index(id string) int {
	if i, ok := s.byID[id]; ok {
		return i
	}
	return -1
}

// ByGroup returns the positions of all panels in a group, in set order.
func (s *Set) ByGroup(g Group) []int {
	var out []int
	for i, p := range s.Panels {
		if p.Group == g {
			out = append(out, i)
		}
	}
	return out
}

// KeyIndices resolves key panel ids to positions.
func (s *Set) KeyIndices(ids []string) ([]int, error) {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		i := s.Index(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: key panel %q", ErrUnknownPanel, id)
		}
		out = append(out, i)
	}
	return out, nil
}

// MappableGenes returns the total number of mappable members over all panels.
func (s *Set) MappableGenes() int {
	n := 0
	for _, p := range s.Panels {
		n += len(p.Rows)
	}
	return n
}
