package scoring

import (
	"math"
	"sort"

	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
)

// MaxDrivers bounds each driver list.
const MaxDrivers = 5

// Composites are the three summary scores of a cell.
type Composites struct {
	NPS float64
	CI  float64
	RLS float64
}

// Driver is one named weighted contribution to a composite.
type Driver struct {
	Name  string
	Value float64
}

// Drivers are the top contributions per composite.
type Drivers struct {
	NPS []Driver
	CI  []Driver
	RLS []Driver
}

// TopDrivers sorts by descending magnitude, ties by name, and keeps at most
// MaxDrivers entries. The input slice is reordered.
func TopDrivers(items []Driver) []Driver {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := math.Abs(items[i].Value), math.Abs(items[j].Value)
		if ai != aj {
			return ai > aj
		}
		return items[i].Name < items[j].Name
	})
	if len(items) > MaxDrivers {
		items = items[:MaxDrivers]
	}
	return items
}

// CompositeEngine combines axes and confidence into nps, ci and rls.
type CompositeEngine struct {
	p       *profile.Profile
	variant scoringVariant
}

// NewCompositeEngine picks the scoring variant for the profile.
func NewCompositeEngine(p *profile.Profile) *CompositeEngine {
	return &CompositeEngine{p: p, variant: newVariant(p)}
}

func (ce *CompositeEngine) confidence(c *cellState) Confidence {
	return ce.variant.confidence(c)
}

func (ce *CompositeEngine) compute(c *cellState, conf float64, pop *Population) (Composites, Drivers) {
	cp := &ce.p.Composite
	a := c.axes

	out := Composites{
		NPS: Clip01(cp.NPSTBI*a.TBI + cp.NPSRCI*a.RCI - cp.NPSPDS*a.PDS - cp.NPSTRS*a.TRS),
		CI:  Clip01(cp.CITRS*a.TRS + cp.CIPDS*a.PDS - cp.CITBI*a.TBI),
		RLS: ce.variant.rls(c, conf, pop),
	}
	if ce.p.DDREnabled {
		out.RLS = Clip01(out.RLS - cp.RLSRSS*a.RSS - cp.RLSTRCI*a.TRCI)
		out.CI = Clip01(out.CI + cp.CICCI*a.CCI)
	}

	d := Drivers{
		NPS: TopDrivers([]Driver{
			{"high_tbi", cp.NPSTBI * a.TBI},
			{"high_rci", cp.NPSRCI * a.RCI},
			{"high_pds", -cp.NPSPDS * a.PDS},
			{"high_trs", -cp.NPSTRS * a.TRS},
		}),
	}
	ci := []Driver{
		{"high_trs", cp.CITRS * a.TRS},
		{"high_pds", cp.CIPDS * a.PDS},
		{"high_tbi", -cp.CITBI * a.TBI},
	}
	rls := []Driver{
		{"high_tbi", cp.LegacyRLSTBI * a.TBI},
		{"high_rci", cp.LegacyRLSRCI * a.RCI},
		{"high_pds", -cp.LegacyRLSPDS * a.PDS},
		{"high_nsai", -cp.LegacyRLSNSAI * a.NSAI},
	}
	if ce.p.DDREnabled {
		ci = append(ci, Driver{"high_cci", cp.CICCI * a.CCI})
		rls = append(rls, Driver{"high_rss", -cp.RLSRSS * a.RSS}, Driver{"high_trci", -cp.RLSTRCI * a.TRCI})
	}
	d.CI = TopDrivers(ci)
	d.RLS = TopDrivers(rls)
	return out, d
}
