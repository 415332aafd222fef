package scoring

import "sort"

// SampleMetrics names the per-cell values summarized per sample, in column
// order.
var SampleMetrics = [...]string{
	"a1_tbi", "a2_rci", "a3_pds", "a4_trs", "a5_nsai", "a6_iaa", "a7_dfa", "a8_cea",
	"rss", "drbi", "cci", "trci",
	"c1_nps", "c2_ci", "c3_rls",
}

// MetricValues returns a record's values in SampleMetrics order.
func (r *CellRecord) MetricValues() [len(SampleMetrics)]float64 {
	a := r.Axes
	return [len(SampleMetrics)]float64{
		a.TBI, a.RCI, a.PDS, a.TRS, a.NSAI, a.IAA, a.DFA, a.CEA,
		a.RSS, a.DRBI, a.CCI, a.TRCI,
		r.Composites.NPS, r.Composites.CI, r.Composites.RLS,
	}
}

// Summary is the median, p90 and p99 of one metric.
type Summary struct {
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
}

// SummarizeValues reduces values with the population order-statistic rule.
func SummarizeValues(values []float64) Summary {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Summary{
		Median: QuantileSorted(sorted, 0.5),
		P90:    QuantileSorted(sorted, 0.90),
		P99:    QuantileSorted(sorted, 0.99),
	}
}

// SampleRecord is the per-sample reduction of finalized cell records.
type SampleRecord struct {
	Sample  string                      `json:"sample"`
	NCells  int                         `json:"n_cells"`
	Metrics [len(SampleMetrics)]Summary `json:"metrics"`
	// Confidence summarizes the per-cell composite confidence. It is kept
	// out of the TSV column contract.
	Confidence Summary `json:"confidence"`
	// RegimeFractions is indexed by position in ReportOrder.
	RegimeFractions [len(ReportOrder)]float64 `json:"regime_fractions"`
	Majority        Regime                    `json:"-"`
	MajorityName    string                    `json:"regime_majority"`

	TRSHigh float64 `json:"trs_ge_0_75"`
	NPSHigh float64 `json:"nps_ge_0_60"`
	RLSLow  float64 `json:"rls_le_0_35"`
}

// Tail thresholds of the sample and summary fractions.
const (
	TRSTail = 0.75
	NPSTail = 0.60
	RLSTail = 0.35
)

// AggregateSamples groups records by sample and reduces each group. Groups
// are returned in ascending sample order; cells without a sample share the
// empty key.
func AggregateSamples(cells []CellRecord) []SampleRecord {
	groups := make(map[string][]int)
	for i := range cells {
		groups[cells[i].Sample] = append(groups[cells[i].Sample], i)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]SampleRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, reduceSample(k, cells, groups[k]))
	}
	return out
}

func reduceSample(name string, cells []CellRecord, idx []int) SampleRecord {
	n := len(idx)
	rec := SampleRecord{Sample: name, NCells: n}

	columns := make([][]float64, len(SampleMetrics))
	for m := range columns {
		columns[m] = make([]float64, n)
	}
	conf := make([]float64, n)
	var counts [len(regimeNames)]int
	var trsHigh, npsHigh, rlsLow int
	for j, i := range idx {
		c := &cells[i]
		for m, v := range c.MetricValues() {
			columns[m][j] = v
		}
		conf[j] = c.Confidence.Value
		counts[c.Regime]++
		if c.Axes.TRS >= TRSTail {
			trsHigh++
		}
		if c.Composites.NPS >= NPSTail {
			npsHigh++
		}
		if c.Composites.RLS <= RLSTail {
			rlsLow++
		}
	}
	for m := range columns {
		rec.Metrics[m] = SummarizeValues(columns[m])
	}
	rec.Confidence = SummarizeValues(conf)

	rec.Majority = RegimeUnclassified
	best := 0
	for i, r := range ReportOrder {
		if n > 0 {
			rec.RegimeFractions[i] = float64(counts[r]) / float64(n)
		}
		if counts[r] > best {
			best = counts[r]
			rec.Majority = r
		}
	}
	rec.MajorityName = rec.Majority.String()
	if n > 0 {
		rec.TRSHigh = float64(trsHigh) / float64(n)
		rec.NPSHigh = float64(npsHigh) / float64(n)
		rec.RLSLow = float64(rlsLow) / float64(n)
	}
	return rec
}
