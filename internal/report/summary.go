package report

import (
	"encoding/json"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/ARyaskov/kira-nuclearqc/internal/scoring"
)

// Fixed6 is a float that marshals with exactly six decimals, matching the
// TSV tables.
type Fixed6 float64

func (f Fixed6) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return strconv.AppendFloat(nil, v, 'f', 6, 64), nil
}

// Stat is the median/p90/p99 triple of one named metric.
type Stat struct {
	Name   string `json:"name"`
	Median Fixed6 `json:"median"`
	P90    Fixed6 `json:"p90"`
	P99    Fixed6 `json:"p99"`
}

// RegimeStat is the count and fraction of one regime.
type RegimeStat struct {
	Name     string `json:"name"`
	Count    int    `json:"count"`
	Fraction Fixed6 `json:"fraction"`
}

type Breakdown struct {
	PanelCoverage  Fixed6 `json:"panel_coverage"`
	ExprFraction   Fixed6 `json:"expr_fraction"`
	AmbientInverse Fixed6 `json:"ambient_inverse"`
	Consistency    Fixed6 `json:"consistency"`
}

type Normalization struct {
	Normalize          bool      `json:"normalize"`
	Scale              Fixed6    `json:"scale"`
	Log1p              bool      `json:"log1p"`
	AxisActivationMode string    `json:"axis_activation_mode"`
	ConfidenceMedian   Breakdown `json:"confidence_breakdown_median"`
}

type InputInfo struct {
	Mode           string        `json:"mode"`
	Resolution     string        `json:"resolution"`
	NCells         int           `json:"n_cells"`
	NGenesRaw      int           `json:"n_genes_raw"`
	NGenesMappable int           `json:"n_genes_mappable"`
	Species        string        `json:"species"`
	ScoringMode    string        `json:"scoring_mode"`
	Normalization  Normalization `json:"normalization"`
}

type CompositeMedians struct {
	NPS Fixed6 `json:"nps_median"`
	CI  Fixed6 `json:"ci_median"`
	RLS Fixed6 `json:"rls_median"`
}

type Tails struct {
	TRSP90  Fixed6 `json:"trs_p90"`
	TRSHigh Fixed6 `json:"trs_ge_0_75"`
	NPSHigh Fixed6 `json:"nps_ge_0_60"`
	RLSLow  Fixed6 `json:"rls_le_0_35"`
}

type QC struct {
	LowConfidenceFraction Fixed6 `json:"low_confidence_fraction"`
	ConfidenceMedian      Fixed6 `json:"confidence_median"`
	ConfidenceP10         Fixed6 `json:"confidence_p10"`
	LowExprFraction       Fixed6 `json:"low_expr_genes_fraction"`
}

type ToolMeta struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	GitHash *string `json:"git_hash"`
	Backend string  `json:"simd_backend"`
}

type Distributions struct {
	Axes       []Stat `json:"axes"`
	Composites []Stat `json:"composites"`
}

type PanelSummary struct {
	MissingGenes       map[string][]string `json:"missing_genes_by_panel"`
	RLSContributorsTop []string            `json:"rls_contributors_top"`
}

// Summary is the document written to summary.json.
type Summary struct {
	Tool          string            `json:"tool"`
	Input         InputInfo         `json:"input"`
	Regimes       map[string]Fixed6 `json:"regimes"`
	Composites    CompositeMedians  `json:"composites"`
	Tails         Tails             `json:"tails"`
	QC            QC                `json:"qc"`
	ToolMeta      ToolMeta          `json:"tool_meta"`
	Distributions Distributions     `json:"distributions"`
	RegimeStats   []RegimeStat      `json:"regime_stats"`
	RegimeCounts  map[string]int    `json:"regime_counts"`
	Panels        PanelSummary      `json:"panels"`
}

// Encode writes the summary as indented JSON.
func (s *Summary) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func findStat(stats []Stat, name string) Stat {
	for _, s := range stats {
		if s.Name == name {
			return s
		}
	}
	return Stat{Name: name}
}

func toStat(name string, values []float64) Stat {
	s := scoring.SummarizeValues(values)
	return Stat{Name: name, Median: Fixed6(s.Median), P90: Fixed6(s.P90), P99: Fixed6(s.P99)}
}

func flagFraction(cells []scoring.CellRecord, f scoring.Flag) float64 {
	if len(cells) == 0 {
		return 0
	}
	n := 0
	for i := range cells {
		if cells[i].Flags.Has(f) {
			n++
		}
	}
	return float64(n) / float64(len(cells))
}

func fraction(cells []scoring.CellRecord, pred func(*scoring.CellRecord) bool) float64 {
	if len(cells) == 0 {
		return 0
	}
	n := 0
	for i := range cells {
		if pred(&cells[i]) {
			n++
		}
	}
	return float64(n) / float64(len(cells))
}

// TopRLSContributors counts driver names over every cell's rls drivers and
// returns the k most frequent, ties broken by name.
func TopRLSContributors(cells []scoring.CellRecord, k int) []string {
	counts := map[string]int{}
	for i := range cells {
		for _, d := range cells[i].Drivers.RLS {
			counts[d.Name]++
		}
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > k {
		names = names[:k]
	}
	return names
}

// BuildSummary reduces a run to the summary document.
func BuildSummary(in *Input) *Summary {
	cells := in.Result.Cells
	n := len(cells)
	p := in.Profile

	metrics := make([][]float64, len(scoring.SampleMetrics))
	for m := range metrics {
		metrics[m] = make([]float64, n)
	}
	confidence := make([]float64, n)
	var breakdown [4][]float64
	for b := range breakdown {
		breakdown[b] = make([]float64, n)
	}
	var counts [len(scoring.ReportOrder)]int
	for i := range cells {
		c := &cells[i]
		for m, v := range c.MetricValues() {
			metrics[m][i] = v
		}
		confidence[i] = c.Confidence.Value
		for b := range breakdown {
			breakdown[b][i] = c.Confidence.Breakdown[b]
		}
		counts[c.Regime]++
	}

	s := &Summary{
		Tool:         ToolName,
		Regimes:      make(map[string]Fixed6, len(scoring.ReportOrder)),
		RegimeCounts: make(map[string]int, len(scoring.ReportOrder)),
	}

	nAxes := len(scoring.AxisNames)
	for m, name := range scoring.SampleMetrics {
		st := toStat(name, metrics[m])
		if m < nAxes {
			s.Distributions.Axes = append(s.Distributions.Axes, st)
		} else {
			s.Distributions.Composites = append(s.Distributions.Composites, st)
		}
	}

	for _, r := range scoring.ReportOrder {
		var frac float64
		if n > 0 {
			frac = float64(counts[r]) / float64(n)
		}
		s.Regimes[r.String()] = Fixed6(frac)
		s.RegimeCounts[r.String()] = counts[r]
		s.RegimeStats = append(s.RegimeStats, RegimeStat{Name: r.String(), Count: counts[r], Fraction: Fixed6(frac)})
	}

	var genes int
	if in.Dataset != nil && in.Dataset.Genes != nil {
		genes = in.Dataset.Genes.Len()
	}
	species := "unknown"
	if in.Dataset != nil && in.Dataset.Genes != nil {
		species = in.Dataset.Genes.Species().String()
	}
	runMode := in.RunMode
	if runMode == "" {
		runMode = RunStandalone
	}
	mode := in.Mode
	if mode == "" {
		mode = ModeCell
	}
	s.Input = InputInfo{
		Mode:           string(runMode),
		Resolution:     string(mode),
		NCells:         n,
		NGenesRaw:      genes,
		NGenesMappable: genes,
		Species:        species,
		ScoringMode:    p.ScoringMode.Label(),
		Normalization: Normalization{
			Normalize:          in.Meta.Normalize,
			Scale:              Fixed6(in.Meta.Scale),
			Log1p:              in.Meta.Log1p,
			AxisActivationMode: p.ActivationMode.Label(),
			ConfidenceMedian: Breakdown{
				PanelCoverage:  Fixed6(scoring.Quantile(breakdown[0], 0.5)),
				ExprFraction:   Fixed6(scoring.Quantile(breakdown[1], 0.5)),
				AmbientInverse: Fixed6(scoring.Quantile(breakdown[2], 0.5)),
				Consistency:    Fixed6(scoring.Quantile(breakdown[3], 0.5)),
			},
		},
	}

	s.Composites = CompositeMedians{
		NPS: findStat(s.Distributions.Composites, "c1_nps").Median,
		CI:  findStat(s.Distributions.Composites, "c2_ci").Median,
		RLS: findStat(s.Distributions.Composites, "c3_rls").Median,
	}
	s.Tails = Tails{
		TRSP90:  findStat(s.Distributions.Axes, "a4_trs").P90,
		TRSHigh: Fixed6(fraction(cells, func(c *scoring.CellRecord) bool { return c.Axes.TRS >= scoring.TRSTail })),
		NPSHigh: Fixed6(fraction(cells, func(c *scoring.CellRecord) bool { return c.Composites.NPS >= scoring.NPSTail })),
		RLSLow:  Fixed6(fraction(cells, func(c *scoring.CellRecord) bool { return c.Composites.RLS <= scoring.RLSTail })),
	}
	s.QC = QC{
		LowConfidenceFraction: Fixed6(flagFraction(cells, scoring.FlagLowConfidence)),
		ConfidenceMedian:      Fixed6(scoring.Quantile(confidence, 0.5)),
		ConfidenceP10:         Fixed6(scoring.Quantile(confidence, 0.10)),
		LowExprFraction:       Fixed6(flagFraction(cells, scoring.FlagLowExprGenes)),
	}

	s.ToolMeta = ToolMeta{Name: ToolName, Version: in.Meta.Version, Backend: in.Meta.Backend}
	if in.Meta.GitHash != "" {
		h := in.Meta.GitHash
		s.ToolMeta.GitHash = &h
	}

	s.Panels.MissingGenes = make(map[string][]string)
	if in.Result.Panels != nil {
		for _, panel := range in.Result.Panels.Panels {
			missing := panel.Missing
			if missing == nil {
				missing = []string{}
			}
			s.Panels.MissingGenes[panel.ID] = missing
		}
	}
	s.Panels.RLSContributorsTop = TopRLSContributors(cells, 3)
	return s
}

// PipelineStep is the document written to pipeline_step.json.
type PipelineStep struct {
	Tool      string `json:"tool"`
	Mode      string `json:"mode"`
	Artifacts struct {
		Summary        string `json:"summary"`
		PrimaryMetrics string `json:"primary_metrics"`
	} `json:"artifacts"`
	CellMetrics struct {
		File             string `json:"file"`
		RegimeColumn     string `json:"regime_column"`
		ConfidenceColumn string `json:"confidence_column"`
	} `json:"cell_metrics"`
	KeyMetrics struct {
		NPSMedian             Fixed6 `json:"nps_median"`
		CIMedian              Fixed6 `json:"ci_median"`
		RLSMedian             Fixed6 `json:"rls_median"`
		TRSP90                Fixed6 `json:"trs_p90"`
		LowConfidenceFraction Fixed6 `json:"low_confidence_fraction"`
	} `json:"key_metrics"`
}

// NewPipelineStep derives the pipeline manifest from a summary.
func NewPipelineStep(s *Summary, mode Mode) *PipelineStep {
	ps := &PipelineStep{Tool: ToolName, Mode: string(RunPipeline)}
	ps.Artifacts.Summary = SummaryFile
	ps.Artifacts.PrimaryMetrics = PrimaryFile(mode)
	ps.CellMetrics.File = PrimaryFile(mode)
	ps.CellMetrics.RegimeColumn = "regime"
	ps.CellMetrics.ConfidenceColumn = "confidence"
	if mode == ModeSample {
		ps.CellMetrics.RegimeColumn = "regime_majority"
		ps.CellMetrics.ConfidenceColumn = ""
	}
	ps.KeyMetrics.NPSMedian = s.Composites.NPS
	ps.KeyMetrics.CIMedian = s.Composites.CI
	ps.KeyMetrics.RLSMedian = s.Composites.RLS
	ps.KeyMetrics.TRSP90 = s.Tails.TRSP90
	ps.KeyMetrics.LowConfidenceFraction = s.QC.LowConfidenceFraction
	return ps
}

// Encode writes the manifest as indented JSON.
func (ps *PipelineStep) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ps)
}
