package report

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ARyaskov/kira-nuclearqc/internal/scoring"
)

// CellColumns is the column order of nuclearqc.tsv.
var CellColumns = []string{
	"barcode", "sample", "condition", "species", "libsize", "nnz", "expressed_genes", "confidence",
	"a1_tbi", "a2_rci", "a3_pds", "a4_trs", "a5_nsai", "a6_iaa", "a7_dfa", "a8_cea",
	"rss", "drbi", "cci", "trci",
	"c1_nps", "c2_ci", "c3_rls",
	"regime", "flags", "drivers_nps", "drivers_ci", "drivers_rls",
	"top_program_panel", "top_program_share", "activation_mode",
}

// PanelColumns is the column order of panels_report.tsv.
var PanelColumns = []string{
	"panel_id", "panel_name", "panel_group", "panel_size_defined", "panel_size_mappable",
	"missing_genes", "coverage_median", "coverage_p10", "sum_median", "sum_p90", "sum_p99",
}

func f6(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// tsvWriter accumulates one row at a time and keeps the first write error.
type tsvWriter struct {
	w   io.Writer
	row []string
	err error
}

func (t *tsvWriter) add(fields ...string) { t.row = append(t.row, fields...) }

func (t *tsvWriter) flush() {
	if t.err == nil {
		_, t.err = io.WriteString(t.w, strings.Join(t.row, "\t")+"\n")
	}
	t.row = t.row[:0]
}

// SampleColumns returns the header of nuclearqc_samples.tsv.
func SampleColumns() []string {
	cols := []string{"sample", "n_cells"}
	for _, m := range scoring.SampleMetrics {
		cols = append(cols, m+"_median", m+"_p90", m+"_p99")
	}
	cols = append(cols, "regime_majority")
	for _, r := range scoring.ReportOrder {
		cols = append(cols, "regime_frac_"+r.String())
	}
	return append(cols, "trs_ge_0_75", "nps_ge_0_60", "rls_le_0_35")
}

// FormatDrivers renders drivers as name:value pairs joined by commas.
func FormatDrivers(ds []scoring.Driver) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.Name + ":" + f6(d.Value)
	}
	return strings.Join(parts, ",")
}

// WriteCells writes one row per cell, ordered by barcode and then by cell
// index.
func WriteCells(w io.Writer, in *Input) error {
	cells := in.Result.Cells
	order := make([]int, len(cells))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := &cells[order[a]], &cells[order[b]]
		if ca.Barcode != cb.Barcode {
			return ca.Barcode < cb.Barcode
		}
		return ca.Cell < cb.Cell
	})

	ds := in.Dataset
	species := ds.Genes.Species().String()
	activation := in.Profile.ActivationMode.Label()

	t := &tsvWriter{w: w}
	t.add(CellColumns...)
	t.flush()
	for _, i := range order {
		r := &cells[i]
		var libsize float64
		var nnz int
		if ds.LibSizes != nil {
			libsize = ds.LibSizes[r.Cell]
		}
		if ds.NNZ != nil {
			nnz = ds.NNZ[r.Cell]
		}
		t.add(r.Barcode, r.Sample, r.Condition, species,
			f6(libsize), strconv.Itoa(nnz), strconv.Itoa(r.ExpressedGenes), f6(r.Confidence.Value))
		for _, v := range r.Axes.Values() {
			t.add(f6(v))
		}
		t.add(f6(r.Composites.NPS), f6(r.Composites.CI), f6(r.Composites.RLS),
			r.Regime.String(), r.Flags.String(),
			FormatDrivers(r.Drivers.NPS), FormatDrivers(r.Drivers.CI), FormatDrivers(r.Drivers.RLS),
			r.TopProgramPanel, f6(r.TopProgramShare), activation)
		t.flush()
	}
	return t.err
}

// WriteSamples writes one row per sample record, in the given order.
func WriteSamples(w io.Writer, samples []scoring.SampleRecord) error {
	t := &tsvWriter{w: w}
	t.add(SampleColumns()...)
	t.flush()
	for i := range samples {
		s := &samples[i]
		t.add(s.Sample, strconv.Itoa(s.NCells))
		for _, m := range s.Metrics {
			t.add(f6(m.Median), f6(m.P90), f6(m.P99))
		}
		t.add(s.MajorityName)
		for _, f := range s.RegimeFractions {
			t.add(f6(f))
		}
		t.add(f6(s.TRSHigh), f6(s.NPSHigh), f6(s.RLSLow))
		t.flush()
	}
	return t.err
}

// WritePanels writes the panel audit with coverage and sum distributions.
func WritePanels(w io.Writer, res *scoring.Result) error {
	agg := res.Aggregates
	t := &tsvWriter{w: w}
	t.add(PanelColumns...)
	t.flush()

	coverage := make([]float64, agg.NCells)
	sums := make([]float64, agg.NCells)
	for p, panel := range res.Panels.Panels {
		for c := 0; c < agg.NCells; c++ {
			coverage[c] = agg.CoverageOf(c)[p]
			sums[c] = agg.Sums(c)[p]
		}
		sumStats := scoring.SummarizeValues(sums)
		t.add(panel.ID, panel.Name, string(panel.Group),
			strconv.Itoa(len(panel.Genes)), strconv.Itoa(len(panel.Rows)),
			strings.Join(panel.Missing, ","),
			f6(scoring.Quantile(coverage, 0.5)), f6(scoring.Quantile(coverage, 0.10)),
			f6(sumStats.Median), f6(sumStats.P90), f6(sumStats.P99))
		t.flush()
	}
	return t.err
}
