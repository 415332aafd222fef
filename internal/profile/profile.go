// Package profile defines the named constant bundles that drive nuclear scoring.
//
// A Profile is resolved once per run and never mutated afterwards. Every
// threshold and weight used by the scoring engines lives here so that a
// profile swap or a YAML override changes constants only, never the shape of
// the algorithms.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownProfile is returned when a profile name is not registered.
	ErrUnknownProfile = errors.New("unknown profile")
	// ErrInvalidProfile is returned when a resolved profile fails validation.
	ErrInvalidProfile = errors.New("invalid profile")
)

// ActivationMode selects how immune-program axes (iaa, dfa, cea) are derived
// from their raw panel sums.
type ActivationMode string

const (
	ActivationAbsolute ActivationMode = "absolute"
	ActivationRelative ActivationMode = "relative"
	ActivationHybrid   ActivationMode = "hybrid"
)

// ScoringMode selects the confidence and rls formula variants.
type ScoringMode string

const (
	ScoringStrictBulk  ScoringMode = "strict_bulk"
	ScoringImmuneAware ScoringMode = "immune_aware"
)

// Label returns the display label used in reports.
func (m ActivationMode) Label() string {
	switch m {
	case ActivationAbsolute:
		return "Absolute"
	case ActivationRelative:
		return "Relative"
	case ActivationHybrid:
		return "Hybrid"
	}
	return string(m)
}

// Label returns the display label used in reports.
func (m ScoringMode) Label() string {
	switch m {
	case ScoringStrictBulk:
		return "strict-bulk"
	case ScoringImmuneAware:
		return "immune-aware"
	}
	return string(m)
}

// Profile is the full set of scoring constants.
type Profile struct {
	Name           string         `yaml:"name"`
	ActivationMode ActivationMode `yaml:"activation_mode"`
	ScoringMode    ScoringMode    `yaml:"scoring_mode"`
	StrictNuclear  bool           `yaml:"strict_nuclear"`
	DDREnabled     bool           `yaml:"ddr_enabled"`

	Axes       AxisParams       `yaml:"axes"`
	DDR        DDRParams        `yaml:"ddr"`
	Confidence ConfidenceParams `yaml:"confidence"`
	Composite  CompositeParams  `yaml:"composite"`
	Regimes    RegimeParams     `yaml:"regimes"`
	Flags      FlagParams       `yaml:"flags"`
}

// AxisParams holds the constants of the eight primary axes.
type AxisParams struct {
	ExprMin        float64 `yaml:"expr_min"`
	MinExprGenes   int     `yaml:"min_expr_genes"`
	FracRescaleMin float64 `yaml:"frac_rescale_min"`
	FracRescaleMax float64 `yaml:"frac_rescale_max"`
	TFMinSum       float64 `yaml:"tf_min_sum"`
	ProgramMinSum  float64 `yaml:"program_min_sum"`

	TBIFracWeight         float64 `yaml:"tbi_w1"`
	TBIGeneEntropyWeight  float64 `yaml:"tbi_w2"`
	TBIPanelEntropyWeight float64 `yaml:"tbi_w3"`

	RCIEntropyWeight float64 `yaml:"rci_entropy_weight"`
	RCIAntiDomWeight float64 `yaml:"rci_anti_dominance_weight"`

	PDSTop1Weight float64 `yaml:"pds_top1_weight"`
	PDSTop3Weight float64 `yaml:"pds_top3_weight"`

	TRSA float64 `yaml:"trs_a"`
	TRSB float64 `yaml:"trs_b"`
	TRSC float64 `yaml:"trs_c"`

	StressBoost float64 `yaml:"stress_boost"`

	RelP70 float64 `yaml:"rel_p70"`
	RelP85 float64 `yaml:"rel_p85"`
}

// DDRParams holds the linear weights of the four DNA-damage-response axes.
type DDRParams struct {
	RSSReplicationStress float64 `yaml:"rss_replication_stress"`
	RSSCheckpoint        float64 `yaml:"rss_checkpoint"`
	RSSForkInstability   float64 `yaml:"rss_fork_instability"`
	RSSForkStability     float64 `yaml:"rss_fork_stability"`

	CCICompaction float64 `yaml:"cci_compaction"`
	CCIOpen       float64 `yaml:"cci_open"`

	TRCIReplicationStress float64 `yaml:"trci_replication_stress"`
	TRCITranscription     float64 `yaml:"trci_transcription"`
	TRCIForkStability     float64 `yaml:"trci_fork_stability"`
}

// ConfidenceParams holds both confidence variants.
type ConfidenceParams struct {
	Low float64 `yaml:"low"`

	CoverageDenom  float64 `yaml:"coverage_denom"`
	AxisVarDenom   float64 `yaml:"axis_var_denom"`
	CoverageWeight float64 `yaml:"coverage_weight"`
	ExprWeight     float64 `yaml:"expr_weight"`
	StructWeight   float64 `yaml:"structure_weight"`
	ConsistWeight  float64 `yaml:"consistency_weight"`

	TRSTBICeiling float64 `yaml:"trs_tbi_ceiling"`
	PDSTBICeiling float64 `yaml:"pds_tbi_ceiling"`
	TRSRCICeiling float64 `yaml:"trs_rci_ceiling"`

	Floor             float64 `yaml:"floor"`
	FloorMinStructure float64 `yaml:"floor_min_structure"`

	LegacyCoverage float64 `yaml:"legacy_coverage"`
	LegacyExpr     float64 `yaml:"legacy_expr"`
	LegacyAmbient  float64 `yaml:"legacy_ambient"`
}

// CompositeParams holds the nps, ci and rls weights.
type CompositeParams struct {
	NPSTBI float64 `yaml:"nps_tbi"`
	NPSRCI float64 `yaml:"nps_rci"`
	NPSPDS float64 `yaml:"nps_pds"`
	NPSTRS float64 `yaml:"nps_trs"`

	CITRS float64 `yaml:"ci_trs"`
	CIPDS float64 `yaml:"ci_pds"`
	CITBI float64 `yaml:"ci_tbi"`
	CICCI float64 `yaml:"ci_cci"`

	RLSTBI       float64 `yaml:"rls_tbi"`
	RLSDFA       float64 `yaml:"rls_dfa"`
	RLSIAA       float64 `yaml:"rls_iaa"`
	RLSNSAI      float64 `yaml:"rls_nsai"`
	RLSAxisVar   float64 `yaml:"rls_axis_var"`
	RLSRigidity  float64 `yaml:"rls_rigidity"`
	AxisVarDenom float64 `yaml:"axis_var_denom"`

	RLSFloor      float64 `yaml:"rls_floor"`
	FloorTailP90  float64 `yaml:"floor_tail_p90"`
	AllowZeroAxis float64 `yaml:"allow_zero_axis"`
	AllowZeroVar  float64 `yaml:"allow_zero_var"`
	AllowZeroConf float64 `yaml:"allow_zero_confidence"`

	LegacyRLSTBI  float64 `yaml:"legacy_rls_tbi"`
	LegacyRLSRCI  float64 `yaml:"legacy_rls_rci"`
	LegacyRLSPDS  float64 `yaml:"legacy_rls_pds"`
	LegacyRLSNSAI float64 `yaml:"legacy_rls_nsai"`

	RLSRSS  float64 `yaml:"rls_rss"`
	RLSTRCI float64 `yaml:"rls_trci"`
}

// RegimeParams holds the thresholds of the ordered regime rules.
type RegimeParams struct {
	CollapsedTBI     float64 `yaml:"collapsed_tbi"`
	CollapsedEntropy float64 `yaml:"collapsed_gene_entropy"`

	RigidTRS  float64 `yaml:"rigid_trs"`
	RigidNSAI float64 `yaml:"rigid_nsai"`
	RigidRCI  float64 `yaml:"rigid_rci"`

	CommittedTRS  float64 `yaml:"committed_trs"`
	CommittedPDS  float64 `yaml:"committed_pds"`
	CommittedTBI  float64 `yaml:"committed_tbi"`
	CommittedNSAI float64 `yaml:"committed_nsai"`

	StressNSAI float64 `yaml:"stress_nsai"`
	StressRCI  float64 `yaml:"stress_rci"`
	StressTBI  float64 `yaml:"stress_tbi"`
	StressPDS  float64 `yaml:"stress_pds"`

	PlasticNPS float64 `yaml:"plastic_nps"`
	PlasticTRS float64 `yaml:"plastic_trs"`
	PlasticPDS float64 `yaml:"plastic_pds"`

	TransientNPS float64 `yaml:"transient_nps"`
	TransientIAA float64 `yaml:"transient_iaa"`
	TransientDFA float64 `yaml:"transient_dfa"`
	TransientTRS float64 `yaml:"transient_trs"`
	TransientPDS float64 `yaml:"transient_pds"`
}

// FlagParams holds the flag thresholds.
type FlagParams struct {
	LowPanelCoverage      float64 `yaml:"low_panel_coverage"`
	HighProgramDominance  float64 `yaml:"high_program_dominance"`
	HighStressBias        float64 `yaml:"high_stress_bias"`
	CellCycleShare        float64 `yaml:"cell_cycle_share"`
	LowConfidenceAxisVar  float64 `yaml:"low_confidence_axis_var"`
	HighReplicationStress float64 `yaml:"high_replication_stress"`
	HRDominant            float64 `yaml:"hr_dominant"`
	NHEJDominant          float64 `yaml:"nhej_dominant"`
	ChromatinHypercompact float64 `yaml:"chromatin_hypercompact"`
	HighTRConflict        float64 `yaml:"high_tr_conflict"`
}

const (
	NameDefaultV1 = "default_v1"
	NameImmuneV1  = "immune_v1"
)

// DefaultV1 returns the strict bulk-style profile.
func DefaultV1() *Profile {
	return &Profile{
		Name:           NameDefaultV1,
		ActivationMode: ActivationAbsolute,
		ScoringMode:    ScoringStrictBulk,
		DDREnabled:     true,
		Axes: AxisParams{
			ExprMin:               0,
			MinExprGenes:          10,
			FracRescaleMin:        0.05,
			FracRescaleMax:        0.60,
			TFMinSum:              1.0,
			ProgramMinSum:         1.0,
			TBIFracWeight:         0.4,
			TBIGeneEntropyWeight:  0.4,
			TBIPanelEntropyWeight: 0.2,
			RCIEntropyWeight:      0.5,
			RCIAntiDomWeight:      0.5,
			PDSTop1Weight:         0.7,
			PDSTop3Weight:         0.3,
			TRSA:                  0.4,
			TRSB:                  0.3,
			TRSC:                  0.3,
			StressBoost:           0,
			RelP70:                0.70,
			RelP85:                0.85,
		},
		DDR: DDRParams{
			RSSReplicationStress:  0.40,
			RSSCheckpoint:         0.30,
			RSSForkInstability:    0.20,
			RSSForkStability:      0.20,
			CCICompaction:         0.50,
			CCIOpen:               0.40,
			TRCIReplicationStress: 0.35,
			TRCITranscription:     0.35,
			TRCIForkStability:     0.25,
		},
		Confidence: ConfidenceParams{
			Low:               0.4,
			CoverageDenom:     0.6,
			AxisVarDenom:      0.05,
			CoverageWeight:    0.30,
			ExprWeight:        0.25,
			StructWeight:      0.25,
			ConsistWeight:     0.20,
			TRSTBICeiling:     1.2,
			PDSTBICeiling:     1.2,
			TRSRCICeiling:     1.3,
			Floor:             0.2,
			FloorMinStructure: 0.2,
			LegacyCoverage:    0.5,
			LegacyExpr:        0.3,
			LegacyAmbient:     0.2,
		},
		Composite: CompositeParams{
			NPSTBI:        0.45,
			NPSRCI:        0.35,
			NPSPDS:        0.20,
			NPSTRS:        0.20,
			CITRS:         0.55,
			CIPDS:         0.45,
			CITBI:         0.15,
			CICCI:         0.15,
			RLSTBI:        0.35,
			RLSDFA:        0.20,
			RLSIAA:        0.20,
			RLSNSAI:       0.15,
			RLSAxisVar:    0.10,
			RLSRigidity:   0.30,
			AxisVarDenom:  0.05,
			RLSFloor:      0.1,
			FloorTailP90:  0.8,
			AllowZeroAxis: 0.2,
			AllowZeroVar:  0.05,
			AllowZeroConf: 0.6,
			LegacyRLSTBI:  0.45,
			LegacyRLSRCI:  0.35,
			LegacyRLSPDS:  0.25,
			LegacyRLSNSAI: 0.15,
			RLSRSS:        0.25,
			RLSTRCI:       0.20,
		},
		Regimes: RegimeParams{
			CollapsedTBI:     0.15,
			CollapsedEntropy: 0.10,
			RigidTRS:         0.75,
			RigidNSAI:        0.55,
			RigidRCI:         0.35,
			CommittedTRS:     0.70,
			CommittedPDS:     0.60,
			CommittedTBI:     0.45,
			CommittedNSAI:    0.55,
			StressNSAI:       0.65,
			StressRCI:        0.35,
			StressTBI:        0.35,
			StressPDS:        0.60,
			PlasticNPS:       0.60,
			PlasticTRS:       0.45,
			PlasticPDS:       0.50,
			TransientNPS:     0.45,
			TransientIAA:     0.35,
			TransientDFA:     0.35,
			TransientTRS:     0.55,
			TransientPDS:     0.65,
		},
		Flags: FlagParams{
			LowPanelCoverage:      0.4,
			HighProgramDominance:  0.75,
			HighStressBias:        0.75,
			CellCycleShare:        0.5,
			LowConfidenceAxisVar:  0.01,
			HighReplicationStress: 0.70,
			HRDominant:            0.75,
			NHEJDominant:          0.25,
			ChromatinHypercompact: 0.70,
			HighTRConflict:        0.70,
		},
	}
}

// ImmuneV1 returns the immune-aware profile. It relaxes the expression and
// signal minimums and activates immune programs with the hybrid transform.
func ImmuneV1() *Profile {
	p := DefaultV1()
	p.Name = NameImmuneV1
	p.ActivationMode = ActivationHybrid
	p.ScoringMode = ScoringImmuneAware
	p.Axes.MinExprGenes = 5
	p.Axes.TFMinSum = 0.5
	p.Axes.ProgramMinSum = 0.5
	return p
}

var registry = map[string]func() *Profile{
	NameDefaultV1: DefaultV1,
	NameImmuneV1:  ImmuneV1,
}

// Names returns the registered profile names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a fresh copy of the named profile.
func Lookup(name string) (*Profile, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return ctor(), nil
}

// Resolve looks up a profile, applies YAML overrides and the strict-nuclear
// switch, and validates the result.
func Resolve(name string, strictNuclear bool, overrides *yaml.Node) (*Profile, error) {
	p, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := p.ApplyOverrides(overrides); err != nil {
		return nil, err
	}
	if strictNuclear {
		p.StrictNuclear = true
	}
	if p.StrictNuclear {
		p.ScoringMode = ScoringStrictBulk
		p.ActivationMode = ActivationAbsolute
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyOverrides decodes a YAML mapping onto the profile. Keys not present in
// the node keep their current values; unknown keys are rejected.
func (p *Profile) ApplyOverrides(node *yaml.Node) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("%w: failed to read overrides: %v", ErrInvalidProfile, err)
	}
	name := p.Name
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: failed to decode overrides: %v", ErrInvalidProfile, err)
	}
	p.Name = name
	return nil
}

// Validate checks enum values and numeric ranges.
func (p *Profile) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch p.ActivationMode {
	case ActivationAbsolute, ActivationRelative, ActivationHybrid:
	default:
		bad("activation_mode %q is not one of absolute, relative, hybrid", p.ActivationMode)
	}
	switch p.ScoringMode {
	case ScoringStrictBulk, ScoringImmuneAware:
	default:
		bad("scoring_mode %q is not one of strict_bulk, immune_aware", p.ScoringMode)
	}

	a := p.Axes
	if a.MinExprGenes < 0 {
		bad("axes.min_expr_genes must be >= 0, got %d", a.MinExprGenes)
	}
	if !(a.FracRescaleMin < a.FracRescaleMax) {
		bad("axes.frac_rescale_min (%g) must be below frac_rescale_max (%g)", a.FracRescaleMin, a.FracRescaleMax)
	}
	if a.TFMinSum < 0 || a.ProgramMinSum < 0 {
		bad("axes.tf_min_sum and axes.program_min_sum must be >= 0")
	}
	if !(a.RelP70 > 0 && a.RelP70 < a.RelP85 && a.RelP85 < 1) {
		bad("axes.rel_p70 (%g) and axes.rel_p85 (%g) must satisfy 0 < p70 < p85 < 1", a.RelP70, a.RelP85)
	}
	if p.Confidence.Low < 0 || p.Confidence.Low > 1 {
		bad("confidence.low must lie in [0,1], got %g", p.Confidence.Low)
	}
	if p.Confidence.CoverageDenom <= 0 || p.Confidence.AxisVarDenom <= 0 || p.Composite.AxisVarDenom <= 0 {
		bad("confidence and composite denominators must be > 0")
	}

	finiteFields("", reflect.ValueOf(*p), func(name string, value float64) {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			bad("%s must be finite, got %g", name, value)
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidProfile, p.Name, errors.Join(errs...))
	}
	return nil
}

// finiteFields visits every float64 constant of the profile by its YAML
// path, for example "regimes.rigid_trs".
func finiteFields(prefix string, v reflect.Value, visit func(name string, value float64)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		switch fv := v.Field(i); fv.Kind() {
		case reflect.Float64:
			visit(name, fv.Float())
		case reflect.Struct:
			finiteFields(name, fv, visit)
		}
	}
}
