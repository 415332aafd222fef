package profile

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func overridesNode(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	require.NotEmpty(t, doc.Content)
	return doc.Content[0]
}

func TestBuiltinProfiles(t *testing.T) {
	d := DefaultV1()
	assert.Equal(t, ScoringStrictBulk, d.ScoringMode)
	assert.Equal(t, ActivationAbsolute, d.ActivationMode)
	assert.Equal(t, 10, d.Axes.MinExprGenes)
	assert.Equal(t, 1.0, d.Axes.TFMinSum)
	require.NoError(t, d.Validate())

	im := ImmuneV1()
	assert.Equal(t, ScoringImmuneAware, im.ScoringMode)
	assert.Equal(t, ActivationHybrid, im.ActivationMode)
	assert.Equal(t, 5, im.Axes.MinExprGenes)
	assert.Equal(t, 0.5, im.Axes.TFMinSum)
	assert.Equal(t, 0.5, im.Axes.ProgramMinSum)
	require.NoError(t, im.Validate())

	// Profiles differ only in constants.
	assert.Equal(t, d.Regimes, im.Regimes)
	assert.Equal(t, d.Composite, im.Composite)
}

func TestLookup(t *testing.T) {
	p, err := Lookup("immune_v1")
	require.NoError(t, err)
	assert.Equal(t, NameImmuneV1, p.Name)

	// Each call hands out an independent copy.
	p.Axes.MinExprGenes = 99
	q, err := Lookup("immune_v1")
	require.NoError(t, err)
	assert.Equal(t, 5, q.Axes.MinExprGenes)

	_, err = Lookup("immune_v2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProfile))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"default_v1", "immune_v1"}, Names())
}

func TestResolve_Overrides(t *testing.T) {
	node := overridesNode(t, `
axes:
  min_expr_genes: 20
  tf_min_sum: 2.5
regimes:
  rigid_trs: 0.8
`)
	p, err := Resolve("default_v1", false, node)
	require.NoError(t, err)
	assert.Equal(t, 20, p.Axes.MinExprGenes)
	assert.Equal(t, 2.5, p.Axes.TFMinSum)
	assert.Equal(t, 0.8, p.Regimes.RigidTRS)
	// Untouched keys keep the profile value.
	assert.Equal(t, 1.0, p.Axes.ProgramMinSum)
	assert.Equal(t, 0.70, p.Regimes.CommittedTRS)
	assert.Equal(t, NameDefaultV1, p.Name)
}

func TestResolve_StrictNuclear(t *testing.T) {
	p, err := Resolve("immune_v1", true, nil)
	require.NoError(t, err)
	assert.Equal(t, ScoringStrictBulk, p.ScoringMode)
	assert.Equal(t, ActivationAbsolute, p.ActivationMode)
	assert.True(t, p.StrictNuclear)
	// Other immune constants are kept.
	assert.Equal(t, 5, p.Axes.MinExprGenes)
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"inverted rescale window", "axes:\n  frac_rescale_min: 0.7\n  frac_rescale_max: 0.6\n"},
		{"inverted quantiles", "axes:\n  rel_p70: 0.9\n  rel_p85: 0.8\n"},
		{"bad activation", "activation_mode: sideways\n"},
		{"bad scoring", "scoring_mode: lenient\n"},
		{"negative min genes", "axes:\n  min_expr_genes: -1\n"},
		{"confidence low out of range", "confidence:\n  low: 1.5\n"},
		{"zero denominator", "confidence:\n  coverage_denom: 0\n"},
		{"nan regime threshold", "regimes:\n  rigid_trs: .nan\n"},
		{"infinite flag threshold", "flags:\n  hr_dominant: .inf\n"},
		{"nan ddr weight", "ddr:\n  rss_checkpoint: .nan\n"},
		{"misspelled key", "axes:\n  tf_min_sum_typo: 1\n"},
		{"unknown section", "regime:\n  rigid_trs: 0.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve("default_v1", false, overridesNode(t, tt.src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidProfile), "got %v", err)
		})
	}
}

func TestResolve_NonFiniteNamesField(t *testing.T) {
	_, err := Resolve("immune_v1", false, overridesNode(t, "regimes:\n  rigid_trs: .nan\nflags:\n  hr_dominant: -.inf\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "regimes.rigid_trs must be finite")
	assert.ErrorContains(t, err, "flags.hr_dominant must be finite")
}

func TestFiniteFields_CoversAllSections(t *testing.T) {
	seen := map[string]bool{}
	finiteFields("", reflect.ValueOf(*DefaultV1()), func(name string, _ float64) {
		section, _, _ := strings.Cut(name, ".")
		seen[section] = true
	})
	for _, section := range []string{"axes", "ddr", "confidence", "composite", "regimes", "flags"} {
		assert.True(t, seen[section], section)
	}
}

func TestResolve_TypeMismatch(t *testing.T) {
	_, err := Resolve("default_v1", false, overridesNode(t, "axes:\n  tf_min_sum: lots\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidProfile))
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Hybrid", ActivationHybrid.Label())
	assert.Equal(t, "strict-bulk", ScoringStrictBulk.Label())
	assert.Equal(t, "immune-aware", ScoringImmuneAware.Label())
}
