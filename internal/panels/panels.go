// Package panels defines gene panels and resolves them against a dataset's
// gene index.
package panels

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPanel is returned when a configured panel id is not defined.
var ErrUnknownPanel = errors.New("unknown panel")

// Group is the biological category of a panel.
type Group string

const (
	GroupHousekeeping  Group = "housekeeping"
	GroupTF            Group = "tf"
	GroupChromatin     Group = "chromatin"
	GroupStress        Group = "stress"
	GroupDevelopmental Group = "developmental"
	GroupProliferation Group = "proliferation"
	GroupProgram       Group = "program"
	GroupConfounder    Group = "confounder"
	GroupDDR           Group = "ddr"
)

func (g Group) valid() bool {
	switch g {
	case GroupHousekeeping, GroupTF, GroupChromatin, GroupStress, GroupDevelopmental,
		GroupProliferation, GroupProgram, GroupConfounder, GroupDDR:
		return true
	}
	return false
}

// Definition is a static panel: id, display name, group and ordered member
// symbols.
type Definition struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Group Group    `yaml:"group"`
	Genes []string `yaml:"genes"`
}

// Panel ids the scoring engines look up by name.
const (
	ImmuneActivation         = "immune_activation"
	DifferentiationFlux      = "differentiation_flux"
	ClonalEngagement         = "clonal_engagement"
	ReplicationStress        = "replication_stress_genes"
	CheckpointActivation     = "checkpoint_activation"
	ReplicationForkStability = "replication_fork_stability"
	DNARepairHR              = "dna_repair_hr"
	DNARepairNHEJ            = "dna_repair_nhej"
	ChromatinCompaction      = "chromatin_compaction"
	ChromatinOpenState       = "chromatin_open_state"
)

var builtin = []Definition{
	{ID: "housekeeping_core", Name: "Housekeeping Core", Group: GroupHousekeeping, Genes: []string{"ACTB", "GAPDH", "RPLP0", "B2M"}},
	{ID: "tf_basic", Name: "TF Basic", Group: GroupTF, Genes: []string{"POU5F1", "SOX2", "NANOG", "MYC"}},
	{ID: "chromatin_core", Name: "Chromatin Core", Group: GroupChromatin, Genes: []string{"SMARCA4", "SMARCB1", "EZH2", "ARID1A"}},
	{ID: "stress_response", Name: "Stress Response", Group: GroupStress, Genes: []string{"FOS", "JUN", "ATF3", "HSP90AA1"}},
	{ID: "developmental_core", Name: "Developmental Core", Group: GroupDevelopmental, Genes: []string{"SOX9", "PAX6", "GATA3", "TBX5"}},
	{ID: "proliferation_core", Name: "Proliferation Core", Group: GroupProliferation, Genes: []string{"MKI67", "TOP2A", "PCNA", "MCM2"}},
	{ID: ImmuneActivation, Name: "Immune Activation", Group: GroupProgram, Genes: []string{"CD69", "CD83", "HLA-DRA", "HLA-DRB1", "CD74"}},
	{ID: DifferentiationFlux, Name: "Differentiation Flux", Group: GroupProgram, Genes: []string{"BCL6", "IRF4", "MYC"}},
	{ID: ClonalEngagement, Name: "Clonal Engagement", Group: GroupProgram, Genes: []string{"HNRNPA1", "SRSF1", "HNRNPC", "RPLP0", "RPL13A"}},

	{ID: ReplicationStress, Name: "Replication Stress", Group: GroupDDR, Genes: []string{"ATR", "CHEK1", "RPA1", "RPA2", "RPA3", "RAD17", "CLSPN", "TIMELESS", "TIPIN"}},
	{ID: CheckpointActivation, Name: "Checkpoint Activation", Group: GroupDDR, Genes: []string{"ATM", "ATR", "CHEK1", "CHEK2", "TP53", "CDKN1A"}},
	{ID: ReplicationForkStability, Name: "Replication Fork Stability", Group: GroupDDR, Genes: []string{"MCM2", "MCM3", "MCM4", "MCM5", "MCM6", "MCM7", "CDC45", "GINS1", "TIMELESS", "TIPIN"}},
	{ID: DNARepairHR, Name: "DNA Repair HR", Group: GroupDDR, Genes: []string{"BRCA1", "BRCA2", "RAD51", "RAD51B", "RAD51C", "RAD51D", "PALB2", "BARD1", "RAD52"}},
	{ID: DNARepairNHEJ, Name: "DNA Repair NHEJ", Group: GroupDDR, Genes: []string{"LIG4", "XRCC4", "XRCC5", "XRCC6", "PRKDC", "NHEJ1", "PNKP"}},
	{ID: ChromatinCompaction, Name: "Chromatin Compaction", Group: GroupDDR, Genes: []string{"CBX1", "CBX3", "CBX5", "SUV39H1", "SUV39H2", "SETDB1", "EHMT2"}},
	{ID: ChromatinOpenState, Name: "Chromatin Open State", Group: GroupDDR, Genes: []string{"ARID1A", "ARID1B", "KDM6A", "KAT2B", "EP300"}},
}

// DefaultKeyPanels are the panels whose coverage feeds the key-panel median.
var DefaultKeyPanels = []string{
	"housekeeping_core",
	"tf_basic",
	"chromatin_core",
	"stress_response",
	"developmental_core",
	"proliferation_core",
	ImmuneActivation,
	DifferentiationFlux,
	ClonalEngagement,
}

// Builtin returns a copy of the builtin panel definitions.
func Builtin() []Definition {
	out := make([]Definition, len(builtin))
	for i, d := range builtin {
		d.Genes = append([]string(nil), d.Genes...)
		out[i] = d
	}
	return out
}

type panelFile struct {
	Panels []Definition `yaml:"panels"`
}

// LoadFile reads panel definitions from a YAML file of the form
// panels: [{id, name, group, genes}].
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read panel file: %w", err)
	}
	var f panelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse panel file %s: %w", path, err)
	}
	if err := validateDefinitions(f.Panels); err != nil {
		return nil, fmt.Errorf("invalid panel file %s: %w", path, err)
	}
	return f.Panels, nil
}

func validateDefinitions(defs []Definition) error {
	if len(defs) == 0 {
		return errors.New("no panels defined")
	}
	seen := make(map[string]bool, len(defs))
	for i := range defs {
		d := &defs[i]
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return fmt.Errorf("panel %d has no id", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate panel id %q", d.ID)
		}
		seen[d.ID] = true
		d.Group = Group(strings.ToLower(string(d.Group)))
		if !d.Group.valid() {
			return fmt.Errorf("panel %q has unknown group %q", d.ID, d.Group)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
	}
	return nil
}
