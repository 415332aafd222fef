// Package report writes the scored results of a run to disk: the per-cell or
// per-sample table, the panel audit, summary.json, report.txt and, in
// pipeline mode, pipeline_step.json.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ARyaskov/kira-nuclearqc/internal/matrix"
	"github.com/ARyaskov/kira-nuclearqc/internal/profile"
	"github.com/ARyaskov/kira-nuclearqc/internal/scoring"
)

// ToolName is the tool id written to every machine-readable artifact.
const ToolName = "kira-nuclearqc"

// File names of the report artifacts.
const (
	CellFile         = "nuclearqc.tsv"
	SampleFile       = "nuclearqc_samples.tsv"
	PanelsFile       = "panels_report.tsv"
	SummaryFile      = "summary.json"
	TextFile         = "report.txt"
	PipelineStepFile = "pipeline_step.json"
)

// Mode selects the resolution of the primary table.
type Mode string

const (
	ModeCell   Mode = "cell"
	ModeSample Mode = "sample"
)

// RunMode selects where reports go and whether pipeline_step.json is written.
type RunMode string

const (
	RunStandalone RunMode = "standalone"
	RunPipeline   RunMode = "pipeline"
)

// Meta describes the build and the normalization that produced the input.
type Meta struct {
	Version   string
	GitHash   string
	Backend   string
	Normalize bool
	Scale     float64
	Log1p     bool
}

// Input is everything the writers read. Samples is only consulted in
// sample mode and is computed on demand when nil.
type Input struct {
	Result  *scoring.Result
	Dataset *matrix.Dataset
	Profile *profile.Profile
	Samples []scoring.SampleRecord
	Mode    Mode
	RunMode RunMode
	Meta    Meta
}

// PrimaryFile returns the name of the primary table for a mode.
func PrimaryFile(m Mode) string {
	if m == ModeSample {
		return SampleFile
	}
	return CellFile
}

// OutputDir returns the directory reports land in for an --out directory.
func OutputDir(out string, rm RunMode) string {
	if rm == RunPipeline {
		return filepath.Join(out, ToolName)
	}
	return out
}

// WriteAll writes every artifact into a hidden staging directory under the
// destination and moves the files into place once all of them succeeded.
// It returns the destination directory.
func WriteAll(in *Input, out string) (string, error) {
	if in.Mode == ModeSample && in.Samples == nil {
		in.Samples = scoring.AggregateSamples(in.Result.Cells)
	}
	dest := OutputDir(out, in.RunMode)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.MkdirTemp(dest, ".nuclearqc-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	summary := BuildSummary(in)
	writers := []artifact{
		{PrimaryFile(in.Mode), func(w io.Writer) error {
			if in.Mode == ModeSample {
				return WriteSamples(w, in.Samples)
			}
			return WriteCells(w, in)
		}},
		{PanelsFile, func(w io.Writer) error { return WritePanels(w, in.Result) }},
		{SummaryFile, func(w io.Writer) error { return summary.Encode(w) }},
		{TextFile, func(w io.Writer) error {
			_, err := io.WriteString(w, RenderText(NewContext(in, summary)))
			return err
		}},
	}
	if in.RunMode == RunPipeline {
		writers = append(writers, artifact{PipelineStepFile, func(w io.Writer) error {
			return NewPipelineStep(summary, in.Mode).Encode(w)
		}})
	}

	for _, wr := range writers {
		if err := writeFile(filepath.Join(tmp, wr.name), wr.write); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", wr.name, err)
		}
	}
	for _, wr := range writers {
		if err := os.Rename(filepath.Join(tmp, wr.name), filepath.Join(dest, wr.name)); err != nil {
			return "", fmt.Errorf("failed to move %s into place: %w", wr.name, err)
		}
	}
	return dest, nil
}

type artifact struct {
	name  string
	write func(io.Writer) error
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
