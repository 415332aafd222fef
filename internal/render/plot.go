// Package render draws score plots using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/ARyaskov/kira-nuclearqc/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width           int
	Height          int
	Bins            int
	DefaultColormap string
}

// PlotRenderer renders histograms and regime bars as PNG.
type PlotRenderer struct {
	config     Config
	bufferPool sync.Pool
}

const margin = 36.0

var (
	axisColor = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	textColor = color.Black
)

// NewPlotRenderer creates a new plot renderer.
func NewPlotRenderer(cfg Config) *PlotRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 400
	}
	if cfg.Bins <= 0 {
		cfg.Bins = 20
	}
	if _, ok := colormap.Get(cfg.DefaultColormap); !ok {
		cfg.DefaultColormap = "viridis"
	}
	return &PlotRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// DefaultBins returns the configured bin count.
func (r *PlotRenderer) DefaultBins() int { return r.config.Bins }

// DefaultColormap returns the configured colormap name.
func (r *PlotRenderer) DefaultColormap() string { return r.config.DefaultColormap }

// HistogramCounts buckets values in [0,1] into bins equal-width bins. Values
// outside the range land in the edge bins.
func HistogramCounts(values []float64, bins int) []int {
	if bins <= 0 {
		bins = 1
	}
	counts := make([]int, bins)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		i := int(v * float64(bins))
		if i < 0 {
			i = 0
		}
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	return counts
}

// Histogram renders the distribution of an axis over [0,1]. Each bar is
// colored by its bin center.
func (r *PlotRenderer) Histogram(title string, values []float64, bins int, colormapName string) ([]byte, error) {
	if bins <= 0 {
		bins = r.config.Bins
	}
	cmap, ok := colormap.Get(colormapName)
	if !ok {
		cmap, _ = colormap.Get(r.config.DefaultColormap)
	}
	counts := HistogramCounts(values, bins)

	dc := r.newCanvas(fmt.Sprintf("%s (n=%d)", title, len(values)))
	maxCount := 1
	for _, c := range counts {
		maxCount = max(maxCount, c)
	}

	plotW := float64(r.config.Width) - 2*margin
	plotH := float64(r.config.Height) - 2*margin
	barW := plotW / float64(bins)
	for i, c := range counts {
		if c == 0 {
			continue
		}
		h := plotH * float64(c) / float64(maxCount)
		dc.SetColor(cmap.At((float64(i) + 0.5) / float64(bins)))
		dc.DrawRectangle(margin+float64(i)*barW, margin+plotH-h, barW-1, h)
		dc.Fill()
	}

	r.drawAxes(dc)
	dc.SetColor(textColor)
	baseline := float64(r.config.Height) - margin + 14
	dc.DrawStringAnchored("0", margin, baseline, 0.5, 0.5)
	dc.DrawStringAnchored("0.5", margin+plotW/2, baseline, 0.5, 0.5)
	dc.DrawStringAnchored("1", margin+plotW, baseline, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%d", maxCount), margin-4, margin, 1, 0.5)

	return r.encodeContext(dc)
}

// RegimeBar renders one horizontal bar per regime, scaled to the largest
// count. Labels and counts are parallel.
func (r *PlotRenderer) RegimeBar(labels []string, counts []int) ([]byte, error) {
	if len(labels) != len(counts) {
		return nil, fmt.Errorf("regime bar: %d labels for %d counts", len(labels), len(counts))
	}
	total, maxCount := 0, 1
	for _, c := range counts {
		total += c
		maxCount = max(maxCount, c)
	}

	dc := r.newCanvas(fmt.Sprintf("Regimes (n=%d)", total))
	if len(labels) == 0 {
		return r.encodeContext(dc)
	}

	labelW := 150.0
	plotW := float64(r.config.Width) - 2*margin - labelW
	rowH := (float64(r.config.Height) - 2*margin) / float64(len(labels))
	for i, label := range labels {
		y := margin + float64(i)*rowH
		dc.SetColor(textColor)
		dc.DrawStringAnchored(label, margin+labelW-6, y+rowH/2, 1, 0.5)

		w := plotW * float64(counts[i]) / float64(maxCount)
		dc.SetColor(colormap.Regimes.AtIndex(i))
		dc.DrawRectangle(margin+labelW, y+rowH*0.15, w, rowH*0.7)
		dc.Fill()

		frac := 0.0
		if total > 0 {
			frac = float64(counts[i]) / float64(total)
		}
		dc.SetColor(textColor)
		dc.DrawStringAnchored(fmt.Sprintf("%d (%.1f%%)", counts[i], 100*frac), margin+labelW+w+6, y+rowH/2, 0, 0.5)
	}

	return r.encodeContext(dc)
}

func (r *PlotRenderer) newCanvas(title string) *gg.Context {
	dc := gg.NewContext(r.config.Width, r.config.Height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(textColor)
	dc.DrawStringAnchored(title, float64(r.config.Width)/2, margin/2, 0.5, 0.5)
	return dc
}

func (r *PlotRenderer) drawAxes(dc *gg.Context) {
	left, bottom := margin, float64(r.config.Height)-margin
	dc.SetColor(axisColor)
	dc.SetLineWidth(1)
	dc.DrawLine(left, margin, left, bottom)
	dc.DrawLine(left, bottom, float64(r.config.Width)-margin, bottom)
	dc.Stroke()
}

func (r *PlotRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
