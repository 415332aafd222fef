// Package colormap provides color schemes for score plots.
package colormap

import (
	"image/color"
	"math"
	"sort"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 || math.IsNaN(t) {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := min(lower+1, len(c.colors)-1)
	return interpolate(c.colors[lower], c.colors[upper], idx-float64(lower))
}

// AtIndex returns the stop at index i, wrapping around.
func (c LinearColormap) AtIndex(i int) color.Color {
	return c.colors[i%len(c.colors)]
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(float64(a) + t*(float64(b)-float64(a)))
	}
	return color.RGBA{R: mix(c1.R, c2.R), G: mix(c1.G, c2.G), B: mix(c1.B, c2.B), A: 255}
}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{colors: []color.RGBA{
	rgb(68, 1, 84), rgb(72, 35, 116), rgb(64, 67, 135), rgb(52, 94, 141),
	rgb(41, 120, 142), rgb(32, 144, 140), rgb(34, 167, 132), rgb(68, 190, 112),
	rgb(121, 209, 81), rgb(189, 222, 38), rgb(253, 231, 37),
}}

// Plasma colormap
var Plasma = LinearColormap{colors: []color.RGBA{
	rgb(13, 8, 135), rgb(75, 3, 161), rgb(125, 3, 168), rgb(168, 34, 150),
	rgb(203, 70, 121), rgb(229, 107, 93), rgb(248, 148, 65), rgb(253, 195, 40),
	rgb(240, 249, 33),
}}

// Magma colormap
var Magma = LinearColormap{colors: []color.RGBA{
	rgb(0, 0, 4), rgb(28, 16, 68), rgb(79, 18, 123), rgb(129, 37, 129),
	rgb(181, 54, 122), rgb(229, 80, 100), rgb(251, 135, 97), rgb(254, 194, 135),
	rgb(252, 253, 191),
}}

// RdBu is a diverging map for axes centered on 0.5, such as drbi.
var RdBu = LinearColormap{colors: []color.RGBA{
	rgb(103, 0, 31), rgb(178, 24, 43), rgb(214, 96, 77), rgb(244, 165, 130),
	rgb(247, 247, 247), rgb(146, 197, 222), rgb(67, 147, 195), rgb(33, 102, 172),
	rgb(5, 48, 97),
}}

// CategoricalColormap provides distinct colors for categories.
type CategoricalColormap struct {
	colors []color.RGBA
}

// At returns color at position t.
func (c CategoricalColormap) At(t float64) color.Color {
	idx := int(t * float64(len(c.colors)))
	if idx >= len(c.colors) {
		idx = len(c.colors) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return c.colors[idx]
}

// AtIndex returns color at index.
func (c CategoricalColormap) AtIndex(i int) color.Color {
	return c.colors[i%len(c.colors)]
}

// Regimes colors the seven regimes in report order: plastic, stress,
// committed, rigid, collapsed, transient, unclassified.
var Regimes = CategoricalColormap{colors: []color.RGBA{
	rgb(44, 160, 44),   // green
	rgb(255, 127, 14),  // orange
	rgb(31, 119, 180),  // blue
	rgb(214, 39, 40),   // red
	rgb(140, 86, 75),   // brown
	rgb(23, 190, 207),  // cyan
	rgb(127, 127, 127), // gray
}}

var registry = map[string]Colormap{
	"viridis": Viridis,
	"plasma":  Plasma,
	"magma":   Magma,
	"rdbu":    RdBu,
	"regimes": Regimes,
}

// Get returns the named colormap.
func Get(name string) (Colormap, bool) {
	c, ok := registry[name]
	return c, ok
}

// Names lists the registered colormaps in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
