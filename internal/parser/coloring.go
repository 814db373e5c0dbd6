package parser

import "github.com/tracelens/backend/internal/models"

// paletteSteps are the component values of the thread palette, brightest first.
var paletteSteps = [8]uint8{255, 239, 223, 207, 191, 175, 159, 143}

// PaletteSize is the number of distinct thread colors.
const PaletteSize = len(paletteSteps) * len(paletteSteps) * len(paletteSteps)

// Palette is the fixed thread color sequence: R outermost, B innermost.
var Palette = buildPalette()

func buildPalette() [PaletteSize]models.RGB {
	var p [PaletteSize]models.RGB
	i := 0
	for _, r := range paletteSteps {
		for _, g := range paletteSteps {
			for _, b := range paletteSteps {
				p[i] = models.RGB{R: r, G: g, B: b}
				i++
			}
		}
	}
	return p
}

// ThreadColors hands out palette entries to thread ids in first-seen order.
// It belongs to one ingestion pass.
type ThreadColors struct {
	index    map[string]int
	order    []string
	fallback models.RGB
}

// NewThreadColors returns an empty allocator.
func NewThreadColors() *ThreadColors {
	return &ThreadColors{
		index:    make(map[string]int),
		fallback: models.White,
	}
}

// ColorFor returns the color of id, assigning the next palette entry on first
// sight. Once the palette is used up unseen ids get the fallback color and
// are not recorded.
func (tc *ThreadColors) ColorFor(id string) models.RGB {
	if i, ok := tc.index[id]; ok {
		return Palette[i]
	}
	if len(tc.order) >= PaletteSize {
		return tc.fallback
	}
	i := len(tc.order)
	tc.index[id] = i
	tc.order = append(tc.order, id)
	return Palette[i]
}

// Len returns how many ids hold a palette color.
func (tc *ThreadColors) Len() int {
	return len(tc.order)
}

// Threads lists the mapped ids in first-seen order.
func (tc *ThreadColors) Threads() []models.ThreadInfo {
	out := make([]models.ThreadInfo, len(tc.order))
	for i, id := range tc.order {
		out[i] = models.ThreadInfo{ID: id, Color: Palette[i]}
	}
	return out
}
