// Package grid computes where the Nth item of a sheet lands: its page, its
// row and column, and the rectangles drawn for it. All lengths are inches
// measured from the top-left corner of the page.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// PageConfig is the fixed layout of every page in a batch. Cell size is
// derived from the page size, the counts and the margin.
type PageConfig struct {
	Width         float64 `mapstructure:"width" validate:"gt=0"`
	Height        float64 `mapstructure:"height" validate:"gt=0"`
	Columns       int     `mapstructure:"columns" validate:"gte=1"`
	Rows          int     `mapstructure:"rows" validate:"gte=1"`
	Margin        float64 `mapstructure:"margin" validate:"gte=0"`
	SymbolPadding float64 `mapstructure:"symbol_padding" validate:"gte=0"`
	LabelBand     float64 `mapstructure:"label_band" validate:"gte=0"`
}

// DefaultPageConfig is A4 portrait with a 5x10 grid.
func DefaultPageConfig() PageConfig {
	return PageConfig{
		Width:         8.27,
		Height:        11.69,
		Columns:       5,
		Rows:          10,
		Margin:        0.1,
		SymbolPadding: 0.02,
		LabelBand:     0.12,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid page config")

// CellWidth is the width of one grid cell.
func (c PageConfig) CellWidth() float64 {
	return (c.Width - c.Margin*float64(c.Columns+1)) / float64(c.Columns)
}

// CellHeight is the height of one grid cell, label band included.
func (c PageConfig) CellHeight() float64 {
	return (c.Height - c.Margin*float64(c.Rows+1)) / float64(c.Rows)
}

// SymbolSize is the edge of the square symbol drawn in each cell.
func (c PageConfig) SymbolSize() float64 {
	return math.Min(c.CellWidth(), c.CellHeight()-c.LabelBand) - 2*c.SymbolPadding
}

// BorderHeight is the height of the rectangle drawn around symbol and
// label. It hugs the content instead of filling the nominal cell.
func (c PageConfig) BorderHeight() float64 {
	return 2*c.SymbolPadding + c.SymbolSize() + c.LabelBand
}

func (c PageConfig) PerPage() int { return c.Columns * c.Rows }

// PagesFor returns the number of pages n items occupy.
func (c PageConfig) PagesFor(n int) int {
	if n <= 0 {
		return 0
	}
	per := c.PerPage()
	return (n + per - 1) / per
}

// Validate rejects configurations whose derived geometry is empty.
func (c PageConfig) Validate() error {
	switch {
	case c.Columns < 1 || c.Rows < 1:
		return fmt.Errorf("%w: need at least one column and row, got %dx%d", ErrInvalidConfig, c.Columns, c.Rows)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: page size %.3gx%.3g", ErrInvalidConfig, c.Width, c.Height)
	case c.Margin < 0 || c.SymbolPadding < 0 || c.LabelBand < 0:
		return fmt.Errorf("%w: negative spacing", ErrInvalidConfig)
	case c.CellWidth() <= 0 || c.CellHeight() <= 0:
		return fmt.Errorf("%w: margins leave no room for cells", ErrInvalidConfig)
	case c.SymbolSize() <= 0:
		return fmt.Errorf("%w: padding and label band leave no room for the symbol", ErrInvalidConfig)
	}
	return nil
}

// Cell is the grid slot of one item.
type Cell struct {
	Page    int
	Row     int
	Col     int
	OriginX float64
	OriginY float64
	Width   float64
	Height  float64
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X, Y, W, H float64
}

// Placement is everything drawn for one item.
type Placement struct {
	Cell
	Border Rect
	Symbol Rect
	// LabelX, LabelY is the center of the label: the cell's horizontal
	// center on the label band midline.
	LabelX float64
	LabelY float64
}

// Locate maps a linear index to its cell in row-major order.
func Locate(c PageConfig, index int) Cell {
	per := c.PerPage()
	within := index % per
	row, col := within/c.Columns, within%c.Columns
	w, h := c.CellWidth(), c.CellHeight()
	return Cell{
		Page:    index / per,
		Row:     row,
		Col:     col,
		OriginX: c.Margin + float64(col)*(w+c.Margin),
		OriginY: c.Margin + float64(row)*(h+c.Margin),
		Width:   w,
		Height:  h,
	}
}

// Place locates index and lays out its border, symbol and label.
func Place(c PageConfig, index int) Placement {
	cell := Locate(c, index)
	size := c.SymbolSize()
	border := Rect{X: cell.OriginX, Y: cell.OriginY, W: cell.Width, H: c.BorderHeight()}
	return Placement{
		Cell:   cell,
		Border: border,
		Symbol: Rect{
			X: cell.OriginX + (cell.Width-size)/2,
			Y: cell.OriginY + c.SymbolPadding,
			W: size,
			H: size,
		},
		LabelX: cell.OriginX + cell.Width/2,
		LabelY: border.Y + border.H - c.LabelBand/2,
	}
}
