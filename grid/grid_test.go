package grid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func TestDefaultPageConfig_Geometry(t *testing.T) {
	c := DefaultPageConfig()
	require.NoError(t, c.Validate())

	assert.InDelta(t, (8.27-0.6)/5, c.CellWidth(), eps)
	assert.InDelta(t, (11.69-1.1)/10, c.CellHeight(), eps)
	// Height limits the symbol: 1.059 - 0.12 < 1.534.
	assert.InDelta(t, (11.69-1.1)/10-0.12-0.04, c.SymbolSize(), eps)
	assert.InDelta(t, c.SymbolSize()+0.16, c.BorderHeight(), eps)
	assert.Equal(t, 50, c.PerPage())
}

func TestPagesFor(t *testing.T) {
	c := DefaultPageConfig()
	for n, want := range map[int]int{0: 0, 1: 1, 12: 1, 50: 1, 51: 2, 100: 2, 101: 3} {
		assert.Equal(t, want, c.PagesFor(n), "n=%d", n)
	}
}

func TestValidate(t *testing.T) {
	bad := []PageConfig{
		{Width: 8, Height: 11, Columns: 0, Rows: 1},
		{Width: 0, Height: 11, Columns: 1, Rows: 1},
		{Width: 8, Height: 11, Columns: 1, Rows: 1, Margin: -1},
		{Width: 1, Height: 1, Columns: 10, Rows: 1, Margin: 0.2},
		{Width: 8, Height: 11, Columns: 1, Rows: 100, LabelBand: 0.2},
	}
	for i, c := range bad {
		assert.True(t, errors.Is(c.Validate(), ErrInvalidConfig), "case %d", i)
	}
}

func TestLocate_RowMajor(t *testing.T) {
	c := DefaultPageConfig()

	first := Locate(c, 0)
	assert.Equal(t, 0, first.Page)
	assert.Equal(t, 0, first.Row)
	assert.Equal(t, 0, first.Col)
	assert.InDelta(t, 0.1, first.OriginX, eps)
	assert.InDelta(t, 0.1, first.OriginY, eps)

	sixth := Locate(c, 5)
	assert.Equal(t, 1, sixth.Row)
	assert.Equal(t, 0, sixth.Col)
	assert.InDelta(t, 0.1+c.CellHeight()+0.1, sixth.OriginY, eps)

	last := Locate(c, 49)
	assert.Equal(t, 0, last.Page)
	assert.Equal(t, 9, last.Row)
	assert.Equal(t, 4, last.Col)
	assert.InDelta(t, 0.1+4*(c.CellWidth()+0.1), last.OriginX, eps)
}

func TestLocate_IdempotentAndInjective(t *testing.T) {
	c := DefaultPageConfig()
	type key struct{ page, row, col int }
	seen := make(map[key]int)
	for i := 0; i < 3*c.PerPage(); i++ {
		a, b := Locate(c, i), Locate(c, i)
		require.Equal(t, a, b)
		k := key{a.Page, a.Row, a.Col}
		prev, dup := seen[k]
		require.False(t, dup, "index %d collides with %d", i, prev)
		seen[k] = i
	}
}

func TestLocate_MonotonicPages(t *testing.T) {
	c := DefaultPageConfig()
	prev := 0
	for i := 0; i < 4*c.PerPage(); i++ {
		page := Locate(c, i).Page
		if i > 0 && i%c.PerPage() == 0 {
			assert.Equal(t, prev+1, page, "index %d", i)
		} else {
			assert.Equal(t, prev, page, "index %d", i)
		}
		prev = page
	}
}

func TestPlace_SinglePageOfTwelve(t *testing.T) {
	c := DefaultPageConfig()
	pages := map[int]bool{}
	for i := 0; i < 12; i++ {
		pages[Place(c, i).Page] = true
	}
	assert.Equal(t, map[int]bool{0: true}, pages)

	p := Place(c, 11) // R13-12: row 2, col 1
	assert.Equal(t, 2, p.Row)
	assert.Equal(t, 1, p.Col)
}

func TestPlace_FiftyOneSpillsToSecondPage(t *testing.T) {
	c := DefaultPageConfig()
	p := Place(c, 50)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 0, p.Row)
	assert.Equal(t, 0, p.Col)
	assert.Equal(t, Locate(c, 0).OriginX, p.OriginX)
	assert.Equal(t, Locate(c, 0).OriginY, p.OriginY)
}

func TestPlace_Rectangles(t *testing.T) {
	c := DefaultPageConfig()
	p := Place(c, 7)
	s := c.SymbolSize()

	assert.Equal(t, p.OriginX, p.Border.X)
	assert.Equal(t, p.OriginY, p.Border.Y)
	assert.InDelta(t, c.CellWidth(), p.Border.W, eps)
	assert.InDelta(t, s+2*c.SymbolPadding+c.LabelBand, p.Border.H, eps)
	assert.LessOrEqual(t, p.Border.H, p.Height+eps)

	assert.InDelta(t, p.OriginX+(p.Width-s)/2, p.Symbol.X, eps)
	assert.InDelta(t, p.OriginY+c.SymbolPadding, p.Symbol.Y, eps)
	assert.InDelta(t, s, p.Symbol.W, eps)
	assert.InDelta(t, s, p.Symbol.H, eps)

	assert.InDelta(t, p.OriginX+p.Width/2, p.LabelX, eps)
	assert.InDelta(t, p.Symbol.Y+s+c.SymbolPadding+c.LabelBand/2, p.LabelY, eps)
}
