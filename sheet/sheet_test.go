package sheet

import (
	"bytes"
	"context"
	"image"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/qrsheet/codes"
	"github.com/wudi/qrsheet/ir/semantic"
	"github.com/wudi/qrsheet/observability"
	"github.com/wudi/qrsheet/symbol"
)

func fakeSymbol(i int, prefix string, start int) *symbol.Rendered {
	img := image.NewGray(image.Rect(0, 0, 21, 21))
	for p := range img.Pix {
		if (p+i)%3 == 0 {
			img.Pix[p] = 0
		} else {
			img.Pix[p] = 255
		}
	}
	return &symbol.Rendered{
		Item:   codes.Item{Index: i, Text: prefix + strconv.Itoa(start+i)},
		Image:  img,
		SizePx: 21,
	}
}

func placeN(t *testing.T, a *Assembler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := a.Place(fakeSymbol(i, "R13-", 1))
		require.NoError(t, err)
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (m *recordingMetrics) Counter(name string, delta float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += delta
}
func (m *recordingMetrics) Observe(string, float64, ...string) {}
func (m *recordingMetrics) Gauge(string, float64)              {}

func TestAssembler_SinglePage(t *testing.T) {
	opts := DefaultOptions()
	opts.Subject = "R13-1..R13-12"
	a, err := NewAssembler(opts)
	require.NoError(t, err)

	placeN(t, a, 12)
	assert.Equal(t, 1, a.Pages())
	assert.Equal(t, 12, a.Placed())

	doc, err := a.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "qrcodes.pdf", doc.Name)
	assert.Equal(t, 1, doc.Pages)
	assert.Equal(t, 12, doc.Items)
	assert.Len(t, doc.Digest, 64)
	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-1.7")))
	assert.True(t, bytes.HasSuffix(doc.Data, []byte("%%EOF\n")))

	var out bytes.Buffer
	n, err := doc.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(doc.Data)), n)
}

func TestAssembler_SecondPageOpensLazily(t *testing.T) {
	a, err := NewAssembler(DefaultOptions())
	require.NoError(t, err)

	placeN(t, a, 50)
	assert.Equal(t, 1, a.Pages())

	p, err := a.Place(fakeSymbol(50, "R13-", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Pages())
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 0, p.Row)
	assert.Equal(t, 0, p.Col)

	doc, err := a.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Pages)
	assert.Equal(t, 51, doc.Items)
}

func TestAssembler_OutOfOrder(t *testing.T) {
	a, err := NewAssembler(DefaultOptions())
	require.NoError(t, err)

	_, err = a.Place(fakeSymbol(1, "A", 0))
	require.ErrorIs(t, err, ErrOutOfOrder)

	placeN(t, a, 2)
	_, err = a.Place(fakeSymbol(1, "A", 0))
	require.ErrorIs(t, err, ErrOutOfOrder)
	_, err = a.Place(nil)
	require.Error(t, err)
}

func TestAssembler_Discard(t *testing.T) {
	a, err := NewAssembler(DefaultOptions())
	require.NoError(t, err)
	placeN(t, a, 3)

	a.Discard()
	a.Discard()
	_, err = a.Place(fakeSymbol(3, "R13-", 1))
	require.ErrorIs(t, err, ErrDiscarded)
	_, err = a.Finalize(context.Background())
	require.ErrorIs(t, err, ErrDiscarded)
}

func TestAssembler_FinalizeOnceAndNotEmpty(t *testing.T) {
	a, err := NewAssembler(DefaultOptions())
	require.NoError(t, err)
	_, err = a.Finalize(context.Background())
	require.ErrorIs(t, err, ErrEmpty)

	placeN(t, a, 1)
	_, err = a.Finalize(context.Background())
	require.NoError(t, err)
	_, err = a.Finalize(context.Background())
	require.ErrorIs(t, err, ErrFinalized)
	_, err = a.Place(fakeSymbol(1, "R13-", 1))
	require.ErrorIs(t, err, ErrFinalized)
}

func TestAssembler_DeterministicDigest(t *testing.T) {
	digest := func() string {
		opts := DefaultOptions()
		opts.Deterministic = true
		a, err := NewAssembler(opts)
		require.NoError(t, err)
		placeN(t, a, 7)
		doc, err := a.Finalize(context.Background())
		require.NoError(t, err)
		return doc.Digest
	}
	assert.Equal(t, digest(), digest())
}

func TestAssembler_UncompressedContent(t *testing.T) {
	opts := DefaultOptions()
	opts.Compression = 0
	a, err := NewAssembler(opts)
	require.NoError(t, err)
	placeN(t, a, 2)
	doc, err := a.Finalize(context.Background())
	require.NoError(t, err)

	// border stroke, symbol draw and label show all appear in the page stream
	for _, op := range []string{" re\n", " Do\n", " Tj\n", "1.08 w\n"} {
		assert.Contains(t, string(doc.Data), op)
	}
}

func TestAssembler_SubsetsLabelFont(t *testing.T) {
	build := func(subset bool) []byte {
		opts := DefaultOptions()
		opts.Compression = 0
		opts.SubsetFonts = subset
		a, err := NewAssembler(opts)
		require.NoError(t, err)
		placeN(t, a, 3)
		doc, err := a.Finalize(context.Background())
		require.NoError(t, err)
		return doc.Data
	}
	full, subset := build(false), build(true)
	assert.Less(t, len(subset), len(full)/2)
	assert.Regexp(t, `/BaseFont /[A-Z]{6}\+`, string(subset))
	assert.NotRegexp(t, `/BaseFont /[A-Z]{6}\+`, string(full))
}

func TestAssembler_Metrics(t *testing.T) {
	m := &recordingMetrics{}
	a, err := NewAssembler(DefaultOptions(), WithMetrics(m), WithLogger(observability.NopLogger{}))
	require.NoError(t, err)
	placeN(t, a, 51)
	doc, err := a.Finalize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, m.counters[observability.MetricPagesWritten])
	assert.Greater(t, m.counters[observability.MetricObjectsWritten], 4.0)
	assert.Greater(t, m.counters[observability.MetricBytesWritten], 0.0)
	assert.Less(t, m.counters[observability.MetricBytesWritten], float64(len(doc.Data)))
}

func TestNewAssembler_RejectsBadLayout(t *testing.T) {
	opts := DefaultOptions()
	opts.Page.Columns = 0
	_, err := NewAssembler(opts)
	require.Error(t, err)

	opts = DefaultOptions()
	opts.Style.LabelFont = []byte("not a font")
	a, err := NewAssembler(opts)
	require.NoError(t, err)
	placeN(t, a, 1)
	_, err = a.Finalize(context.Background())
	require.Error(t, err)
}

func TestVerticalCenter(t *testing.T) {
	assert.InDelta(t, 2.1, verticalCenter(nil, 6), 1e-9)
	fd := &semantic.FontDescriptor{Ascent: 900, Descent: -200}
	assert.InDelta(t, 0.35*10, verticalCenter(fd, 10), 1e-9)
}
