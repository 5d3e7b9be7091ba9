package fonts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
)

// keptTables are the tables an embedded PDF font program needs besides the
// rebuilt glyf, loca, hmtx and maxp. Layout tables are dropped because label
// text is shaped before it is encoded.
var keptTables = []string{"head", "hhea", "cmap", "cvt ", "fpgm", "prep"}

var errNotTrueType = errors.New("not a glyf-based TrueType font")

// SubsetTrueType rebuilds a TrueType program so that only the given glyph
// ids (plus .notdef and composite components) carry outlines. Glyph ids keep
// their numbering, so Identity CID mappings stay valid. Fonts without glyf
// outlines are returned unchanged.
func SubsetTrueType(data []byte, gids []int) ([]byte, error) {
	f, err := parseFontFile(data)
	if err != nil {
		return nil, err
	}
	if !f.has("glyf", "loca", "head", "maxp", "hmtx", "hhea") {
		return data, nil
	}

	head, _ := f.table("head")
	maxp, _ := f.table("maxp")
	hhea, _ := f.table("hhea")
	if len(head) < 54 || len(maxp) < 6 || len(hhea) < 36 {
		return nil, fmt.Errorf("subset: %w", errNotTrueType)
	}
	longLoca := int16(binary.BigEndian.Uint16(head[50:52])) == 1
	numGlyphs := int(binary.BigEndian.Uint16(maxp[4:6]))

	keep := map[int]bool{0: true}
	for _, g := range gids {
		if g >= 0 && g < numGlyphs {
			keep[g] = true
		}
	}
	glyphs, err := f.glyphs(numGlyphs, longLoca)
	if err != nil {
		return nil, err
	}
	glyphs.closeComposites(keep)

	last := 0
	for g := range keep {
		last = max(last, g)
	}
	count := last + 1

	glyf, loca := glyphs.rebuild(keep, count)
	hmtx, err := f.rebuildHmtx(count, int(binary.BigEndian.Uint16(hhea[34:36])))
	if err != nil {
		return nil, err
	}

	out := &sfntWriter{}
	out.add("glyf", glyf)
	out.add("loca", loca)
	out.add("hmtx", hmtx)
	out.add("maxp", patchUint16(maxp, 4, uint16(count)))
	for _, tag := range keptTables {
		t, ok := f.table(tag)
		if !ok {
			continue
		}
		switch tag {
		case "head":
			// loca is always written in the long format
			t = patchUint16(t, 50, 1)
		case "hhea":
			t = patchUint16(t, 34, uint16(count))
		}
		out.add(tag, t)
	}
	return out.bytes(), nil
}

// SubsetTag derives the six-letter prefix PDF uses to mark a subset font
// name. Equal glyph sets give equal tags.
func SubsetTag(gids []int) string {
	sorted := slices.Clone(gids)
	slices.Sort(sorted)
	h := fnv.New32a()
	var b [4]byte
	for _, g := range sorted {
		binary.BigEndian.PutUint32(b[:], uint32(g))
		h.Write(b[:])
	}
	sum := h.Sum32()
	tag := make([]byte, 6)
	for i := range tag {
		tag[i] = 'A' + byte(sum%26)
		sum /= 26
	}
	return string(tag)
}

type fontFile struct {
	tables map[string][]byte
}

func parseFontFile(data []byte) (*fontFile, error) {
	if len(data) < 12 {
		return nil, errors.New("font header truncated")
	}
	n := int(binary.BigEndian.Uint16(data[4:6]))
	f := &fontFile{tables: make(map[string][]byte, n)}
	for i := 0; i < n; i++ {
		rec := 12 + 16*i
		if rec+16 > len(data) {
			return nil, errors.New("table directory truncated")
		}
		tag := string(data[rec : rec+4])
		off := binary.BigEndian.Uint32(data[rec+8 : rec+12])
		length := binary.BigEndian.Uint32(data[rec+12 : rec+16])
		if uint64(off)+uint64(length) > uint64(len(data)) {
			return nil, fmt.Errorf("table %q out of bounds", tag)
		}
		f.tables[tag] = data[off : off+length]
	}
	return f, nil
}

func (f *fontFile) table(tag string) ([]byte, bool) {
	t, ok := f.tables[tag]
	return t, ok
}

func (f *fontFile) has(tags ...string) bool {
	for _, tag := range tags {
		if _, ok := f.tables[tag]; !ok {
			return false
		}
	}
	return true
}

// glyphTable indexes glyf by glyph id.
type glyphTable struct {
	glyf    []byte
	offsets []uint32 // numGlyphs+1 entries
}

func (f *fontFile) glyphs(numGlyphs int, longLoca bool) (*glyphTable, error) {
	loca, _ := f.table("loca")
	glyf, _ := f.table("glyf")
	width := 2
	if longLoca {
		width = 4
	}
	if len(loca) < (numGlyphs+1)*width {
		return nil, errors.New("loca shorter than glyph count")
	}
	offsets := make([]uint32, numGlyphs+1)
	for i := range offsets {
		if longLoca {
			offsets[i] = binary.BigEndian.Uint32(loca[i*4:])
		} else {
			offsets[i] = uint32(binary.BigEndian.Uint16(loca[i*2:])) * 2
		}
	}
	return &glyphTable{glyf: glyf, offsets: offsets}, nil
}

func (g *glyphTable) outline(gid int) []byte {
	start, end := g.offsets[gid], g.offsets[gid+1]
	if start >= end || end > uint32(len(g.glyf)) {
		return nil
	}
	return g.glyf[start:end]
}

// Composite glyph flags.
const (
	argsAreWords   = 0x0001
	haveScale      = 0x0008
	moreComponents = 0x0020
	haveXYScale    = 0x0040
	haveTwoByTwo   = 0x0080
)

// closeComposites adds the components of every composite glyph in keep.
func (g *glyphTable) closeComposites(keep map[int]bool) {
	queue := make([]int, 0, len(keep))
	for gid := range keep {
		queue = append(queue, gid)
	}
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		if gid >= len(g.offsets)-1 {
			continue
		}
		o := g.outline(gid)
		if len(o) < 10 || int16(binary.BigEndian.Uint16(o)) >= 0 {
			continue
		}
		for p := 10; p+4 <= len(o); {
			flags := binary.BigEndian.Uint16(o[p:])
			component := int(binary.BigEndian.Uint16(o[p+2:]))
			if !keep[component] && component < len(g.offsets)-1 {
				keep[component] = true
				queue = append(queue, component)
			}
			p += 4
			if flags&argsAreWords != 0 {
				p += 4
			} else {
				p += 2
			}
			switch {
			case flags&haveScale != 0:
				p += 2
			case flags&haveXYScale != 0:
				p += 4
			case flags&haveTwoByTwo != 0:
				p += 8
			}
			if flags&moreComponents == 0 {
				break
			}
		}
	}
}

// rebuild writes outlines for kept glyphs and empty entries for the rest,
// returning glyf and a long-format loca.
func (g *glyphTable) rebuild(keep map[int]bool, count int) (glyf, loca []byte) {
	var out bytes.Buffer
	loca = make([]byte, 0, (count+1)*4)
	for gid := 0; gid < count; gid++ {
		loca = binary.BigEndian.AppendUint32(loca, uint32(out.Len()))
		if keep[gid] {
			o := g.outline(gid)
			out.Write(o)
			// glyph offsets stay 4-byte aligned
			for out.Len()%4 != 0 {
				out.WriteByte(0)
			}
		}
	}
	loca = binary.BigEndian.AppendUint32(loca, uint32(out.Len()))
	return out.Bytes(), loca
}

// rebuildHmtx writes one full metric per glyph for the first count glyphs.
func (f *fontFile) rebuildHmtx(count, numHMetrics int) ([]byte, error) {
	hmtx, _ := f.table("hmtx")
	if numHMetrics == 0 || len(hmtx) < numHMetrics*4 {
		return nil, errors.New("hmtx shorter than numberOfHMetrics")
	}
	out := make([]byte, 0, count*4)
	lastAdvance := hmtx[(numHMetrics-1)*4 : (numHMetrics-1)*4+2]
	for gid := 0; gid < count; gid++ {
		if gid < numHMetrics {
			out = append(out, hmtx[gid*4:gid*4+4]...)
			continue
		}
		out = append(out, lastAdvance...)
		lsb := numHMetrics*4 + (gid-numHMetrics)*2
		if lsb+2 <= len(hmtx) {
			out = append(out, hmtx[lsb:lsb+2]...)
		} else {
			out = append(out, 0, 0)
		}
	}
	return out, nil
}

func patchUint16(t []byte, off int, v uint16) []byte {
	c := slices.Clone(t)
	binary.BigEndian.PutUint16(c[off:], v)
	return c
}

type sfntWriter struct {
	tags   []string
	tables map[string][]byte
}

func (w *sfntWriter) add(tag string, data []byte) {
	if w.tables == nil {
		w.tables = make(map[string][]byte)
	}
	if _, dup := w.tables[tag]; !dup {
		w.tags = append(w.tags, tag)
	}
	w.tables[tag] = data
}

// bytes lays the tables out in tag order with 4-byte padding and fixes the
// head checkSumAdjustment.
func (w *sfntWriter) bytes() []byte {
	slices.Sort(w.tags)
	n := len(w.tags)
	selector := 0
	for 1<<(selector+1) <= n {
		selector++
	}
	searchRange := (1 << selector) * 16

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(0x00010000))
	binary.Write(&buf, binary.BigEndian, []uint16{uint16(n), uint16(searchRange), uint16(selector), uint16(n*16 - searchRange)})

	offset := 12 + 16*n
	headAt := -1
	for _, tag := range w.tags {
		t := w.tables[tag]
		if tag == "head" {
			t = slices.Clone(t)
			binary.BigEndian.PutUint32(t[8:], 0)
			w.tables[tag] = t
			headAt = offset
		}
		buf.WriteString(tag)
		binary.Write(&buf, binary.BigEndian, []uint32{checksum(t), uint32(offset), uint32(len(t))})
		offset += padded(len(t))
	}
	for _, tag := range w.tags {
		t := w.tables[tag]
		buf.Write(t)
		buf.Write(make([]byte, padded(len(t))-len(t)))
	}

	out := buf.Bytes()
	if headAt >= 0 {
		binary.BigEndian.PutUint32(out[headAt+8:], 0xB1B0AFBA-checksum(out))
	}
	return out
}

func padded(n int) int { return (n + 3) &^ 3 }

func checksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i < len(data); i += 4 {
		var word [4]byte
		copy(word[:], data[i:])
		sum += binary.BigEndian.Uint32(word[:])
	}
	return sum
}
