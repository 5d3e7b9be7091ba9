package writer

import (
	"bytes"
	"compress/zlib"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/qrsheet/ir/raw"
	"github.com/wudi/qrsheet/ir/semantic"
)

func pdfVersion(cfg Config) string {
	if cfg.Version == "" {
		return string(PDF17)
	}
	return string(cfg.Version)
}

func fileID(doc *semantic.Document, cfg Config) [2][]byte {
	seed := deterministicIDSeed(doc, cfg)
	if cfg.Deterministic {
		return [2][]byte{seed, seed}
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		id = seed
	}
	idB := make([]byte, len(id))
	copy(idB, id)
	return [2][]byte{id, idB}
}

func deterministicIDSeed(doc *semantic.Document, cfg Config) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(pdfVersion(cfg)))
	if doc.Info != nil {
		for _, s := range []string{doc.Info.Title, doc.Info.Author, doc.Info.Subject, doc.Info.Creator, doc.Info.Producer} {
			h.Write([]byte(s))
			h.Write([]byte{0})
		}
		h.Write([]byte(strings.Join(doc.Info.Keywords, ",")))
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(doc.Pages)))
	h.Write(n[:])
	for _, p := range doc.Pages {
		fmt.Fprintf(h, "%f-%f-%f-%f", p.MediaBox.LLX, p.MediaBox.LLY, p.MediaBox.URX, p.MediaBox.URY)
		for _, cs := range p.Contents {
			h.Write(serializeContentStream(cs))
		}
	}
	return h.Sum(nil)
}

func rectArray(r semantic.Rectangle) *raw.ArrayObj {
	return raw.NewArray(
		pdfNumber(r.LLX),
		pdfNumber(r.LLY),
		pdfNumber(r.URX),
		pdfNumber(r.URY),
	)
}

// pdfNumber keeps integral values as integers in the output.
func pdfNumber(v float64) raw.NumberObj {
	if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		return raw.NumberInt(int64(v))
	}
	return raw.NumberFloat(v)
}

// flateEncode produces a zlib stream, which is what FlateDecode expects.
func flateEncode(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildToUnicodeCMap(font *semantic.Font) []byte {
	if font == nil || len(font.ToUnicode) == 0 {
		return nil
	}
	keys := make([]int, 0, len(font.ToUnicode))
	for cid := range font.ToUnicode {
		keys = append(keys, cid)
	}
	sort.Ints(keys)
	registry, ordering, supplement := "Adobe", "Identity", 0
	if font.CIDSystemInfo != nil {
		if font.CIDSystemInfo.Registry != "" {
			registry = font.CIDSystemInfo.Registry
		}
		if font.CIDSystemInfo.Ordering != "" {
			ordering = font.CIDSystemInfo.Ordering
		}
		supplement = font.CIDSystemInfo.Supplement
	}
	name := font.BaseFont
	if name == "" {
		name = "ToUnicode"
	}
	name = strings.ReplaceAll(name, " ", "") + "-UTF16"
	var buf bytes.Buffer
	buf.WriteString("/CIDInit /ProcSet findresource begin\n")
	buf.WriteString("12 dict begin\n")
	buf.WriteString("begincmap\n")
	fmt.Fprintf(&buf, "/CIDSystemInfo << /Registry (%s) /Ordering (%s) /Supplement %d >> def\n", registry, ordering, supplement)
	fmt.Fprintf(&buf, "/CMapName /%s def\n", pdfNameLiteral(name))
	buf.WriteString("/CMapType 2 def\n")
	buf.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	for i := 0; i < len(keys); {
		chunk := min(len(keys)-i, 100)
		fmt.Fprintf(&buf, "%d beginbfchar\n", chunk)
		for j := 0; j < chunk; j++ {
			cid := keys[i+j]
			fmt.Fprintf(&buf, "<%04X> <%s>\n", cid, utf16Hex(font.ToUnicode[cid]))
		}
		buf.WriteString("endbfchar\n")
		i += chunk
	}
	buf.WriteString("endcmap\n")
	buf.WriteString("CMapName currentdict /CMap defineresource pop\n")
	buf.WriteString("end\nend\n")
	return buf.Bytes()
}

func utf16Hex(runes []rune) string {
	var b strings.Builder
	for _, u := range utf16.Encode(runes) {
		fmt.Fprintf(&b, "%04X", u)
	}
	return b.String()
}

// encodeCIDWidths writes the W array using the c_first c_last w range form
// for runs of equal widths over consecutive CIDs.
func encodeCIDWidths(widths map[int]int) *raw.ArrayObj {
	arr := raw.NewArray()
	if len(widths) == 0 {
		return arr
	}
	codes := make([]int, 0, len(widths))
	for c := range widths {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	start := codes[0]
	prev := codes[0]
	current := widths[codes[0]]
	for _, code := range codes[1:] {
		w := widths[code]
		if w == current && code == prev+1 {
			prev = code
			continue
		}
		arr.Append(raw.NumberInt(int64(start)))
		arr.Append(raw.NumberInt(int64(prev)))
		arr.Append(raw.NumberInt(int64(current)))
		start = code
		prev = code
		current = w
	}
	arr.Append(raw.NumberInt(int64(start)))
	arr.Append(raw.NumberInt(int64(prev)))
	arr.Append(raw.NumberInt(int64(current)))
	return arr
}

func serializeContentStream(cs semantic.ContentStream) []byte {
	if len(cs.RawBytes) > 0 {
		return cs.RawBytes
	}
	var buf bytes.Buffer
	for _, op := range cs.Operations {
		for _, operand := range op.Operands {
			buf.Write(serializeOperand(operand))
			buf.WriteByte(' ')
		}
		buf.WriteString(op.Operator)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func serializeOperand(op semantic.Operand) []byte {
	switch v := op.(type) {
	case semantic.NumberOperand:
		return []byte(formatNumber(v.Value))
	case semantic.NameOperand:
		return []byte("/" + pdfNameLiteral(v.Value))
	case semantic.StringOperand:
		if v.Hex {
			return hexString(v.Value)
		}
		return escapeLiteralString(v.Value)
	case semantic.ArrayOperand:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, it := range v.Values {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.Write(serializeOperand(it))
		}
		buf.WriteByte(']')
		return buf.Bytes()
	default:
		return []byte("null")
	}
}

// formatNumber prints reals without exponents, which PDF does not allow,
// trimmed to four decimals.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func hexString(data []byte) []byte {
	dst := make([]byte, hex.EncodedLen(len(data))+2)
	dst[0] = '<'
	hex.Encode(dst[1:], data)
	dst[len(dst)-1] = '>'
	return bytes.ToUpper(dst)
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// textString encodes an Info value: ASCII stays a literal string, anything
// else becomes UTF-16BE with a byte order mark.
func textString(s string) raw.StringObj {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return raw.Str([]byte(s))
	}
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2, 2+2*len(units))
	out[0], out[1] = 0xFE, 0xFF
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return raw.HexStr(out)
}

func buildTrailer(size int, catalogRef raw.ObjectRef, infoRef *raw.ObjectRef, ids [2][]byte) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(size)))
	trailer.Set(raw.NameLiteral("Root"), raw.Ref(catalogRef.Num, catalogRef.Gen))
	if infoRef != nil {
		trailer.Set(raw.NameLiteral("Info"), raw.Ref(infoRef.Num, infoRef.Gen))
	}
	trailer.Set(raw.NameLiteral("ID"), raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	return trailer
}

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return []byte("/" + v.Value())
	case raw.NumberObj:
		if v.IsInteger() {
			return []byte(strconv.FormatInt(v.Int(), 10))
		}
		return []byte(formatNumber(v.Float()))
	case raw.BoolObj:
		if v.Value() {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		if v.IsHex() {
			return hexString(v.Value())
		}
		return escapeLiteralString(v.Value())
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		var b bytes.Buffer
		b.WriteString("<<")
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			b.WriteString("/" + k.Value() + " ")
			b.Write(serializePrimitive(val))
		}
		b.WriteString(">>")
		return b.Bytes()
	case *raw.StreamObj:
		var b bytes.Buffer
		b.Write(serializePrimitive(v.Dict))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.Ref().Num, v.Ref().Gen))
	default:
		return []byte("null")
	}
}

// pdfNameLiteral escapes bytes outside the regular name character set.
func pdfNameLiteral(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_' || ch == '.' || ch == '+' {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
