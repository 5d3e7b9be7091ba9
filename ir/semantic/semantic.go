// Package semantic is the page-level document model produced by the builder and
// consumed by the writer.
package semantic

// Document is the semantic representation of a PDF.
type Document struct {
	Pages []*Page
	Info  *DocumentInfo
	Lang  string
}

// Page models a single PDF page.
type Page struct {
	Index     int
	MediaBox  Rectangle
	Resources *Resources
	Contents  []ContentStream
}

// Width returns the media box width in points.
func (p *Page) Width() float64 { return p.MediaBox.URX - p.MediaBox.LLX }

// Height returns the media box height in points.
func (p *Page) Height() float64 { return p.MediaBox.URY - p.MediaBox.LLY }

// ContentStream is a sequence of operations on a page.
type ContentStream struct {
	Operations []Operation
	RawBytes   []byte
}

// Operation represents a PDF operator and operands.
type Operation struct {
	Operator string
	Operands []Operand
}

// Operand is a type-safe operand value.
type Operand interface {
	operand()
	Type() string
}

type NumberOperand struct{ Value float64 }

func (NumberOperand) operand()     {}
func (NumberOperand) Type() string { return "number" }

type NameOperand struct{ Value string }

func (NameOperand) operand()     {}
func (NameOperand) Type() string { return "name" }

// StringOperand carries already-encoded string bytes. Hex selects the <..>
// form, which the builder uses for two-byte glyph codes.
type StringOperand struct {
	Value []byte
	Hex   bool
}

func (StringOperand) operand()     {}
func (StringOperand) Type() string { return "string" }

type ArrayOperand struct{ Values []Operand }

func (ArrayOperand) operand()     {}
func (ArrayOperand) Type() string { return "array" }

// Resources holds per-page resources.
type Resources struct {
	Fonts    map[string]*Font
	XObjects map[string]XObject
}

// Font represents a font resource.
type Font struct {
	Subtype        string // Type1 (default) or Type0
	BaseFont       string
	Encoding       string
	Widths         map[int]int // glyph/character code -> width in 1/1000 em
	ToUnicode      map[int][]rune
	CIDSystemInfo  *CIDSystemInfo
	DescendantFont *CIDFont
	Descriptor     *FontDescriptor
}

// Embedded reports whether the font carries its own font program.
func (f *Font) Embedded() bool {
	return f != nil && f.Descriptor != nil && len(f.Descriptor.FontFile) > 0
}

// ColorSpace references a named colorspace.
type ColorSpace interface {
	ColorSpaceName() string
}

// DeviceColorSpace is one of DeviceGray, DeviceRGB or DeviceCMYK.
type DeviceColorSpace struct {
	Name string
}

func (cs DeviceColorSpace) ColorSpaceName() string { return cs.Name }

// XObject describes a referenced image.
type XObject struct {
	Subtype string // Image
	Width   int
	Height  int
	ColorSpace
	BitsPerComponent int
	Data             []byte
	Filter           string // set when Data is already encoded (e.g. FlateDecode)
	Interpolate      bool
	SMask            *XObject
}

// Image is an alias for XObject for image convenience APIs.
type Image = XObject

// Rectangle represents a PDF rectangle.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

// CIDSystemInfo describes the registry/ordering of a CID font.
type CIDSystemInfo struct {
	Registry   string
	Ordering   string
	Supplement int
}

// CIDFont describes a descendant font for Type0 fonts.
type CIDFont struct {
	Subtype         string // CIDFontType2
	BaseFont        string
	CIDSystemInfo   CIDSystemInfo
	DW              int
	W               map[int]int // CID -> width
	CIDToGIDMapName string      // "Identity" unless a map stream is supplied
	Descriptor      *FontDescriptor
}

// FontDescriptor carries metrics and font file embedding details.
type FontDescriptor struct {
	FontName     string
	Flags        int
	ItalicAngle  float64
	Ascent       float64
	Descent      float64
	CapHeight    float64
	StemV        int
	FontBBox     [4]float64
	FontFile     []byte
	FontFileType string // FontFile2 (TrueType)
}

// DocumentInfo models /Info dictionary values.
type DocumentInfo struct {
	Title    string
	Author   string
	Subject  string
	Creator  string
	Producer string
	Keywords []string
}
