package writer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wudi/qrsheet/fonts"
	"github.com/wudi/qrsheet/ir/raw"
	"github.com/wudi/qrsheet/ir/semantic"
)

type objectBuilder struct {
	doc     *semantic.Document
	cfg     Config
	objects map[raw.ObjectRef]raw.Object
	objNum  int

	fontRefs    map[*semantic.Font]raw.ObjectRef
	xobjectRefs map[string]raw.ObjectRef
}

func newObjectBuilder(doc *semantic.Document, cfg Config) *objectBuilder {
	return &objectBuilder{
		doc:         doc,
		cfg:         cfg,
		objects:     make(map[raw.ObjectRef]raw.Object),
		objNum:      1,
		fontRefs:    make(map[*semantic.Font]raw.ObjectRef),
		xobjectRefs: make(map[string]raw.ObjectRef),
	}
}

func (b *objectBuilder) nextRef() raw.ObjectRef {
	ref := raw.ObjectRef{Num: b.objNum, Gen: 0}
	b.objNum++
	return ref
}

// Build lowers the semantic document into indirect objects and returns them
// with the catalog reference and the optional Info reference.
func (b *objectBuilder) Build(ctx context.Context) (map[raw.ObjectRef]raw.Object, raw.ObjectRef, *raw.ObjectRef, error) {
	catalogRef := b.nextRef()
	pagesRef := b.nextRef()

	var infoRef *raw.ObjectRef
	if info := b.doc.Info; info != nil {
		infoDict := raw.Dict()
		setText := func(key, value string) {
			if value != "" {
				infoDict.Set(raw.NameLiteral(key), textString(value))
			}
		}
		setText("Title", info.Title)
		setText("Author", info.Author)
		setText("Subject", info.Subject)
		setText("Creator", info.Creator)
		setText("Producer", info.Producer)
		setText("Keywords", strings.Join(info.Keywords, ", "))
		if infoDict.Len() > 0 {
			ref := b.nextRef()
			infoRef = &ref
			b.objects[ref] = infoDict
		}
	}

	pageRefs := make([]raw.ObjectRef, 0, len(b.doc.Pages))
	for _, p := range b.doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, raw.ObjectRef{}, nil, err
		}
		pageRef, err := b.addPage(p, pagesRef)
		if err != nil {
			return nil, raw.ObjectRef{}, nil, fmt.Errorf("page %d: %w", p.Index, err)
		}
		pageRefs = append(pageRefs, pageRef)
	}

	kids := raw.NewArray()
	for _, r := range pageRefs {
		kids.Append(raw.Ref(r.Num, r.Gen))
	}
	pagesDict := raw.Dict()
	pagesDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pagesDict.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(len(pageRefs))))
	pagesDict.Set(raw.NameLiteral("Kids"), kids)
	b.objects[pagesRef] = pagesDict

	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(pagesRef.Num, pagesRef.Gen))
	if b.doc.Lang != "" {
		catalog.Set(raw.NameLiteral("Lang"), raw.Str([]byte(b.doc.Lang)))
	}
	b.objects[catalogRef] = catalog
	return b.objects, catalogRef, infoRef, nil
}

func (b *objectBuilder) addPage(p *semantic.Page, pagesRef raw.ObjectRef) (raw.ObjectRef, error) {
	var content []byte
	for _, cs := range p.Contents {
		content = append(content, serializeContentStream(cs)...)
	}
	contentDict := raw.Dict()
	if b.cfg.Compression != 0 {
		data, err := flateEncode(content, b.cfg.Compression)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		content = data
		contentDict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
	}
	contentDict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(content))))
	contentRef := b.nextRef()
	b.objects[contentRef] = raw.NewStream(contentDict, content)

	ref := b.nextRef()
	pageDict := raw.Dict()
	pageDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	pageDict.Set(raw.NameLiteral("Parent"), raw.Ref(pagesRef.Num, pagesRef.Gen))
	pageDict.Set(raw.NameLiteral("MediaBox"), rectArray(p.MediaBox))
	pageDict.Set(raw.NameLiteral("Contents"), raw.Ref(contentRef.Num, contentRef.Gen))

	resDict := raw.Dict()
	procSet := raw.NewArray(raw.NameLiteral("PDF"))
	if p.Resources != nil && len(p.Resources.Fonts) > 0 {
		fontRes := raw.Dict()
		for _, name := range sortedKeys(p.Resources.Fonts) {
			fRef, err := b.ensureFont(p.Resources.Fonts[name])
			if err != nil {
				return raw.ObjectRef{}, err
			}
			fontRes.Set(raw.NameLiteral(name), raw.Ref(fRef.Num, fRef.Gen))
		}
		resDict.Set(raw.NameLiteral("Font"), fontRes)
		procSet.Append(raw.NameLiteral("Text"))
	}
	if p.Resources != nil && len(p.Resources.XObjects) > 0 {
		xoRes := raw.Dict()
		hasColor := false
		for _, name := range sortedKeys(p.Resources.XObjects) {
			xo := p.Resources.XObjects[name]
			xRef, err := b.ensureXObject(name, xo)
			if err != nil {
				return raw.ObjectRef{}, err
			}
			xoRes.Set(raw.NameLiteral(name), raw.Ref(xRef.Num, xRef.Gen))
			if xo.ColorSpace != nil && xo.ColorSpaceName() != "DeviceGray" {
				hasColor = true
			}
		}
		resDict.Set(raw.NameLiteral("XObject"), xoRes)
		procSet.Append(raw.NameLiteral("ImageB"))
		if hasColor {
			procSet.Append(raw.NameLiteral("ImageC"))
		}
	}
	resDict.Set(raw.NameLiteral("ProcSet"), procSet)
	pageDict.Set(raw.NameLiteral("Resources"), resDict)
	b.objects[ref] = pageDict
	return ref, nil
}

func (b *objectBuilder) addFontDescriptor(fd *semantic.FontDescriptor) (*raw.ObjectRef, error) {
	if fd == nil {
		return nil, nil
	}
	ref := b.nextRef()
	d := raw.Dict()
	d.Set(raw.NameLiteral("Type"), raw.NameLiteral("FontDescriptor"))
	name := fd.FontName
	if name == "" {
		name = "CustomFont"
	}
	d.Set(raw.NameLiteral("FontName"), raw.NameLiteral(pdfNameLiteral(name)))
	flags := fd.Flags
	if flags == 0 {
		flags = 32
	}
	d.Set(raw.NameLiteral("Flags"), raw.NumberInt(int64(flags)))
	d.Set(raw.NameLiteral("ItalicAngle"), raw.NumberFloat(fd.ItalicAngle))
	d.Set(raw.NameLiteral("Ascent"), raw.NumberFloat(fd.Ascent))
	d.Set(raw.NameLiteral("Descent"), raw.NumberFloat(fd.Descent))
	d.Set(raw.NameLiteral("CapHeight"), raw.NumberFloat(fd.CapHeight))
	stem := fd.StemV
	if stem == 0 {
		stem = 80
	}
	d.Set(raw.NameLiteral("StemV"), raw.NumberInt(int64(stem)))
	d.Set(raw.NameLiteral("FontBBox"), raw.NewArray(
		raw.NumberFloat(fd.FontBBox[0]),
		raw.NumberFloat(fd.FontBBox[1]),
		raw.NumberFloat(fd.FontBBox[2]),
		raw.NumberFloat(fd.FontBBox[3]),
	))
	if len(fd.FontFile) > 0 {
		streamDict := raw.Dict()
		data := fd.FontFile
		streamDict.Set(raw.NameLiteral("Length1"), raw.NumberInt(int64(len(data))))
		if b.cfg.Compression != 0 {
			enc, err := flateEncode(data, b.cfg.Compression)
			if err != nil {
				return nil, err
			}
			data = enc
			streamDict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
		}
		streamDict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(data))))
		streamRef := b.nextRef()
		b.objects[streamRef] = raw.NewStream(streamDict, data)
		key := "FontFile2"
		if fd.FontFileType != "" {
			key = fd.FontFileType
		}
		d.Set(raw.NameLiteral(key), raw.Ref(streamRef.Num, streamRef.Gen))
	}
	b.objects[ref] = d
	return &ref, nil
}

func (b *objectBuilder) addToUnicode(font *semantic.Font) (*raw.ObjectRef, error) {
	cmap := buildToUnicodeCMap(font)
	if len(cmap) == 0 {
		return nil, nil
	}
	d := raw.Dict()
	if b.cfg.Compression != 0 {
		enc, err := flateEncode(cmap, b.cfg.Compression)
		if err != nil {
			return nil, err
		}
		cmap = enc
		d.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
	}
	d.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(cmap))))
	ref := b.nextRef()
	b.objects[ref] = raw.NewStream(d, cmap)
	return &ref, nil
}

// ensureFont writes each distinct font once; pages sharing a *semantic.Font
// share its objects.
func (b *objectBuilder) ensureFont(font *semantic.Font) (raw.ObjectRef, error) {
	if ref, ok := b.fontRefs[font]; ok {
		return ref, nil
	}
	ref := b.nextRef()
	base := font.BaseFont
	if base == "" {
		base = "Helvetica"
	}
	subtype := font.Subtype
	if subtype == "" {
		subtype = "Type1"
	}
	var fd *semantic.FontDescriptor
	if subtype == "Type0" {
		fd = descriptorOf(font)
	}
	if fd != nil && b.cfg.SubsetFonts {
		var err error
		if fd, base, err = subsetDescriptor(font, fd, base); err != nil {
			return raw.ObjectRef{}, err
		}
	}
	fontDict := raw.Dict()
	fontDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	fontDict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral(subtype))
	fontDict.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral(pdfNameLiteral(base)))

	if subtype == "Type0" {
		encoding := font.Encoding
		if encoding == "" {
			encoding = "Identity-H"
		}
		fontDict.Set(raw.NameLiteral("Encoding"), raw.NameLiteral(encoding))
		descRef, err := b.addCIDFont(font, base, fd)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		fontDict.Set(raw.NameLiteral("DescendantFonts"), raw.NewArray(raw.Ref(descRef.Num, descRef.Gen)))
		uref, err := b.addToUnicode(font)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		if uref != nil {
			fontDict.Set(raw.NameLiteral("ToUnicode"), raw.Ref(uref.Num, uref.Gen))
		}
	} else if font.Encoding != "" {
		fontDict.Set(raw.NameLiteral("Encoding"), raw.NameLiteral(font.Encoding))
	}
	b.objects[ref] = fontDict
	b.fontRefs[font] = ref
	return ref, nil
}

func (b *objectBuilder) addCIDFont(font *semantic.Font, base string, fd *semantic.FontDescriptor) (raw.ObjectRef, error) {
	desc := font.DescendantFont
	if desc == nil {
		desc = &semantic.CIDFont{}
	}
	descRef := b.nextRef()
	descDict := raw.Dict()
	descDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	descSubtype := desc.Subtype
	if descSubtype == "" {
		descSubtype = "CIDFontType2"
	}
	descDict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral(descSubtype))
	descDict.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral(pdfNameLiteral(base)))

	csi := desc.CIDSystemInfo
	if font.CIDSystemInfo != nil {
		csi = *font.CIDSystemInfo
	}
	reg, ord := csi.Registry, csi.Ordering
	if reg == "" {
		reg = "Adobe"
	}
	if ord == "" {
		ord = "Identity"
	}
	cs := raw.Dict()
	cs.Set(raw.NameLiteral("Registry"), raw.Str([]byte(reg)))
	cs.Set(raw.NameLiteral("Ordering"), raw.Str([]byte(ord)))
	cs.Set(raw.NameLiteral("Supplement"), raw.NumberInt(int64(csi.Supplement)))
	descDict.Set(raw.NameLiteral("CIDSystemInfo"), cs)

	dw := 1000
	if desc.DW > 0 {
		dw = desc.DW
	}
	descDict.Set(raw.NameLiteral("DW"), raw.NumberInt(int64(dw)))
	// Only glyphs the pages actually reference need a W entry.
	if widths := usedWidths(font, desc); len(widths) > 0 {
		descDict.Set(raw.NameLiteral("W"), encodeCIDWidths(widths))
	}
	if descSubtype == "CIDFontType2" {
		gidMap := desc.CIDToGIDMapName
		if gidMap == "" {
			gidMap = "Identity"
		}
		descDict.Set(raw.NameLiteral("CIDToGIDMap"), raw.NameLiteral(gidMap))
	}
	fdRef, err := b.addFontDescriptor(fd)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	if fdRef != nil {
		descDict.Set(raw.NameLiteral("FontDescriptor"), raw.Ref(fdRef.Num, fdRef.Gen))
	}
	b.objects[descRef] = descDict
	return descRef, nil
}

func (b *objectBuilder) ensureXObject(name string, xo semantic.XObject) (raw.ObjectRef, error) {
	if ref, ok := b.xobjectRefs[name]; ok {
		return ref, nil
	}
	ref := b.nextRef()
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("XObject"))
	dict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Image"))
	dict.Set(raw.NameLiteral("Width"), raw.NumberInt(int64(xo.Width)))
	dict.Set(raw.NameLiteral("Height"), raw.NumberInt(int64(xo.Height)))
	color := "DeviceRGB"
	if xo.ColorSpace != nil && xo.ColorSpaceName() != "" {
		color = xo.ColorSpaceName()
	}
	dict.Set(raw.NameLiteral("ColorSpace"), raw.NameLiteral(color))
	bpc := xo.BitsPerComponent
	if bpc == 0 {
		bpc = 8
	}
	dict.Set(raw.NameLiteral("BitsPerComponent"), raw.NumberInt(int64(bpc)))
	if xo.Interpolate {
		dict.Set(raw.NameLiteral("Interpolate"), raw.Bool(true))
	}
	if xo.SMask != nil {
		maskRef, err := b.ensureXObject(name+":SMask", *xo.SMask)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		dict.Set(raw.NameLiteral("SMask"), raw.Ref(maskRef.Num, maskRef.Gen))
	}
	data := xo.Data
	switch {
	case xo.Filter != "":
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral(xo.Filter))
	case b.cfg.Compression != 0:
		enc, err := flateEncode(data, b.cfg.Compression)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		data = enc
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
	}
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(data))))
	b.objects[ref] = raw.NewStream(dict, data)
	b.xobjectRefs[name] = ref
	return ref, nil
}

func descriptorOf(font *semantic.Font) *semantic.FontDescriptor {
	if font.DescendantFont != nil && font.DescendantFont.Descriptor != nil {
		return font.DescendantFont.Descriptor
	}
	return font.Descriptor
}

// subsetDescriptor returns a copy of fd whose FontFile2 program keeps only
// the glyphs recorded in ToUnicode, and the tagged base font name. Fonts
// that are not embedded TrueType or have no recorded glyphs pass through.
func subsetDescriptor(font *semantic.Font, fd *semantic.FontDescriptor, base string) (*semantic.FontDescriptor, string, error) {
	if fd == nil || len(fd.FontFile) == 0 || len(font.ToUnicode) == 0 {
		return fd, base, nil
	}
	if fd.FontFileType != "" && fd.FontFileType != "FontFile2" {
		return fd, base, nil
	}
	gids := make([]int, 0, len(font.ToUnicode))
	for gid := range font.ToUnicode {
		gids = append(gids, gid)
	}
	data, err := fonts.SubsetTrueType(fd.FontFile, gids)
	if err != nil {
		return nil, "", fmt.Errorf("subset font %s: %w", base, err)
	}
	tagged := fonts.SubsetTag(gids) + "+" + base
	sub := *fd
	sub.FontFile = data
	sub.FontName = tagged
	return &sub, tagged, nil
}

// usedWidths narrows the descendant width table to the glyphs recorded in
// ToUnicode. Fonts without ToUnicode bookkeeping keep their full table.
func usedWidths(font *semantic.Font, desc *semantic.CIDFont) map[int]int {
	all := desc.W
	if len(all) == 0 {
		all = font.Widths
	}
	if len(font.ToUnicode) == 0 {
		return all
	}
	used := make(map[int]int, len(font.ToUnicode))
	for gid := range font.ToUnicode {
		if w, ok := all[gid]; ok {
			used[gid] = w
		}
	}
	return used
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
