// Package writer serializes a semantic document into PDF bytes.
package writer

import (
	"context"
	"io"

	"github.com/wudi/qrsheet/ir/raw"
	"github.com/wudi/qrsheet/ir/semantic"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

type Config struct {
	Version PDFVersion
	// Compression is a zlib level; 0 leaves content streams and fonts plain.
	Compression   int
	Deterministic bool
	// SubsetFonts embeds only the glyphs the pages reference for Type0
	// TrueType fonts.
	SubsetFonts bool
}

type Writer interface {
	Write(ctx context.Context, doc *semantic.Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

// Interceptor observes every indirect object as it is written.
type Interceptor interface {
	BeforeWrite(ctx context.Context, obj raw.Object) error
	AfterWrite(ctx context.Context, obj raw.Object, bytesWritten int64) error
}

type WriterBuilder struct{ interceptors []Interceptor }

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	if i != nil {
		b.interceptors = append(b.interceptors, i)
	}
	return b
}
func (b *WriterBuilder) Build() Writer { return &impl{interceptors: b.interceptors} }

// NewWriter is shorthand for a WriterBuilder with the given interceptors.
func NewWriter(interceptors ...Interceptor) Writer {
	b := &WriterBuilder{}
	for _, i := range interceptors {
		b.WithInterceptor(i)
	}
	return b.Build()
}
