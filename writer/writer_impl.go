package writer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/wudi/qrsheet/ir/raw"
	"github.com/wudi/qrsheet/ir/semantic"
)

type impl struct{ interceptors []Interceptor }

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(serializePrimitive(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

func (w *impl) Write(ctx context.Context, doc *semantic.Document, out io.Writer, cfg Config) error {
	if doc == nil || len(doc.Pages) == 0 {
		return errors.New("document has no pages")
	}
	ob := newObjectBuilder(doc, cfg)
	objects, catalogRef, infoRef, err := ob.Build(ctx)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(out)
	cw := &countingWriter{w: bw}
	fmt.Fprintf(cw, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", pdfVersion(cfg))

	ordered := make([]raw.ObjectRef, 0, len(objects))
	for ref := range objects {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Num < ordered[j].Num })

	offsets := make(map[int]int64, len(ordered))
	for _, ref := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj := objects[ref]
		for _, ic := range w.interceptors {
			if err := ic.BeforeWrite(ctx, obj); err != nil {
				return fmt.Errorf("interceptor before %s: %w", ref, err)
			}
		}
		serialized, err := w.SerializeObject(ref, obj)
		if err != nil {
			return err
		}
		offsets[ref.Num] = cw.n
		if _, err := cw.Write(serialized); err != nil {
			return err
		}
		for _, ic := range w.interceptors {
			if err := ic.AfterWrite(ctx, obj, int64(len(serialized))); err != nil {
				return fmt.Errorf("interceptor after %s: %w", ref, err)
			}
		}
	}

	xrefOffset := cw.n
	maxObjNum := ordered[len(ordered)-1].Num
	fmt.Fprintf(cw, "xref\n0 %d\n", maxObjNum+1)
	io.WriteString(cw, "0000000000 65535 f \n")
	for i := 1; i <= maxObjNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(cw, "%010d 00000 n \n", off)
		} else {
			io.WriteString(cw, "0000000000 65535 f \n")
		}
	}
	trailer := buildTrailer(maxObjNum+1, catalogRef, infoRef, fileID(doc, cfg))
	io.WriteString(cw, "trailer\n")
	cw.Write(serializePrimitive(trailer))
	fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	if cw.err != nil {
		return cw.err
	}
	return bw.Flush()
}

// countingWriter tracks the byte offset for the xref table and remembers the
// first write error so the tail can be written without checks on every line.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
