// Package batch runs one range through render, place and finalize, reporting
// progress after every item.
//
// Runs are strictly sequential: one item is fully rendered and placed
// before the next starts, and a second Run while one is active fails with
// ErrBusy. Any failure ends the run, discards what was drawn and leaves no
// document. Context cancellation is not honored mid-run; the context only
// carries values for logging and tracing.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/qrsheet/codes"
	"github.com/wudi/qrsheet/grid"
	"github.com/wudi/qrsheet/observability"
	"github.com/wudi/qrsheet/progress"
	"github.com/wudi/qrsheet/sheet"
	"github.com/wudi/qrsheet/symbol"
)

// DefaultMaxItems bounds a single run.
const DefaultMaxItems = 10000

// Request is one batch.
type Request struct {
	Prefix string
	Start  int
	End    int
	// Logo, when set, is used for this run instead of the configured logo.
	Logo []byte
}

// Config is the fixed setup of every run.
type Config struct {
	Page          grid.PageConfig
	Render        symbol.Options
	Style         sheet.Style
	Filename      string
	Compression   int
	Deterministic bool
	SubsetFonts   bool
	// MaxItems rejects larger ranges; 0 means DefaultMaxItems, negative
	// means unbounded.
	MaxItems int
}

func DefaultConfig() Config {
	so := sheet.DefaultOptions()
	return Config{
		Page:        so.Page,
		Render:      symbol.DefaultOptions(),
		Style:       so.Style,
		Filename:    so.Filename,
		Compression: so.Compression,
		SubsetFonts: so.SubsetFonts,
		MaxItems:    DefaultMaxItems,
	}
}

// Status is a snapshot of the orchestrator.
type Status struct {
	Running   bool   `json:"running"`
	RunID     string `json:"run_id,omitempty"`
	Range     string `json:"range,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Progress  int    `json:"progress"`
	HasLogo   bool   `json:"has_logo"`

	// Outcome of the previous run.
	LastRunID     string    `json:"last_run_id,omitempty"`
	LastCompleted int       `json:"last_completed"`
	LastError     string    `json:"last_error,omitempty"`
	LastKind      string    `json:"last_kind,omitempty"`
	LastDocument  string    `json:"last_document,omitempty"`
	LastFinished  time.Time `json:"last_finished,omitempty"`
}

// Orchestrator owns the process-wide logo and the single active run.
type Orchestrator struct {
	cfg     Config
	logger  observability.Logger
	tracer  observability.Tracer
	metrics observability.Metrics

	mu     sync.Mutex
	logo   *symbol.Logo
	status Status

	newRenderer func(symbol.Options, ...symbol.Option) renderer
}

type renderer interface {
	Render(ctx context.Context, item codes.Item) (*symbol.Rendered, error)
}

func newSymbolRenderer(opts symbol.Options, options ...symbol.Option) renderer {
	return symbol.NewRenderer(opts, options...)
}

type Option func(*Orchestrator)

func WithLogger(l observability.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithMetrics(m observability.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New validates cfg and returns an idle orchestrator.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Page.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.Filename == "" {
		cfg.Filename = sheet.DefaultFilename
	}
	o := &Orchestrator{
		cfg:     cfg,
		logger:  observability.NopLogger{},
		tracer:  observability.NopTracer(),
		metrics: observability.NopMetrics{},

		newRenderer: newSymbolRenderer,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SetLogo decodes data and makes it the logo of every following run.
func (o *Orchestrator) SetLogo(data []byte) error {
	logo, err := symbol.DecodeLogo(data)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Running {
		return ErrBusy
	}
	o.logo = logo
	o.status.HasLogo = true
	o.logger.Info("logo set", observability.String("format", logo.Format()))
	return nil
}

// ClearLogo removes the logo for following runs.
func (o *Orchestrator) ClearLogo() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Running {
		return ErrBusy
	}
	o.logo = nil
	o.status.HasLogo = false
	return nil
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Run produces the document for req, reporting progress to sink (which may
// be nil). Sink is called from the calling goroutine.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink progress.Sink) (*sheet.Document, error) {
	if sink == nil {
		sink = progress.Nop
	}
	ctx = context.WithoutCancel(ctx)

	runID := uuid.NewString()
	o.mu.Lock()
	if o.status.Running {
		o.mu.Unlock()
		o.metrics.Counter(observability.MetricRunsTotal, 1, KindBusy)
		return nil, ErrBusy
	}
	logo := o.logo
	o.status.Running = true
	o.status.RunID = runID
	o.status.Completed, o.status.Total, o.status.Progress = 0, 0, 0
	o.mu.Unlock()

	start := time.Now()
	log := o.logger.With(observability.String("run_id", runID))
	ctx, span := o.tracer.StartSpan(ctx, "batch.run")
	span.SetTag("run_id", runID)

	doc, completed, err := o.run(ctx, log, req, logo, sink)

	outcome := "success"
	if err != nil {
		outcome = Kind(err)
		span.SetError(err)
		log.Error("run failed",
			observability.String("kind", outcome),
			observability.Int("completed", completed),
			observability.Error("error", err),
		)
	} else {
		log.Info("run finished",
			observability.Int("items", doc.Items),
			observability.Int("pages", doc.Pages),
			observability.Duration("elapsed", time.Since(start)),
		)
	}
	span.Finish()
	o.metrics.Counter(observability.MetricRunsTotal, 1, outcome)
	o.metrics.Observe(observability.MetricRunDuration, time.Since(start).Seconds())

	o.mu.Lock()
	o.status.Running = false
	o.status.RunID, o.status.Range = "", ""
	o.status.Completed = 0
	o.status.LastRunID = runID
	o.status.LastCompleted = completed
	o.status.LastFinished = time.Now()
	o.status.LastError, o.status.LastKind, o.status.LastDocument = "", "", ""
	if err != nil {
		// Total and Progress keep the last reported values
		o.status.LastError = err.Error()
		o.status.LastKind = outcome
	} else {
		o.status.LastDocument = doc.Name
	}
	o.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return doc, nil
}

// run is the body of Run without the bookkeeping. completed is the number
// of items placed when it returned.
func (o *Orchestrator) run(ctx context.Context, log observability.Logger, req Request, logo *symbol.Logo, sink progress.Sink) (*sheet.Document, int, error) {
	r := codes.Range{Prefix: req.Prefix, Start: req.Start, End: req.End}
	if err := r.Validate(); err != nil {
		return nil, 0, err
	}
	total := r.Len()
	if o.cfg.MaxItems > 0 && total > o.cfg.MaxItems {
		return nil, 0, &codes.InvalidRangeError{
			Start:  r.Start,
			End:    r.End,
			Reason: fmt.Sprintf("%d items exceeds the limit of %d", total, o.cfg.MaxItems),
		}
	}
	if len(req.Logo) > 0 {
		l, err := symbol.DecodeLogo(req.Logo)
		if err != nil {
			return nil, 0, err
		}
		logo = l
	}

	asm, err := sheet.NewAssembler(sheet.Options{
		Page:          o.cfg.Page,
		Style:         o.cfg.Style,
		Filename:      o.cfg.Filename,
		Subject:       r.String(),
		Compression:   o.cfg.Compression,
		Deterministic: o.cfg.Deterministic,
		SubsetFonts:   o.cfg.SubsetFonts,
	}, sheet.WithLogger(log), sheet.WithMetrics(o.metrics))
	if err != nil {
		return nil, 0, err
	}
	renderOpts := []symbol.Option{symbol.WithLogger(log)}
	if logo != nil {
		renderOpts = append(renderOpts, symbol.WithLogo(logo))
	}
	render := o.newRenderer(o.cfg.Render, renderOpts...)

	o.mu.Lock()
	o.status.Range = r.String()
	o.mu.Unlock()
	o.setProgress(0, total, 0)
	log.Info("run started",
		observability.String("range", r.String()),
		observability.Int("items", total),
		observability.Int("pages", o.cfg.Page.PagesFor(total)),
		observability.Bool("logo", logo != nil),
	)

	completed := 0
	for item := range r.Items() {
		if err := o.step(ctx, render, asm, item); err != nil {
			asm.Discard()
			return nil, completed, &ItemError{Item: item, Err: err}
		}
		completed++
		p := progress.Percent(completed, total)
		o.setProgress(completed, total, p)
		sink(p)
	}
	o.setProgress(completed, total, 100)
	sink(100)

	doc, err := asm.Finalize(ctx)
	if err != nil {
		asm.Discard()
		return nil, completed, err
	}
	return doc, completed, nil
}

func (o *Orchestrator) step(ctx context.Context, render renderer, asm *sheet.Assembler, item codes.Item) (err error) {
	start := time.Now()
	ctx, span := o.tracer.StartSpan(ctx, "batch.item")
	span.SetTag("index", item.Index)
	defer func() {
		span.SetError(err)
		span.Finish()
	}()

	rendered, err := render.Render(ctx, item)
	if err != nil {
		return err
	}
	if _, err := asm.Place(rendered); err != nil {
		return err
	}
	o.metrics.Counter(observability.MetricItemsRendered, 1)
	o.metrics.Observe(observability.MetricItemDuration, time.Since(start).Seconds())
	return nil
}

func (o *Orchestrator) setProgress(completed, total, p int) {
	o.mu.Lock()
	o.status.Completed, o.status.Total, o.status.Progress = completed, total, p
	o.mu.Unlock()
	o.metrics.Gauge(observability.MetricProgress, float64(p))
}
