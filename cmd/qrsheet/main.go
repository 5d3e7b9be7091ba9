package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/wudi/qrsheet/batch"
	"github.com/wudi/qrsheet/config"
	"github.com/wudi/qrsheet/observability"
	"github.com/wudi/qrsheet/progress"
	"github.com/wudi/qrsheet/sheet"
)

type options struct {
	configPath string
	prefix     string
	start      int
	end        int
	logoPath   string
	outDir     string
	s3Bucket   string
	validate   bool
	quiet      bool
	logLevel   string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qrsheet: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "qrsheet: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: qrsheet -prefix R13- -start 1 -end 51 [flags]\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.configPath, "config", "", "Config file (yaml, json or toml)")
	flag.StringVar(&opts.prefix, "prefix", "", "Text placed before every number")
	start := flag.String("start", "", "First number of the range")
	end := flag.String("end", "", "Last number of the range (inclusive)")
	flag.StringVar(&opts.logoPath, "logo", "", "Image drawn over the center of every symbol")
	flag.StringVar(&opts.outDir, "out", "", "Output directory (overrides output.dir)")
	flag.StringVar(&opts.s3Bucket, "s3-bucket", "", "Upload to this bucket instead of writing a file")
	flag.BoolVar(&opts.validate, "validate", false, "Validate the generated PDF before storing it")
	flag.BoolVar(&opts.quiet, "quiet", false, "Do not draw progress")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (overrides log.level)")
	flag.Parse()

	if *start == "" || *end == "" {
		flag.Usage()
		return options{}, errors.New("-start and -end are required")
	}
	var err error
	if opts.start, err = parseInt("start", *start); err != nil {
		return options{}, err
	}
	if opts.end, err = parseInt("end", *end); err != nil {
		return options{}, err
	}
	return opts, nil
}

func parseInt(name, s string) (int, error) {
	var n int
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0, fmt.Errorf("-%s: %q is not a number", name, s)
	}
	return n, nil
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.outDir != "" {
		cfg.Output.Dir = opts.outDir
	}
	if opts.s3Bucket != "" {
		cfg.Output.S3.Bucket = opts.s3Bucket
	}

	zl, err := observability.NewZap(cfg.LogConfig())
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := observability.NewZapLogger(zl)

	bc, err := cfg.Batch()
	if err != nil {
		return err
	}
	orch, err := batch.New(bc, batch.WithLogger(logger), batch.WithTracer(observability.NewLogTracer(logger)))
	if err != nil {
		return err
	}

	req := batch.Request{Prefix: opts.prefix, Start: opts.start, End: opts.end}
	if opts.logoPath != "" {
		data, err := os.ReadFile(opts.logoPath)
		if err != nil {
			return fmt.Errorf("read logo: %w", err)
		}
		req.Logo = data
	}

	var report progress.Sink = progress.Nop
	if !opts.quiet {
		report = progress.NewTerminal(os.Stderr, "qrcodes").Sink()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doc, err := orch.Run(ctx, req, report)
	if err != nil {
		return err
	}

	if opts.validate {
		pages, err := validatePDF(doc)
		if err != nil {
			return fmt.Errorf("validate %s: %w", doc.Name, err)
		}
		logger.Info("document valid", observability.Int("pages", pages))
	}

	store, err := cfg.Sink(ctx, logger)
	if err != nil {
		return err
	}
	loc, err := store.Put(ctx, doc.Name, doc.Data)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d codes on %d pages (%d bytes)\n", loc, doc.Items, doc.Pages, len(doc.Data))
	return nil
}

// validatePDF runs the document through pdfcpu's relaxed validation and
// returns its page count.
func validatePDF(doc *sheet.Document) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := pdfapi.ReadValidateAndOptimize(bytes.NewReader(doc.Data), conf)
	if err != nil {
		return 0, err
	}
	if ctx.PageCount != doc.Pages {
		return ctx.PageCount, fmt.Errorf("page count %d, want %d", ctx.PageCount, doc.Pages)
	}
	return ctx.PageCount, nil
}

// exitCode separates input mistakes (2) from everything else (1).
func exitCode(err error) int {
	switch batch.Kind(err) {
	case batch.KindInvalidRange, batch.KindLogoDecode, batch.KindUndecodableInput:
		return 2
	}
	return 1
}
