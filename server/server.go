// Package server exposes the batch orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wudi/qrsheet/batch"
	"github.com/wudi/qrsheet/observability"
	"github.com/wudi/qrsheet/progress"
	"github.com/wudi/qrsheet/sheet"
	"github.com/wudi/qrsheet/sink"
)

// Runner is the part of batch.Orchestrator the server drives.
type Runner interface {
	Run(ctx context.Context, req batch.Request, sink progress.Sink) (*sheet.Document, error)
	SetLogo(data []byte) error
	ClearLogo() error
	Status() batch.Status
}

const (
	DefaultMaxLogoBytes = 4 << 20
	requestIDHeader     = "X-Request-ID"
	// multipart framing and form fields on top of the logo itself
	formOverhead = 64 << 10
)

type Server struct {
	runner       Runner
	tracker      *progress.Tracker
	store        sink.Sink
	metrics      http.Handler
	logger       observability.Logger
	maxLogoBytes int64
	engine       *gin.Engine
}

type Option func(*Server)

func WithLogger(l observability.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore keeps a copy of every generated document in st.
func WithStore(st sink.Sink) Option { return func(s *Server) { s.store = st } }

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

func WithMaxLogoBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLogoBytes = n
		}
	}
}

// WithTracker shares a progress tracker with other observers.
func WithTracker(t *progress.Tracker) Option {
	return func(s *Server) {
		if t != nil {
			s.tracker = t
		}
	}
}

func New(runner Runner, opts ...Option) *Server {
	s := &Server{
		runner:       runner,
		tracker:      progress.NewTracker(),
		logger:       observability.NopLogger{},
		maxLogoBytes: DefaultMaxLogoBytes,
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := r.Group("/api/v1")
	limited := bodyLimit(s.maxLogoBytes + formOverhead)
	api.POST("/sheets", limited, s.createSheet)
	api.PUT("/logo", limited, s.putLogo)
	api.DELETE("/logo", s.deleteLogo)
	api.GET("/progress", s.getProgress)
	api.GET("/progress/stream", s.streamProgress)
	return r
}

type sheetForm struct {
	Prefix string `form:"prefix"`
	Start  *int   `form:"start" binding:"required"`
	End    *int   `form:"end" binding:"required"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) createSheet(c *gin.Context) {
	var form sheetForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()})
		return
	}
	req := batch.Request{Prefix: form.Prefix, Start: *form.Start, End: *form.End}

	if fh, err := c.FormFile("logo"); err == nil {
		data, err := s.readLogo(fh)
		if err != nil {
			s.fileError(c, err)
			return
		}
		req.Logo = data
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		c.JSON(http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()})
		return
	}

	doc, err := s.runner.Run(c.Request.Context(), req, s.tracker.Sink())
	if err != nil {
		s.writeError(c, err)
		return
	}

	if s.store != nil {
		loc, err := s.store.Put(c.Request.Context(), doc.Name, doc.Data)
		if err != nil {
			s.logger.Error("store document", observability.Error("error", err))
		} else {
			c.Header("X-Sheet-Location", loc)
		}
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	c.Header("ETag", `"`+doc.Digest+`"`)
	c.Header("X-Sheet-Pages", fmt.Sprint(doc.Pages))
	c.Data(http.StatusOK, "application/pdf", doc.Data)
}

func (s *Server) putLogo(c *gin.Context) {
	fh, err := c.FormFile("logo")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "bad_request", Message: "multipart file field \"logo\" is required"})
		return
	}
	data, err := s.readLogo(fh)
	if err != nil {
		s.fileError(c, err)
		return
	}
	if err := s.runner.SetLogo(data); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteLogo(c *gin.Context) {
	if err := s.runner.ClearLogo(); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type progressBody struct {
	batch.Status
	Percent int `json:"percent"`
}

func (s *Server) getProgress(c *gin.Context) {
	c.JSON(http.StatusOK, progressBody{Status: s.runner.Status(), Percent: s.tracker.Value()})
}

// streamProgress sends a "progress" event for every change and ends after
// 100 or when the client leaves.
func (s *Server) streamProgress(c *gin.Context) {
	ch, cancel := s.tracker.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			c.Writer.Flush()
		case p, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("progress", gin.H{"percent": p})
			c.Writer.Flush()
			if p >= 100 {
				return
			}
		}
	}
}

var errLogoTooLarge = errors.New("logo too large")

func (s *Server) readLogo(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > s.maxLogoBytes {
		return nil, errLogoTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.maxLogoBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxLogoBytes {
		return nil, errLogoTooLarge
	}
	return data, nil
}

func (s *Server) fileError(c *gin.Context, err error) {
	if errors.Is(err, errLogoTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody{
			Error:   "logo_too_large",
			Message: fmt.Sprintf("logo exceeds %d bytes", s.maxLogoBytes),
		})
		return
	}
	c.JSON(http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()})
}

// writeError maps the batch error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := batch.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case batch.KindInvalidRange, batch.KindLogoDecode:
		status = http.StatusBadRequest
	case batch.KindUndecodableInput:
		status = http.StatusUnprocessableEntity
	case batch.KindBusy:
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", observability.String("kind", kind), observability.Error("error", err))
	}
	c.JSON(status, errorBody{Error: kind, Message: err.Error()})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.FullPath()),
			observability.Int("status", c.Writer.Status()),
			observability.Int("bytes", c.Writer.Size()),
			observability.Duration("elapsed", time.Since(start)),
			observability.String("request_id", c.GetString("request_id")),
		)
	}
}

func bodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{
				Error:   "request_too_large",
				Message: "request body exceeds the allowed size",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
