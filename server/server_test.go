package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/qrsheet/batch"
	"github.com/wudi/qrsheet/progress"
	"github.com/wudi/qrsheet/sheet"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestServer(t *testing.T, opts ...Option) (*Server, *batch.Orchestrator) {
	t.Helper()
	orch, err := batch.New(batch.DefaultConfig())
	require.NoError(t, err)
	return New(orch, opts...), orch
}

func multipartBody(t *testing.T, fields map[string]string, logo []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if logo != nil {
		fw, err := w.CreateFormFile("logo", "logo.png")
		require.NoError(t, err)
		_, err = fw.Write(logo)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestCreateSheet(t *testing.T) {
	s, _ := newTestServer(t)
	form := url.Values{"prefix": {"R13-"}, "start": {"1"}, "end": {"12"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sheets", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="qrcodes.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Len(t, w.Header().Get("ETag"), 66)
	assert.Equal(t, "1", w.Header().Get("X-Sheet-Pages"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
}

func TestCreateSheet_WithLogoMultipart(t *testing.T) {
	s, _ := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"prefix": "L", "start": "0", "end": "1"}, pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sheets", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateSheet_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	cases := []struct {
		name   string
		form   url.Values
		status int
		kind   string
	}{
		{"missing end", url.Values{"prefix": {"A"}, "start": {"1"}}, http.StatusBadRequest, "bad_request"},
		{"reversed range", url.Values{"prefix": {"A"}, "start": {"5"}, "end": {"3"}}, http.StatusBadRequest, batch.KindInvalidRange},
		{"oversized payload", url.Values{"prefix": {strings.Repeat("x", 3000)}, "start": {"1"}, "end": {"2"}}, http.StatusUnprocessableEntity, batch.KindUndecodableInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sheets", strings.NewReader(tc.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.kind, decodeError(t, w).Error)
		})
	}
}

func TestLogoEndpoints(t *testing.T) {
	s, orch := newTestServer(t, WithMaxLogoBytes(1024))

	body, ct := multipartBody(t, nil, pngBytes(t))
	req := httptest.NewRequest(http.MethodPut, "/api/v1/logo", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.True(t, orch.Status().HasLogo)

	body, ct = multipartBody(t, nil, []byte("not an image"))
	req = httptest.NewRequest(http.MethodPut, "/api/v1/logo", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, batch.KindLogoDecode, decodeError(t, w).Error)

	body, ct = multipartBody(t, nil, bytes.Repeat([]byte{1}, 2048))
	req = httptest.NewRequest(http.MethodPut, "/api/v1/logo", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/logo", strings.NewReader(""))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/logo", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, orch.Status().HasLogo)
}

// busyRunner reports ErrBusy for everything.
type busyRunner struct{}

func (busyRunner) Run(context.Context, batch.Request, progress.Sink) (*sheet.Document, error) {
	return nil, batch.ErrBusy
}
func (busyRunner) SetLogo([]byte) error { return batch.ErrBusy }
func (busyRunner) ClearLogo() error     { return batch.ErrBusy }
func (busyRunner) Status() batch.Status { return batch.Status{Running: true} }

func TestBusyMapsToConflict(t *testing.T) {
	s := New(busyRunner{})
	form := url.Values{"prefix": {"A"}, "start": {"1"}, "end": {"2"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sheets", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, batch.KindBusy, decodeError(t, w).Error)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/logo", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProgress(t *testing.T) {
	tracker := progress.NewTracker()
	s, _ := newTestServer(t, WithTracker(tracker))
	tracker.Set(42)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 42.0, body["percent"])
	assert.Equal(t, false, body["running"])
}

func TestProgressStream(t *testing.T) {
	tracker := progress.NewTracker()
	s, _ := newTestServer(t, WithTracker(tracker))
	tracker.Set(10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Handler().ServeHTTP(w, req)
	}()
	time.Sleep(50 * time.Millisecond)
	tracker.Set(100)
	wg.Wait()

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event:progress")
	assert.Contains(t, body, `"percent":100`)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok_metric 1\n")) })
	s, _ := newTestServer(t, WithMetricsHandler(metrics))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "ok_metric 1")
}

type memStore struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (m *memStore) Put(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.puts == nil {
		m.puts = map[string][]byte{}
	}
	m.puts[name] = data
	return "mem://" + name, nil
}

func TestCreateSheet_Store(t *testing.T) {
	store := &memStore{}
	s, _ := newTestServer(t, WithStore(store))
	form := url.Values{"prefix": {"S"}, "start": {"1"}, "end": {"3"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sheets", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(requestIDHeader, "req-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mem://qrcodes.pdf", w.Header().Get("X-Sheet-Location"))
	assert.Equal(t, "req-1", w.Header().Get(requestIDHeader))
	assert.Equal(t, w.Body.Bytes(), store.puts["qrcodes.pdf"])
}
