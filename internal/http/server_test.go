package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragchat/internal/indexing"
	"github.com/fyrsmithlabs/ragchat/internal/logging"
	"github.com/fyrsmithlabs/ragchat/internal/query"
	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

type fakeIndexer struct {
	name    string
	content string
	err     error
}

func (f *fakeIndexer) IndexUpload(_ context.Context, name string, content io.Reader) (*indexing.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.name, f.content = name, string(data)
	return &indexing.Result{RunID: "run-1", State: indexing.StateDone, Files: []string{name}, Stored: 3}, nil
}

type fakeAsker struct {
	got query.Request
	err error
}

func (f *fakeAsker) Ask(_ context.Context, req query.Request) (*query.Response, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &query.Response{Response: "Alice knows Go", Sources: []rag.ScoredPoint{{ID: "p1"}}}, nil
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

type testServer struct {
	*Server
	indexer *fakeIndexer
	asker   *fakeAsker
	logs    *logging.TestLogger
}

func setupTestServer(t *testing.T, store Pinger) *testServer {
	t.Helper()
	ts := &testServer{indexer: &fakeIndexer{}, asker: &fakeAsker{}, logs: logging.NewTestLogger()}
	s, err := NewServer(Deps{
		Indexer: ts.indexer,
		Asker:   ts.asker,
		Store:   store,
		Metrics: NewHTTPMetrics(nil),
		Logger:  ts.logs.Logger,
	}, nil)
	require.NoError(t, err)
	ts.Server = s
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/indexing", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/chatbot", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(Deps{Indexer: &fakeIndexer{}, Asker: &fakeAsker{}, Logger: logging.Nop()}, nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, 8000, s.config.Port)
		assert.True(t, s.allowed[".docx"])
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Indexer: &fakeIndexer{}, Asker: &fakeAsker{}}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error without collaborators", func(t *testing.T) {
		_, err := NewServer(Deps{Logger: logging.Nop()}, nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok without a store", func(t *testing.T) {
		rec := setupTestServer(t, nil).do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("reports store reachability", func(t *testing.T) {
		rec := setupTestServer(t, fakePinger{}).do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","vector_store":"ok"}`, rec.Body.String())
	})

	t.Run("unreachable store is unavailable", func(t *testing.T) {
		rec := setupTestServer(t, fakePinger{err: rag.ErrStorage}).do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "unreachable")
	})
}

func TestHandleIndexing(t *testing.T) {
	t.Run("indexes a supported upload", func(t *testing.T) {
		ts := setupTestServer(t, nil)
		rec := ts.do(uploadRequest(t, "file", "cv.pdf", "%PDF-1.4"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp IndexingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "OK", resp.Message)
		assert.Equal(t, "DONE", resp.Info.Status)
		assert.Equal(t, 3, resp.Info.Stored)
		assert.Equal(t, "cv.pdf", ts.indexer.name)
		assert.Equal(t, "%PDF-1.4", ts.indexer.content)
	})

	t.Run("extension check is case-insensitive", func(t *testing.T) {
		rec := setupTestServer(t, nil).do(uploadRequest(t, "file", "DATA.CSV", "a,b"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unsupported format is 422", func(t *testing.T) {
		ts := setupTestServer(t, nil)
		rec := ts.do(uploadRequest(t, "file", "notes.txt", "x"))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "Unprocessable Entity", decodeError(t, rec).Message)
		assert.Empty(t, ts.indexer.name)
	})

	t.Run("missing file field is 400", func(t *testing.T) {
		rec := setupTestServer(t, nil).do(uploadRequest(t, "document", "cv.pdf", "x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("indexing errors map by kind", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{rag.ErrNotFound, http.StatusNotFound},
			{rag.ErrValidation, http.StatusBadRequest},
			{rag.ErrUnsupportedFormat, http.StatusUnprocessableEntity},
			{rag.ErrStorage, http.StatusInternalServerError},
			{errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			ts := setupTestServer(t, nil)
			ts.indexer.err = tt.err
			rec := ts.do(uploadRequest(t, "file", "cv.pdf", "x"))
			assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		}
	})

	t.Run("internal errors do not leak details", func(t *testing.T) {
		ts := setupTestServer(t, nil)
		ts.indexer.err = errors.New("dial tcp 10.0.0.1:6334: refused")
		rec := ts.do(uploadRequest(t, "file", "cv.pdf", "x"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "10.0.0.1")
		assert.Equal(t, 1, ts.logs.FilterMessage("request failed").Len())
	})
}

func TestHandleChatbot(t *testing.T) {
	t.Run("answers a query", func(t *testing.T) {
		ts := setupTestServer(t, nil)
		rec := ts.do(chatRequest(`{"query":"What does Alice know?","user_name":"Alice"}`))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "OK", resp.Message)
		assert.True(t, resp.Info.Status)
		assert.Equal(t, "Alice knows Go", resp.Info.Response)
		assert.Equal(t, 1, resp.Info.Sources)
		assert.Equal(t, query.Request{Query: "What does Alice know?", UserName: "Alice"}, ts.asker.got)
	})

	t.Run("blank query is 400", func(t *testing.T) {
		for _, body := range []string{`{"query":"  "}`, `{"user_name":"Alice"}`} {
			rec := setupTestServer(t, nil).do(chatRequest(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
	})

	t.Run("invalid json is 400", func(t *testing.T) {
		rec := setupTestServer(t, nil).do(chatRequest(`{not json`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("retrieval failure is 500", func(t *testing.T) {
		ts := setupTestServer(t, nil)
		ts.asker.err = rag.ErrStorage
		rec := ts.do(chatRequest(`{"query":"q"}`))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Internal Server Error", decodeError(t, rec).Message)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	rec := setupTestServer(t, nil).do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		rec := setupTestServer(t, nil).do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("logs requests with the request id", func(t *testing.T) {
		ts := setupTestServer(t, nil)
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

		entries := ts.logs.FilterMessage("http request").All()
		require.Len(t, entries, 1)
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), entries[0].ContextMap()["request.id"])
	})

	t.Run("recovers from panic", func(t *testing.T) {
		ts := setupTestServer(t, nil)
		ts.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() {
			rec = ts.do(httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown route is 404", func(t *testing.T) {
		rec := setupTestServer(t, nil).do(httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServerLifecycle(t *testing.T) {
	s, err := NewServer(Deps{Indexer: &fakeIndexer{}, Asker: &fakeAsker{}, Logger: logging.Nop()}, &Config{Host: "localhost", Port: 0})
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.True(t, err == nil || errors.Is(err, http.ErrServerClosed))
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
