package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

type fakeService struct {
	resp     *schema.QueryResponse
	err      error
	panicMsg string
	last     map[string]string
	lastTTL  time.Duration
	reset    []string
	resetErr error
}

func (f *fakeService) Query(_ context.Context, q schema.Query) (*schema.QueryResponse, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.resp, f.err
}

func (f *fakeService) LastConversation(userID string) (string, bool) {
	v, ok := f.last[userID]
	return v, ok
}

func (f *fakeService) SetLastConversation(userID, value string, ttl time.Duration) {
	if f.last == nil {
		f.last = map[string]string{}
	}
	f.last[userID] = value
	f.lastTTL = ttl
}

func (f *fakeService) ResetConversation(_ context.Context, userID string) error {
	f.reset = append(f.reset, userID)
	return f.resetErr
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	answered := &schema.QueryResponse{Matches: []schema.WeightedContext{}, APIResults: []any{}, Answer: "Hello!"}

	tests := []struct {
		name       string
		svc        *fakeService
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "answered",
			svc:        &fakeService{resp: answered},
			body:       `{"query":"hello","options":{"userId":"u1"}}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"matches":[],"apiResults":[],"answer":"Hello!"}`,
		},
		{
			name:       "duplicate message",
			svc:        &fakeService{},
			body:       `{"query":"hello","options":{"messageId":"m1"}}`,
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "malformed body",
			svc:        &fakeService{},
			body:       `{"query":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			svc:        &fakeService{},
			body:       `{"query":"hi","store":"x"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty query",
			svc:        &fakeService{},
			body:       `{"query":"  "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported backend",
			svc:        &fakeService{err: fmt.Errorf("%w: %q", schema.ErrUnsupportedBackend, "pinecone")},
			body:       `{"query":"hi"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "generation failure",
			svc:        &fakeService{err: fmt.Errorf("%w: empty answer", schema.ErrGeneration)},
			body:       `{"query":"hi"}`,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "panic",
			svc:        &fakeService{panicMsg: "boom"},
			body:       `{"query":"hi"}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, NewRouter(tt.svc), http.MethodPost, "/v1/query", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			if rec.Code >= 400 {
				var e errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
				assert.NotEmpty(t, e.Error)
			}
		})
	}
}

func TestConversationEndpoints(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(svc)

	rec := do(t, r, http.MethodGet, "/v1/conversations/u1/last", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodPut, "/v1/conversations/u1/last", `{"value":"conv-7","ttlSeconds":30}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 30*time.Second, svc.lastTTL)

	rec = do(t, r, http.MethodGet, "/v1/conversations/u1/last", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"u1","value":"conv-7"}`, rec.Body.String())

	rec = do(t, r, http.MethodPut, "/v1/conversations/u1/last", `{"value":"x","ttlSeconds":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodDelete, "/v1/conversations/u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u1"}, svc.reset)

	svc.resetErr = errors.New("redis down")
	rec = do(t, r, http.MethodDelete, "/v1/conversations/u1", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := NewRouter(&fakeService{})

	rec := do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	r := NewRouter(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
}
