package source_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kgrag/features/source"
	"kgrag/internal/ledger"
)

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Send(ctx context.Context, queue string, body []byte) error {
	args := m.Called(ctx, queue, string(body))
	return args.Error(0)
}

func newHandler(repo ledger.Repository, q *MockQueue) *source.Handler {
	return source.NewHandler(source.NewService(repo, q, "movies", "rag.sources"))
}

func TestHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*ledger.MemoryRepo, *MockQueue)
		wantStatus int
		wantCode   string
	}{
		{
			name: "Queued",
			body: `{"url":"https://example.com/matrix"}`,
			setup: func(_ *ledger.MemoryRepo, q *MockQueue) {
				q.On("Send", mock.Anything, "rag.sources", "https://example.com/matrix").Return(nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "Invalid JSON",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "Missing URL",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "Unsupported Scheme",
			body:       `{"url":"ftp://example.com"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "Already Ingested",
			body: `{"url":"https://example.com/matrix"}`,
			setup: func(r *ledger.MemoryRepo, _ *MockQueue) {
				ctx := context.Background()
				_ = r.MarkProcessing(ctx, "movies", "https://example.com/matrix")
				_ = r.MarkCompleted(ctx, "movies", "https://example.com/matrix", 3, 7)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name: "Queue Down",
			body: `{"url":"https://example.com/matrix"}`,
			setup: func(_ *ledger.MemoryRepo, q *MockQueue) {
				q.On("Send", mock.Anything, "rag.sources", "https://example.com/matrix").Return(errors.New("nats down"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := ledger.NewMemoryRepo()
			q := new(MockQueue)
			if tt.setup != nil {
				tt.setup(repo, q)
			}
			h := newHandler(repo, q)

			req := httptest.NewRequest(http.MethodPost, "/sources", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Create(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				var resp struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
					CorrelationID string `json:"correlationId"`
				}
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.Equal(t, tt.wantCode, resp.Error.Code)
				assert.NotEmpty(t, resp.CorrelationID)
			}
			q.AssertExpectations(t)
		})
	}
}

func TestHandler_ReSync(t *testing.T) {
	ctx := context.Background()
	repo := ledger.NewMemoryRepo()
	require.NoError(t, repo.MarkProcessing(ctx, "movies", "https://example.com/matrix"))
	require.NoError(t, repo.MarkCompleted(ctx, "movies", "https://example.com/matrix", 1, 1))

	q := new(MockQueue)
	q.On("Send", mock.Anything, "rag.sources", "https://example.com/matrix").Return(nil)
	h := newHandler(repo, q)

	w := httptest.NewRecorder()
	h.ReSync(w, httptest.NewRequest(http.MethodPost, "/sources/resync", strings.NewReader(`{"url":"https://example.com/matrix"}`)))
	assert.Equal(t, http.StatusAccepted, w.Code)

	src, err := repo.Get(ctx, "movies", "https://example.com/matrix")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, src.Status)
	assert.Equal(t, "resync requested", src.LastError)
	q.AssertExpectations(t)

	w = httptest.NewRecorder()
	h.ReSync(w, httptest.NewRequest(http.MethodPost, "/sources/resync", strings.NewReader(`{"url":"https://example.com/unknown"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Get(t *testing.T) {
	ctx := context.Background()
	repo := ledger.NewMemoryRepo()
	require.NoError(t, repo.MarkProcessing(ctx, "movies", "https://example.com/matrix"))
	h := newHandler(repo, new(MockQueue))

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/sources/one?url=https://example.com/matrix", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"processing"`)

	w = httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/sources/one?url=https://example.com/other", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/sources/one", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_List(t *testing.T) {
	ctx := context.Background()
	repo := ledger.NewMemoryRepo()
	h := newHandler(repo, new(MockQueue))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/sources", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[],"meta":{"count":0}}`, w.Body.String())

	require.NoError(t, repo.MarkProcessing(ctx, "movies", "https://example.com/a"))
	require.NoError(t, repo.MarkProcessing(ctx, "movies", "https://example.com/b"))
	require.NoError(t, repo.MarkProcessing(ctx, "other", "https://example.com/c"))

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/sources", nil))

	var resp struct {
		Data []ledger.Source `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Meta.Count)
	assert.Len(t, resp.Data, 2)
}
