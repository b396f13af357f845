package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vdiana16/SiemensJava2025/internal/cache"
	"github.com/vdiana16/SiemensJava2025/internal/domain"
	"github.com/vdiana16/SiemensJava2025/internal/middleware"
	"github.com/vdiana16/SiemensJava2025/internal/processor"
	"github.com/vdiana16/SiemensJava2025/internal/repositories"
	"github.com/vdiana16/SiemensJava2025/internal/usecases"
)

type testServer struct {
	repo        *repositories.MemoryRepository
	coordinator *processor.Coordinator
	router      http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	repo := repositories.NewMemoryRepository(logger)
	coordinator := processor.NewCoordinator(repo, logger, processor.Options{Workers: 4})
	coordinator.Start()
	t.Cleanup(coordinator.Stop)

	uc := usecases.NewItemUsecase(repo, cache.NewShardedCache(4, time.Minute), coordinator, logger, 10, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware(logger))
	r.Route("/api/items", NewItemHandler(uc, logger).Routes)

	return &testServer{repo: repo, coordinator: coordinator, router: r}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestItemCRUD(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/items", domain.Item{Name: "widget", Email: "a@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.Item](t, rec)
	assert.Positive(t, int64(created.ID))
	assert.Equal(t, domain.StatusNew, created.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	path := fmt.Sprintf("/api/items/%d", created.ID)

	rec = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode[domain.Item](t, rec))

	rec = s.do(t, http.MethodPut, path, domain.Item{Name: "gadget", Email: "b@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gadget", decode[domain.Item](t, rec).Name)

	// read-after-write goes past the cache
	rec = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gadget", decode[domain.Item](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/api/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Item](t, rec), 1)

	rec = s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestItemErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"create invalid email", http.MethodPost, "/api/items", domain.Item{Name: "x", Email: "nope"}, http.StatusBadRequest},
		{"create missing email", http.MethodPost, "/api/items", domain.Item{Name: "x"}, http.StatusBadRequest},
		{"get missing", http.MethodGet, "/api/items/42", nil, http.StatusNotFound},
		{"get bad id", http.MethodGet, "/api/items/abc", nil, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/api/items/42", domain.Item{Name: "x", Email: "a@example.com"}, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/items/42", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/items", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestItemValidationRules(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/items", domain.Item{Email: "a@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, "name is optional")
	created := decode[domain.Item](t, rec)

	// update bodies are stored as sent
	path := fmt.Sprintf("/api/items/%d", created.ID)
	rec = s.do(t, http.MethodPut, path, domain.Item{Name: "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[domain.Item](t, rec)
	assert.Equal(t, "renamed", updated.Name)
	assert.Empty(t, updated.Email)
}

func TestProcessItems(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.repo.Create(ctx, &domain.Item{Name: fmt.Sprintf("item-%d", i), Email: "a@example.com", Status: domain.StatusNew})
		require.NoError(t, err)
	}

	// warm the cache so invalidation is observable
	rec := s.do(t, http.MethodGet, "/api/items/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusNew, decode[domain.Item](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/items/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		BatchID        string        `json:"batch_id"`
		Items          []domain.Item `json:"items"`
		Count          int           `json:"count"`
		SubmittedCount int           `json:"submitted_count"`
		NotFoundCount  int           `json:"not_found_count"`
		FailedCount    int           `json:"failed_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.BatchID)
	assert.Equal(t, 5, body.Count)
	assert.Len(t, body.Items, 5)
	assert.Equal(t, 5, body.SubmittedCount)
	assert.Zero(t, body.NotFoundCount)
	assert.Zero(t, body.FailedCount)
	for _, it := range body.Items {
		assert.Equal(t, domain.StatusProcessed, it.Status)
	}

	rec = s.do(t, http.MethodGet, "/api/items/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusProcessed, decode[domain.Item](t, rec).Status)
}

func TestProcessItemsCoordinationError(t *testing.T) {
	s := newTestServer(t)
	s.coordinator.Stop()

	rec := s.do(t, http.MethodGet, "/api/items/process", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}
