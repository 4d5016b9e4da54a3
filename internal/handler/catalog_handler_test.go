package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

type catalogStub struct{}

func (catalogStub) GetCatalogItem(ctx context.Context, rawType, id string) (*models.CatalogSummary, error) {
	if rawType != "book" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown content type")
	}
	if id != "book-2" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
	}
	pages := 200
	return &models.CatalogSummary{ID: id, Title: "Calculus", ContentType: models.ContentTypeBook, TotalExtent: &pages, Unit: "page"}, nil
}

func TestCatalogHandlerGet(t *testing.T) {
	h := &CatalogHandler{catalog: catalogStub{}}
	r := newTestRouter(studentClaims())
	r.GET("/catalog/:type/:id", h.Get)

	w, env := doJSON(t, r, http.MethodGet, "/catalog/book/book-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var item models.CatalogSummary
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.NotNil(t, item.TotalExtent)
	assert.Equal(t, 200, *item.TotalExtent)

	w, _ = doJSON(t, r, http.MethodGet, "/catalog/book/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/catalog/video/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	healthy := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
	})
	failing := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	r := newTestRouter(nil)
	r.GET("/ready", healthy.Ready)
	r.GET("/not-ready", failing.Ready)
	r.GET("/metrics", healthy.Prometheus)

	w, _ := doJSON(t, r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := doJSON(t, r, http.MethodGet, "/not-ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, string(env.Data), "connection refused")

	w, _ = doJSON(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
