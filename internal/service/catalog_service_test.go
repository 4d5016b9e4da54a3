package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

func TestCatalogServiceGetCatalogItem(t *testing.T) {
	svc := NewCatalogService(&fakeCatalog{items: map[string]models.CatalogItem{
		"book:book-2": models.Book{ID: "book-2", Title: "Algebra II", TotalPages: intPtr(200)},
	}}, nil)

	summary, err := svc.GetCatalogItem(context.Background(), "BOOK", "book-2")
	require.NoError(t, err)
	assert.Equal(t, "Algebra II", summary.Title)
	assert.Equal(t, 200, *summary.TotalExtent)
	assert.Equal(t, "page", summary.Unit)

	_, err = svc.GetCatalogItem(context.Background(), "video", "x")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.GetCatalogItem(context.Background(), "lecture", "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.GetCatalogItem(context.Background(), "lecture", "lec-404")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
