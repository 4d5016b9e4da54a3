package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

// CatalogService resolves content catalog items.
type CatalogService struct {
	repo   catalogReader
	logger *zap.Logger
}

// NewCatalogService constructs a catalog service.
func NewCatalogService(repo catalogReader, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, logger: logger}
}

// GetCatalogItem returns the summary of a book, lecture or custom content.
func (s *CatalogService) GetCatalogItem(ctx context.Context, rawType, id string) (*models.CatalogSummary, error) {
	contentType, err := models.ParseContentType(rawType)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "content id is required")
	}
	item, err := s.Lookup(ctx, contentType, id)
	if err != nil {
		return nil, err
	}
	summary := models.SummarizeCatalogItem(item)
	return &summary, nil
}

// Lookup returns the catalog item, mapping a missing row to ErrNotFound.
func (s *CatalogService) Lookup(ctx context.Context, contentType models.ContentType, id string) (models.CatalogItem, error) {
	if !contentType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content type %q", contentType))
	}
	item, err := s.repo.FindItem(ctx, contentType, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, string(contentType)+" not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load catalog item")
	}
	return item, nil
}
