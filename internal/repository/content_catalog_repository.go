package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyplan-api/internal/models"
)

// ContentCatalogRepository looks up books, lectures and custom contents.
type ContentCatalogRepository struct {
	db *sqlx.DB
}

// NewContentCatalogRepository builds the repository.
func NewContentCatalogRepository(db *sqlx.DB) *ContentCatalogRepository {
	return &ContentCatalogRepository{db: db}
}

// FindItem returns the catalog item of the given type. sql.ErrNoRows is returned
// untouched when the item does not exist.
func (r *ContentCatalogRepository) FindItem(ctx context.Context, contentType models.ContentType, id string) (models.CatalogItem, error) {
	switch contentType {
	case models.ContentTypeBook:
		var book models.Book
		if err := r.db.GetContext(ctx, &book, `SELECT id, title, publisher, total_pages FROM books WHERE id = $1`, id); err != nil {
			return nil, err
		}
		return book, nil
	case models.ContentTypeLecture:
		var lecture models.Lecture
		if err := r.db.GetContext(ctx, &lecture, `SELECT id, title, platform, total_episodes FROM lectures WHERE id = $1`, id); err != nil {
			return nil, err
		}
		return lecture, nil
	case models.ContentTypeCustom:
		var custom models.CustomContent
		if err := r.db.GetContext(ctx, &custom, `SELECT id, title, total_page_or_time FROM custom_contents WHERE id = $1`, id); err != nil {
			return nil, err
		}
		return custom, nil
	default:
		return nil, fmt.Errorf("find catalog item: unknown content type %q", contentType)
	}
}
