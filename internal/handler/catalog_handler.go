package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/internal/service"
	"github.com/noah-isme/studyplan-api/pkg/response"
)

type catalogLookup interface {
	GetCatalogItem(ctx context.Context, rawType, id string) (*models.CatalogSummary, error)
}

// CatalogHandler serves replacement content lookups.
type CatalogHandler struct {
	catalog catalogLookup
}

// NewCatalogHandler constructs the handler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Get godoc
// @Summary Look up a book, lecture or custom content
// @Tags Catalog
// @Produce json
// @Param type path string true "book, lecture or custom"
// @Param id path string true "Content ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /catalog/{type}/{id} [get]
func (h *CatalogHandler) Get(c *gin.Context) {
	item, err := h.catalog.GetCatalogItem(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
