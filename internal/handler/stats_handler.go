package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/songdex/songdex/internal/pkg/response"
	"github.com/songdex/songdex/internal/service"
)

type StatsHandler struct {
	catalog *service.CatalogService
}

func NewStatsHandler(catalog *service.CatalogService) *StatsHandler {
	return &StatsHandler{catalog: catalog}
}

func (h *StatsHandler) Stats(c *gin.Context) {
	stats, err := h.catalog.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *StatsHandler) Genres(c *gin.Context) {
	genres, err := h.catalog.Genres(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"genres": genres})
}
