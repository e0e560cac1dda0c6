package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/songdex/songdex/internal/pkg/errcode"
	"github.com/songdex/songdex/internal/pkg/response"
	"github.com/songdex/songdex/internal/service"
	"github.com/songdex/songdex/internal/storage"
)

type SearchHandler struct {
	catalog *service.CatalogService
}

func NewSearchHandler(catalog *service.CatalogService) *SearchHandler {
	return &SearchHandler{catalog: catalog}
}

type searchRequest struct {
	Query  string    `json:"query"`
	Type   string    `json:"type"`
	Limit  int       `json:"limit"`
	Vector []float32 `json:"vector"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrValidation, "invalid request body")
		return
	}
	searchType := storage.SearchType(req.Type)
	if req.Type == "" {
		searchType = storage.SearchHybrid
	}
	results, err := h.catalog.Search(c.Request.Context(), service.SearchInput{
		Text:   req.Query,
		Type:   searchType,
		Limit:  req.Limit,
		Vector: req.Vector,
	})
	if missing := missingIDs(err); missing != nil {
		response.Partial(c, results, missing)
		return
	}
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}

func (h *SearchHandler) Autocomplete(c *gin.Context) {
	results, err := h.catalog.Search(c.Request.Context(), service.SearchInput{
		Text: c.Query("q"),
		Type: storage.SearchAutocomplete,
	})
	if missing := missingIDs(err); missing != nil {
		response.Partial(c, results, missing)
		return
	}
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}

type similarRequest struct {
	Vector    []float32 `json:"vector"`
	K         int       `json:"k"`
	ModelName string    `json:"model_name"`
	Threshold *float64  `json:"threshold"`
}

func (h *SearchHandler) Similar(c *gin.Context) {
	var req similarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrValidation, "invalid request body")
		return
	}
	results, err := h.catalog.SearchSimilar(c.Request.Context(), service.SimilarInput{
		Vector:    req.Vector,
		K:         req.K,
		ModelName: req.ModelName,
		Threshold: req.Threshold,
	})
	if missing := missingIDs(err); missing != nil {
		response.Partial(c, results, missing)
		return
	}
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}
