package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/songdex/songdex/internal/model"
	"github.com/songdex/songdex/internal/pkg/errcode"
	"github.com/songdex/songdex/internal/pkg/response"
	"github.com/songdex/songdex/internal/service"
	"github.com/songdex/songdex/internal/storage"
)

type SongHandler struct {
	catalog *service.CatalogService
}

func NewSongHandler(catalog *service.CatalogService) *SongHandler {
	return &SongHandler{catalog: catalog}
}

func (h *SongHandler) Create(c *gin.Context) {
	var song model.Song
	if err := c.ShouldBindJSON(&song); err != nil {
		response.Error(c, errcode.ErrValidation, "invalid request body")
		return
	}
	id, err := h.catalog.PutSong(c.Request.Context(), &song)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"song_id": id})
}

func (h *SongHandler) CreateBatch(c *gin.Context) {
	var songs []*model.Song
	if err := c.ShouldBindJSON(&songs); err != nil {
		response.Error(c, errcode.ErrValidation, "invalid request body")
		return
	}
	ids, err := h.catalog.IngestSongs(c.Request.Context(), songs)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"song_ids": ids})
}

func (h *SongHandler) Get(c *gin.Context) {
	song, err := h.catalog.GetSong(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, song)
}

func (h *SongHandler) Delete(c *gin.Context) {
	deleted, err := h.catalog.DeleteSong(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": deleted})
}

func (h *SongHandler) List(c *gin.Context) {
	limit := 0
	if value := c.Query("limit"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			limit = parsed
		}
	}
	filters := storage.ListFilters{
		Artist:    c.Query("artist"),
		Genre:     c.Query("genre"),
		TitleLike: c.Query("title"),
	}
	songs, nextToken, err := h.catalog.ListSongs(c.Request.Context(), c.Query("cursor"), limit, filters)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"songs": songs, "next_cursor": nextToken})
}

func (h *SongHandler) Find(c *gin.Context) {
	id, err := h.catalog.FindSongID(c.Request.Context(), c.Query("name"), c.Query("path"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"song_id": id})
}

type embeddingRequest struct {
	Vector    []float32 `json:"vector"`
	ModelName string    `json:"model_name"`
}

func (h *SongHandler) PutEmbedding(c *gin.Context) {
	var req embeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrValidation, "invalid request body")
		return
	}
	id, err := h.catalog.PutEmbedding(c.Request.Context(), c.Param("id"), req.Vector, req.ModelName)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"embedding_id": id})
}

func (h *SongHandler) GetEmbedding(c *gin.Context) {
	emb, err := h.catalog.GetEmbedding(c.Request.Context(), c.Param("id"), c.Query("model_name"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, emb)
}
