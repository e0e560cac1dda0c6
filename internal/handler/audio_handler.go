package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/songdex/songdex/internal/pkg/errcode"
	"github.com/songdex/songdex/internal/pkg/response"
	"github.com/songdex/songdex/internal/service"
)

type AudioHandler struct {
	catalog *service.CatalogService
}

func NewAudioHandler(catalog *service.CatalogService) *AudioHandler {
	return &AudioHandler{catalog: catalog}
}

func (h *AudioHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrValidation, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "open upload failed")
		return
	}
	defer file.Close()
	url, err := h.catalog.UploadAudio(c.Request.Context(), c.Param("id"), file, header.Size, baseURL(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"url": url})
}

func (h *AudioHandler) URL(c *gin.Context) {
	url, err := h.catalog.AudioURL(c.Request.Context(), c.Param("id"), baseURL(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"url": url})
}

func (h *AudioHandler) Delete(c *gin.Context) {
	if err := h.catalog.DeleteAudio(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{})
}

// Get streams a locally stored object; hosted stores serve from their own
// public URL instead.
func (h *AudioHandler) Get(c *gin.Context) {
	reader, err := h.catalog.OpenAudio(c.Request.Context(), c.Param("key"))
	if err != nil {
		handleError(c, err)
		return
	}
	defer reader.Close()
	c.Header("Content-Type", "application/octet-stream")
	_, _ = io.Copy(c.Writer, reader)
}
