package handler

import (
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Songs  *SongHandler
	Search *SearchHandler
	Stats  *StatsHandler
	Audio  *AudioHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/songs", deps.Songs.Create)
	api.POST("/songs/batch", deps.Songs.CreateBatch)
	api.GET("/songs", deps.Songs.List)
	api.GET("/songs/find", deps.Songs.Find)
	api.GET("/songs/:id", deps.Songs.Get)
	api.DELETE("/songs/:id", deps.Songs.Delete)

	api.PUT("/songs/:id/embedding", deps.Songs.PutEmbedding)
	api.GET("/songs/:id/embedding", deps.Songs.GetEmbedding)

	api.POST("/search", deps.Search.Search)
	api.GET("/search/autocomplete", deps.Search.Autocomplete)
	api.POST("/search/similar", deps.Search.Similar)

	api.GET("/stats", deps.Stats.Stats)
	api.GET("/genres", deps.Stats.Genres)

	api.POST("/songs/:id/audio", deps.Audio.Upload)
	api.DELETE("/songs/:id/audio", deps.Audio.Delete)
	api.GET("/songs/:id/audio/url", deps.Audio.URL)
	api.GET("/audio/:key", deps.Audio.Get)
}
