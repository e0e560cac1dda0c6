package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/songdex/songdex/internal/pkg/errcode"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
	"github.com/songdex/songdex/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get("request_id")
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	switch {
	case appErr.IsNotFound(err):
		response.Error(c, errcode.ErrNotFound, "not found")
	case appErr.IsValidation(err):
		response.Error(c, errcode.ErrValidation, err.Error())
	case appErr.IsUnavailable(err):
		response.Error(c, errcode.ErrBackendUnavailable, "storage unavailable, try again later")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}

// baseURL reconstructs the externally visible address of this service for
// building audio links.
func baseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func missingIDs(err error) []string {
	pf, ok := appErr.AsPartialFailure(err)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(pf.Failed))
	for _, f := range pf.Failed {
		ids = append(ids, f.ID)
	}
	return ids
}
