package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyforge/internal/jobs"
	"storyforge/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handleError переводит ошибку в HTTP статус.
func handleError(c *gin.Context, log *zap.Logger, err error) {
	var status int
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrJobFinished):
		status = http.StatusConflict
	case errors.Is(err, jobs.ErrTooManyJobs):
		status = http.StatusTooManyRequests
	case errors.Is(err, jobs.ErrManagerClosed):
		status = http.StatusServiceUnavailable
	default:
		log.Error("Unhandled internal error", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}
