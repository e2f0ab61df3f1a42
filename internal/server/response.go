package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pdf-qa/internal/models"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrOCRUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrExtraction),
		errors.Is(err, models.ErrChunking),
		errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := ErrorResponse{Error: err.Error(), Kind: models.ErrorKind(err)}
	if errors.Is(err, models.ErrIndexNotFound) {
		body.Error = models.NoIndexMessage
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", body.Kind).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Kind: "invalid_input"})
}
