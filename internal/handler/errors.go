package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// classify maps a service or engine error to an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, response.ErrForbidden
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusConflict, response.ErrSessionNotStarted
	case errors.Is(err, engine.ErrSessionClosed), errors.Is(err, engine.ErrDisposed):
		return http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, engine.ErrSubmissionPending):
		return http.StatusConflict, response.ErrSubmissionPending
	case errors.Is(err, engine.ErrSubmitFailed):
		return http.StatusBadGateway, response.ErrSubmitFailed
	case errors.Is(err, engine.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity, response.ErrUnknownQuestion
	case errors.Is(err, engine.ErrInvalidOption):
		return http.StatusUnprocessableEntity, response.ErrInvalidOption
	case errors.Is(err, engine.ErrInvalidIndex):
		return http.StatusUnprocessableEntity, response.ErrInvalidIndex
	case errors.Is(err, engine.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, engine.ErrQuestionFetch):
		return http.StatusServiceUnavailable, response.ErrQuestionsUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failFromError writes the error envelope for err. Unclassified errors are
// logged with the request logger.
func failFromError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("code", string(code)).Msg("Request failed")
	}
	response.Fail(c, status, code)
}
