package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// AttemptHandler serves the student-facing attempt endpoints.
type AttemptHandler struct {
	attempts *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attempts: attempts}
}

// caller resolves the credentials and session id of a request, writing the
// failure response itself when either is missing.
func caller(c *gin.Context) (model.Credentials, uuid.UUID, bool) {
	creds, ok := middleware.GetCredentials(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return model.Credentials{}, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return model.Credentials{}, uuid.Nil, false
	}
	return creds, sessionID, true
}

// StartSession godoc
// POST /api/v1/student/sessions/:session_id/start
// Starts a NOT_STARTED session or resumes an IN_PROGRESS one.
func (h *AttemptHandler) StartSession(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	var req model.StartSessionRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	result, err := h.attempts.Start(c.Request.Context(), creds, sessionID, req.ViewportWidth)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetState godoc
// GET /api/v1/student/sessions/:session_id/state
func (h *AttemptHandler) GetState(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	state, err := h.attempts.State(c.Request.Context(), creds, sessionID)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// SaveAnswer godoc
// PUT /api/v1/student/sessions/:session_id/answers
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.Answer(c.Request.Context(), creds, sessionID, req.QuestionID, *req.Option); err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question_id": req.QuestionID, "option": *req.Option})
}

// Navigate godoc
// POST /api/v1/student/sessions/:session_id/navigate
func (h *AttemptHandler) Navigate(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.Navigate(c.Request.Context(), creds, sessionID, *req.Index); err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"current_question_index": *req.Index})
}

// ReportVisibility godoc
// POST /api/v1/student/sessions/:session_id/visibility
func (h *AttemptHandler) ReportVisibility(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	var req model.VisibilityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.Visibility(c.Request.Context(), creds, sessionID, req.State == "visible"); err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": req.State})
}

// ReportFullscreen godoc
// POST /api/v1/student/sessions/:session_id/fullscreen
func (h *AttemptHandler) ReportFullscreen(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	var req model.FullscreenRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.Fullscreen(c.Request.Context(), creds, sessionID, req); err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"active": req.Active, "failed": req.Failed})
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
// Requires {"confirmed": true}. A failed delivery leaves the session open
// so the student can retry.
func (h *AttemptHandler) Submit(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		if _, unconfirmed := fields["confirmed"]; unconfirmed {
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrSubmitUnconfirmed)
			return
		}
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attempts.Submit(c.Request.Context(), creds, sessionID)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// Beacon godoc
// POST /api/v1/student/sessions/:session_id/beacon?token=
// Called by navigator.sendBeacon on page unload. Always answers 202 for a
// well-formed request; the staging itself happens in the background.
func (h *AttemptHandler) Beacon(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	if err := h.attempts.Beacon(creds, sessionID); err != nil {
		failFromError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// Cancel godoc
// POST /api/v1/student/sessions/:session_id/cancel
func (h *AttemptHandler) Cancel(c *gin.Context) {
	creds, sessionID, ok := caller(c)
	if !ok {
		return
	}

	if err := h.attempts.Cancel(c.Request.Context(), creds, sessionID); err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": model.SessionStatusCancelled})
}
