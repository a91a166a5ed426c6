package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live attempt over a WebSocket and accepts the same
// actions as the REST endpoints.
type WSHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ws.WriteTyped(w.conn, v)
}

func (w *wsConn) fail(action ws.Action, err error) error {
	_, code := classify(err)
	w.mu.Lock()
	defer w.mu.Unlock()
	return ws.WriteError(w.conn, action, string(code), response.GetMessage(code))
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream?token=
// Pushes countdown ticks, save notices, anti-cheat warnings and completion.
func (h *WSHandler) SessionStream(c *gin.Context) {
	creds, ok := middleware.GetCredentials(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Subscribe before upgrading so ownership and status errors still get a
	// regular JSON response.
	stream, unsubscribe, err := h.attempts.Subscribe(c.Request.Context(), creds, sessionID)
	if err != nil {
		failFromError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", creds.StudentID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	out := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, out, wsLog, creds, sessionID)
	}()

	for {
		select {
		case <-ctx.Done():
			wsLog.Debug().Msg("Connection closed")
			h.stageOnDisconnect(wsLog, creds, sessionID)
			return
		case ev, open := <-stream:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(time.Second))
				return
			}
			if err := out.send(ws.SessionResponse{Event: ws.EventSession, Payload: ev}); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				h.stageOnDisconnect(wsLog, creds, sessionID)
				return
			}
		}
	}
}

// stageOnDisconnect treats a dropped stream like a page unload: the latest
// snapshot is staged while the engine keeps counting down.
func (h *WSHandler) stageOnDisconnect(wsLog zerolog.Logger, creds model.Credentials, sessionID uuid.UUID) {
	err := h.attempts.Beacon(creds, sessionID)
	switch {
	case err == nil:
		wsLog.Debug().Msg("Snapshot staged on disconnect")
	case errors.Is(err, service.ErrSessionNotFound):
	default:
		wsLog.Warn().Err(err).Msg("Failed to stage snapshot on disconnect")
	}
}

func (h *WSHandler) readLoop(ctx context.Context, out *wsConn, wsLog zerolog.Logger, creds model.Credentials, sessionID uuid.UUID) {
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(out.conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		if err := h.dispatch(ctx, out, creds, sessionID, &msg); err != nil {
			wsLog.Debug().Err(err).Str("action", string(msg.Action)).Msg("Write failed")
			return
		}
	}
}

// dispatch applies one client action. The returned error is a write
// failure; action errors are reported to the client.
func (h *WSHandler) dispatch(ctx context.Context, out *wsConn, creds model.Credentials, sessionID uuid.UUID, msg *ws.RequestPayload) error {
	var err error
	switch msg.Action {
	case ws.ActionPing:
		return out.send(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionAnswer:
		if msg.QuestionID == "" || msg.Option == nil {
			return out.send(ws.ErrorResponse{Event: ws.EventError, Action: msg.Action,
				Code: string(response.ErrValidation), Error: "question_id and option are required"})
		}
		err = h.attempts.Answer(ctx, creds, sessionID, msg.QuestionID, *msg.Option)

	case ws.ActionNavigate:
		if msg.Index == nil {
			return out.send(ws.ErrorResponse{Event: ws.EventError, Action: msg.Action,
				Code: string(response.ErrValidation), Error: "index is required"})
		}
		err = h.attempts.Navigate(ctx, creds, sessionID, *msg.Index)

	case ws.ActionVisibility:
		if msg.State != "visible" && msg.State != "hidden" {
			return out.send(ws.ErrorResponse{Event: ws.EventError, Action: msg.Action,
				Code: string(response.ErrValidation), Error: "state must be visible or hidden"})
		}
		err = h.attempts.Visibility(ctx, creds, sessionID, msg.State == "visible")

	case ws.ActionFullscreen:
		err = h.attempts.Fullscreen(ctx, creds, sessionID, model.FullscreenRequest{
			Active:        msg.Active,
			Failed:        msg.Failed,
			ViewportWidth: msg.ViewportWidth,
			Reason:        msg.Reason,
		})

	case ws.ActionSubmit:
		if !msg.Confirmed {
			return out.send(ws.ErrorResponse{Event: ws.EventError, Action: msg.Action,
				Code: string(response.ErrSubmitUnconfirmed), Error: response.GetMessage(response.ErrSubmitUnconfirmed)})
		}
		result, err := h.attempts.Submit(ctx, creds, sessionID)
		if err != nil {
			return out.fail(msg.Action, err)
		}
		return out.send(ws.SubmitResponse{Event: ws.EventAck, Action: msg.Action, Result: result})

	default:
		return out.send(ws.ErrorResponse{Event: ws.EventError, Action: msg.Action,
			Code: string(response.ErrInvalidPayload), Error: "unknown action: " + string(msg.Action)})
	}

	if err != nil {
		return out.fail(msg.Action, err)
	}
	return out.send(ws.AckResponse{Event: ws.EventAck, Action: msg.Action})
}
