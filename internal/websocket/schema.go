package websocket

import "github.com/stemsi/exstem-attempt/internal/engine"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionNavigate   Action = "navigate"
	ActionVisibility Action = "visibility"
	ActionFullscreen Action = "fullscreen"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestPayload is the union of every client message. Fields not used by
// an action are ignored.
type RequestPayload struct {
	Action        Action `json:"action"`
	QuestionID    string `json:"question_id,omitempty"`
	Option        *int   `json:"option,omitempty"`
	Index         *int   `json:"index,omitempty"`
	State         string `json:"state,omitempty"`
	Active        bool   `json:"active,omitempty"`
	Failed        bool   `json:"failed,omitempty"`
	ViewportWidth int    `json:"viewport_width,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Confirmed     bool   `json:"confirmed,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventAck     Event = "ack"
	EventSession Event = "session"
	EventPong    Event = "pong"
)

// AckResponse confirms a client action was applied.
type AckResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
}

// SessionResponse carries an engine event: countdown ticks, save notices,
// anti-cheat warnings and completion.
type SessionResponse struct {
	Event   Event        `json:"event"`
	Payload engine.Event `json:"payload"`
}

// SubmitResponse is sent once a manual submission succeeded.
type SubmitResponse struct {
	Event  Event          `json:"event"`
	Action Action         `json:"action"`
	Result *engine.Result `json:"result"`
}

type ErrorResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action,omitempty"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
