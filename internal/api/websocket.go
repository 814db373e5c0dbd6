package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tracelens/backend/internal/models"
)

// WebSocket message types for the progress protocol
const (
	// Client -> Server messages
	MsgTypeCancel = "cancel"
	MsgTypePing   = "ping"

	// Server -> Client messages
	MsgTypeProgress = "progress"
	MsgTypeDone     = "done"
	MsgTypeError    = "error"
	MsgTypePong     = "pong"
)

const (
	progressInterval = 100 * time.Millisecond
	progressTimeout  = 30 * time.Minute
	writeWait        = 5 * time.Second
)

// WSMessage is a client command.
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressFrame reports the state of a parse session.
type WSProgressFrame struct {
	Type      string               `json:"type"`
	Session   *models.ParseSession `json:"session,omitempty"`
	Message   string               `json:"message,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// WebSocketHandler streams parse progress frames until the session finishes.
type WebSocketHandler struct {
	sessionMgr SessionManager
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewWebSocketHandler creates a progress stream handler
func NewWebSocketHandler(sessionMgr SessionManager, logger *slog.Logger) ProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger.With("component", "websocket"),
	}
}

// HandleProgressSocket upgrades the connection and pushes a progress frame
// every 100ms. A "cancel" message from the client cancels the session.
func (wsh *WebSocketHandler) HandleProgressSocket(c echo.Context) error {
	id := c.Param("sessionId")
	if _, ok := wsh.sessionMgr.GetSession(id); !ok {
		return NewNotFoundError("session", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	log := wsh.logger.With("session", id)
	log.Debug("progress client connected")

	commands := make(chan WSMessage)
	done := make(chan struct{})
	defer close(done)
	go wsh.readLoop(ws, commands, done, log)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(progressTimeout)
	defer timeout.Stop()

	for {
		select {
		case msg, ok := <-commands:
			if !ok {
				log.Debug("progress client disconnected")
				return nil
			}
			switch msg.Type {
			case MsgTypePing:
				wsh.send(ws, WSProgressFrame{Type: MsgTypePong})
			case MsgTypeCancel:
				if err := wsh.sessionMgr.Cancel(id); err != nil {
					wsh.send(ws, WSProgressFrame{Type: MsgTypeError, Message: err.Error()})
				}
			default:
				wsh.send(ws, WSProgressFrame{Type: MsgTypeError, Message: "unknown message type: " + msg.Type})
			}

		case <-ticker.C:
			sess, ok := wsh.sessionMgr.GetSession(id)
			if !ok {
				wsh.send(ws, WSProgressFrame{Type: MsgTypeError, Message: "session not found"})
				return nil
			}
			if !sess.Done() {
				if err := wsh.send(ws, WSProgressFrame{Type: MsgTypeProgress, Session: sess}); err != nil {
					return nil
				}
				continue
			}
			wsh.send(ws, WSProgressFrame{Type: MsgTypeDone, Session: sess})
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(sess.Status)),
				time.Now().Add(writeWait))
			return nil

		case <-timeout.C:
			wsh.send(ws, WSProgressFrame{Type: MsgTypeError, Message: "stream timeout"})
			return nil
		}
	}
}

func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, out chan<- WSMessage, done <-chan struct{}, log *slog.Logger) {
	defer close(out)
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}
		select {
		case out <- msg:
		case <-done:
			return
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, frame WSProgressFrame) error {
	frame.Timestamp = time.Now().UnixMilli()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(frame); err != nil {
		wsh.logger.Debug("failed to send frame", "error", err)
		return err
	}
	return nil
}
