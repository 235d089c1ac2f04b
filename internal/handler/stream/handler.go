package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/service/feed"
	"github.com/zhouzirui/hangout/backend/internal/service/orchestrator"
	"github.com/zhouzirui/hangout/backend/internal/service/session"
	"github.com/zhouzirui/hangout/backend/pkg/utils"
)

const (
	heartbeatInterval = 15 * time.Second
	pongWait          = 60 * time.Second
	pingInterval      = 54 * time.Second
	writeWait         = 10 * time.Second
	maxFrameBytes     = 64 << 10
)

// EventSnapshot is the first event of every feed.
const EventSnapshot = "snapshot"

// Handler streams live session updates over SSE and websockets.
type Handler struct {
	sessions     *session.Registry
	hub          *feed.Hub
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// New creates a stream handler. allowedOrigins follows the CORS setting;
// "*" or an empty list accepts any origin.
func New(sessions *session.Registry, hub *feed.Hub, orch *orchestrator.Orchestrator, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:     sessions,
		hub:          hub,
		orchestrator: orch,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册实时推送路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// handleEvents 通过SSE推送会话事件
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	entry, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	logger := h.logger.With(zap.String("session_id", sessionID), zap.String("transport", "sse"))
	logger.Debug("feed opened")
	defer logger.Debug("feed closed")

	if err := utils.SendSSEEvent(w, flusher, EventSnapshot, snapshotEvent(entry.Snapshot())); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, evt.Type, evt); err != nil {
				logger.Debug("sse write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

func snapshotEvent(s hangout.Session) feed.Event {
	return feed.Event{
		Type:      EventSnapshot,
		SessionID: s.ID,
		Data:      s,
		Timestamp: time.Now().UTC(),
	}
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// ChatFrame carries a participant message.
type ChatFrame struct {
	Sender   string `json:"sender" validate:"max=64"`
	Text     string `json:"text" validate:"required,max=4000"`
	Finalize bool   `json:"finalize"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	entry, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	logger := h.logger.With(zap.String("session_id", sessionID), zap.String("transport", "websocket"))
	logger.Debug("feed opened")
	defer logger.Debug("feed closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	if err := conn.writeJSON(outgoingMessage{
		Type:      EventSnapshot,
		SessionID: sessionID,
		Data:      entry.Snapshot(),
		Timestamp: time.Now().Unix(),
	}); err != nil {
		return
	}

	go h.pump(ctx, cancel, conn, sub, logger)

	raw.SetReadLimit(maxFrameBytes)
	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(conn, sessionID, "validation", "session mismatch")
			continue
		}
		h.handleFrame(ctx, conn, sessionID, &msg)
		// Plan generation can outlast pongWait.
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// pump forwards feed events and keeps the connection alive.
func (h *Handler) pump(ctx context.Context, cancel context.CancelFunc, conn *wsConn, sub *feed.Subscription, logger *zap.Logger) {
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.writeJSON(outgoingMessage{
				Type:      evt.Type,
				SessionID: evt.SessionID,
				Data:      evt.Data,
				Timestamp: evt.Timestamp.Unix(),
			}); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *wsConn, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "message":
		var frame ChatFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			h.sendError(conn, sessionID, "validation", "invalid message payload")
			return
		}
		if err := utils.ValidateStruct(&frame); err != nil {
			h.sendError(conn, sessionID, "validation", err.Error())
			return
		}
		result, err := h.orchestrator.HandleMessage(ctx, sessionID, orchestrator.MessageInput{
			Sender:   frame.Sender,
			Text:     frame.Text,
			Finalize: frame.Finalize,
		})
		if err != nil {
			h.sendError(conn, sessionID, errorKind(err), err.Error())
			return
		}
		data := map[string]any{
			"message":     result.Message,
			"participant": result.Participant,
			"created":     result.Created,
			"plan":        result.Plan,
			"finalized":   result.Finalized,
		}
		if result.PlanError != nil {
			data["planError"] = map[string]string{
				"kind":  hangout.ErrorKind(result.PlanError),
				"error": result.PlanError.Error(),
			}
		}
		h.sendResult(conn, sessionID, data)
	case "regenerate":
		plan, err := h.orchestrator.RegeneratePlan(ctx, sessionID)
		if err != nil {
			h.sendError(conn, sessionID, errorKind(err), err.Error())
			return
		}
		h.sendResult(conn, sessionID, map[string]any{"plan": plan})
	case "ping":
		h.sendResult(conn, sessionID, map[string]any{"pong": true})
	default:
		h.sendError(conn, sessionID, "validation", "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) sendResult(conn *wsConn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		h.logger.Debug("write result failed", zap.Error(err))
	}
}

func (h *Handler) sendError(conn *wsConn, sessionID, kind, message string) {
	msg := outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data:      map[string]string{"kind": kind, "message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		h.logger.Debug("write error failed", zap.Error(err))
	}
}

func errorKind(err error) string {
	if errors.Is(err, orchestrator.ErrEmptyMessage) {
		return "validation"
	}
	return hangout.ErrorKind(err)
}
