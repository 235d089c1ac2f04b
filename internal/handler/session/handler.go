package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/observability"
	"github.com/zhouzirui/hangout/backend/internal/service/orchestrator"
	sessionService "github.com/zhouzirui/hangout/backend/internal/service/session"
	"github.com/zhouzirui/hangout/backend/pkg/utils"
)

// recentMessages is how much transcript a snapshot shows unless the caller
// asks for everything.
const recentMessages = 20

// Handler exposes sessions over HTTP.
type Handler struct {
	sessions      *sessionService.Registry
	orchestrator  *orchestrator.Orchestrator
	publicBaseURL string
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// New creates the session handler. metrics and logger may be nil.
func New(sessions *sessionService.Registry, orch *orchestrator.Orchestrator, publicBaseURL string, metrics *observability.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:      sessions,
		orchestrator:  orch,
		publicBaseURL: publicBaseURL,
		metrics:       metrics,
		logger:        logger,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleJoin)
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Post("/sessions/{sessionID}/messages", h.handleMessage)
	r.Post("/sessions/{sessionID}/plan", h.handleRegenerate)
	r.Post("/sessions/{sessionID}/plan/finalize", h.handleFinalize)
	r.Get("/sessions/{sessionID}/plans", h.handlePlanHistory)
}

// SessionView is the wire shape of a session snapshot.
type SessionView struct {
	ID            string                `json:"id"`
	State         hangout.State         `json:"state"`
	ShareURL      string                `json:"shareUrl"`
	Participants  []hangout.Participant `json:"participants"`
	Messages      []hangout.Message     `json:"messages"`
	MessageCount  int                   `json:"messageCount"`
	Plan          *hangout.Plan         `json:"plan"`
	FinalizedPlan *hangout.Plan         `json:"finalizedPlan,omitempty"`
	PlanVersion   int                   `json:"planVersion"`
	CreatedAt     time.Time             `json:"createdAt"`
}

type messageRequest struct {
	Sender   string `json:"sender" validate:"max=64"`
	Text     string `json:"text" validate:"required,max=4000"`
	Finalize bool   `json:"finalize"`
}

type planErrorView struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type messageResponse struct {
	Message     hangout.Message      `json:"message"`
	Replies     []hangout.Message    `json:"replies"`
	Participant *hangout.Participant `json:"participant,omitempty"`
	Created     bool                 `json:"created"`
	Plan        *hangout.Plan        `json:"plan,omitempty"`
	Finalized   bool                 `json:"finalized"`
	PlanError   *planErrorView       `json:"planError,omitempty"`
	Session     SessionView          `json:"session"`
}

// handleJoin 通过分享链接加入或创建会话
func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	entry, created, err := h.sessions.Join(r.Context(), r.URL.Query().Get("session"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.trackSessions()

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("session created", zap.String("session_id", entry.ID()), zap.String("via", "join"))
	}
	utils.RespondJSON(w, status, h.view(entry.Snapshot(), allMessages(r)))
}

// handleCreate 创建会话
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	entry, err := h.sessions.Create(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.trackSessions()
	h.logger.Info("session created", zap.String("session_id", entry.ID()))
	utils.RespondJSON(w, http.StatusCreated, h.view(entry.Snapshot(), false))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.view(entry.Snapshot(), allMessages(r)))
}

// handleMessage 处理参与者消息
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload messageRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, err)
		return
	}

	result, err := h.orchestrator.HandleMessage(r.Context(), sessionID, orchestrator.MessageInput{
		Sender:   payload.Sender,
		Text:     payload.Text,
		Finalize: payload.Finalize,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	snapshot, err := h.snapshot(r.Context(), sessionID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := messageResponse{
		Message:     result.Message,
		Replies:     result.Replies,
		Participant: result.Participant,
		Created:     result.Created,
		Plan:        result.Plan,
		Finalized:   result.Finalized,
		Session:     h.view(snapshot, false),
	}
	if result.PlanError != nil {
		resp.PlanError = &planErrorView{
			Kind:  hangout.ErrorKind(result.PlanError),
			Error: result.PlanError.Error(),
		}
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleRegenerate 显式触发计划重新生成
func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	plan, err := h.orchestrator.RegeneratePlan(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	plan, err := h.orchestrator.FinalizePlan(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, plan)
}

func (h *Handler) handlePlanHistory(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.snapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	history := snapshot.PlanHistory
	if history == nil {
		history = []hangout.Plan{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"plans": history})
}

func (h *Handler) snapshot(ctx context.Context, sessionID string) (hangout.Session, error) {
	entry, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return hangout.Session{}, err
	}
	return entry.Snapshot(), nil
}

func (h *Handler) view(s hangout.Session, all bool) SessionView {
	messages := s.Messages
	if !all && len(messages) > recentMessages {
		messages = messages[len(messages)-recentMessages:]
	}
	if messages == nil {
		messages = []hangout.Message{}
	}
	participants := s.Participants
	if participants == nil {
		participants = []hangout.Participant{}
	}

	return SessionView{
		ID:            s.ID,
		State:         s.State,
		ShareURL:      h.shareURL(s.ID),
		Participants:  participants,
		Messages:      messages,
		MessageCount:  len(s.Messages),
		Plan:          s.Plan,
		FinalizedPlan: s.FinalizedPlan,
		PlanVersion:   s.PlanVersion,
		CreatedAt:     s.CreatedAt,
	}
}

func (h *Handler) shareURL(id string) string {
	return h.publicBaseURL + "/?session=" + url.QueryEscape(id)
}

func (h *Handler) trackSessions() {
	if h.metrics != nil {
		h.metrics.ActiveSessions.Set(float64(h.sessions.Len()))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	kind := hangout.ErrorKind(err)
	if status == http.StatusBadRequest {
		kind = "validation"
	}
	utils.RespondErrorKind(w, status, kind, err.Error())
}

// statusClientClosedRequest is nginx's code for a client that hung up
// before the response was ready.
const statusClientClosedRequest = 499

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var validation *utils.ValidationError
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, hangout.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessionService.ErrInvalidID),
		errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, utils.ErrInvalidBody),
		errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, hangout.ErrInsufficientData):
		return http.StatusConflict
	case errors.Is(err, hangout.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, hangout.ErrExtraction),
		errors.Is(err, hangout.ErrPlanGeneration),
		errors.Is(err, hangout.ErrGeocoding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func allMessages(r *http.Request) bool {
	return r.URL.Query().Get("messages") == "all"
}
