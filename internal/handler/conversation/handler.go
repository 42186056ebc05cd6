package conversation

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	convService "github.com/zhouzirui/z-tavern/voiceagent/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/pkg/utils"
)

const keepAliveInterval = 15 * time.Second

// Handler 对话控制接口
type Handler struct {
	manager   *convService.Manager
	logger    zerolog.Logger
	keepAlive time.Duration
}

// New 创建对话处理器
func New(manager *convService.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		logger:    logger.With().Str("component", "conversation_handler").Logger(),
		keepAlive: keepAliveInterval,
	}
}

// RegisterRoutes 注册对话相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", h.handleStart)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Delete("/{id}", h.handleStop)
		r.Post("/{id}/stop-recording", h.handleStopRecording)
		r.Post("/{id}/interrupt", h.handleInterrupt)
		r.Post("/{id}/messages", h.handleMessage)
		r.Get("/{id}/events", h.handleEvents)
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AgentID   string `json:"agentId"`
		AgentName string `json:"agentName"`
		Mode      string `json:"mode"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := model.Mode(strings.TrimSpace(payload.Mode))
	if mode == "" {
		mode = model.ModeStream
	}

	conv, err := h.manager.Start(r.Context(), convService.StartRequest{
		AgentID:   payload.AgentID,
		AgentName: payload.AgentName,
		Mode:      mode,
	})
	if err != nil {
		h.respondManagerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, conv.Info())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": h.manager.List()})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, convService.ErrNotFound.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv.Info())
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Stop(chi.URLParam(r, "id")); err != nil {
		h.respondManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.StopRecording(chi.URLParam(r, "id")); err != nil {
		h.respondManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Interrupt(chi.URLParam(r, "id")); err != nil {
		h.respondManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text       string `json:"text"`
		Contextual bool   `json:"contextual"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := h.manager.SendMessage(chi.URLParam(r, "id"), payload.Text, payload.Contextual); err != nil {
		h.respondManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents 以 SSE 推送对话事件，对话结束后关闭流
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, ok := h.manager.Get(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, convService.ErrNotFound.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := h.manager.Hub().Subscribe(id)
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "snapshot", conv.Info()); err != nil {
		return
	}
	// 订阅前对话可能已结束，此时不会再有事件
	if _, ok := h.manager.Get(id); !ok {
		_ = utils.SendSSEEvent(w, flusher, convService.EventEnded, convService.Event{
			Type:           convService.EventEnded,
			ConversationID: id,
			At:             time.Now().UTC(),
		})
		return
	}

	ctx := r.Context()
	h.logger.Debug().Str("conversation", id).Msg("event stream opened")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Str("conversation", id).Msg("event stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) respondManagerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn().Err(err).Int("status", status).Msg("conversation request failed")
	}
	utils.RespondError(w, status, err.Error())
}

// statusFor 将错误分类映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, convService.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, convService.ErrAgentRequired), errors.Is(err, convService.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, convService.ErrWrongMode),
		errors.Is(err, voice.ErrMicrophoneBusy),
		errors.Is(err, voice.ErrChannelNotOpen),
		errors.Is(err, voice.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, voice.ErrCredential), errors.Is(err, voice.ErrConnection):
		return http.StatusBadGateway
	case errors.Is(err, voice.ErrAudioCapture):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
