package calllog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	calllogService "github.com/zhouzirui/z-tavern/voiceagent/internal/service/calllog"
	"github.com/zhouzirui/z-tavern/voiceagent/pkg/utils"
)

// Handler 通话记录查询接口
type Handler struct {
	svc *calllogService.Service
}

// New 创建通话记录处理器
func New(svc *calllogService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册通话记录路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/call-logs", h.handleList)
	r.Get("/call-logs/{id}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entries := h.svc.List(r.Context(), r.URL.Query().Get("agentId"))
	utils.RespondJSON(w, http.StatusOK, map[string]any{"callLogs": entries})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, calllogService.ErrEntryNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, entry)
}
