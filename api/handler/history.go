package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ocrtool/ocrtool/internal/database"
	"github.com/ocrtool/ocrtool/internal/model"
)

// HistoryReader 历史记录查询
type HistoryReader interface {
	ListOperations(ctx context.Context, q database.HistoryQuery) ([]model.OperationRecord, error)
	ListAlerts(ctx context.Context, gate string, limit int) ([]model.ReachabilityAlert, error)
}

// HistoryHandler 操作记录与告警查询
type HistoryHandler struct {
	repo HistoryReader
}

// NewHistoryHandler 创建处理器
func NewHistoryHandler(repo HistoryReader) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// Operations GET /history?gate=&device=&operation=&limit=
func (h *HistoryHandler) Operations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	records, err := h.repo.ListOperations(c.Request.Context(), database.HistoryQuery{
		Gate:      c.Query("gate"),
		Device:    c.Query("device"),
		Operation: c.Query("operation"),
		Limit:     limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "获取记录成功", records)
}

// Alerts GET /alerts?gate=&limit=
func (h *HistoryHandler) Alerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	alerts, err := h.repo.ListAlerts(c.Request.Context(), c.Query("gate"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "获取告警成功", alerts)
}
