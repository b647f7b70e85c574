package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/service"
	"github.com/pu-ac-cn/cas-server/pkg/response"
	"go.uber.org/zap"
)

// ReportHandler SSO 会话报表处理器
type ReportHandler struct {
	tickets service.TicketService
	logger  *zap.Logger
}

// NewReportHandler 创建会话报表处理器
func NewReportHandler(tickets service.TicketService, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{tickets: tickets, logger: logger}
}

// ListSessions 枚举存活 SSO 会话
// GET /api/v1/sessions
func (h *ReportHandler) ListSessions(c *gin.Context) {
	sessions, err := h.tickets.ListActiveSessions(c.Request.Context())
	if err != nil {
		h.logger.Error("枚举会话失败", zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	// 可按用户名过滤
	if principal := c.Query("principal"); principal != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if strings.Contains(s.Principal, principal) {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	response.Success(c, gin.H{
		"list":  sessions,
		"total": len(sessions),
	})
}

// DestroySession 销毁指定 SSO 会话并触发单点登出
// DELETE /api/v1/sessions/:id
func (h *ReportHandler) DestroySession(c *gin.Context) {
	id := c.Param("id")

	tgt, err := h.tickets.GetTicketGrantingTicket(c.Request.Context(), id)
	if err != nil {
		response.Error(c, response.CodeSessionNotFound)
		return
	}

	requests, err := h.tickets.DestroyTicketGrantingTicket(c.Request.Context(), tgt.ID)
	if err != nil {
		h.logger.Error("销毁会话失败", zap.String("tgt", id), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	response.Success(c, gin.H{
		"ticket_id":       tgt.ID,
		"logout_requests": len(requests),
	})
}
