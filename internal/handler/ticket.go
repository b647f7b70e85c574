package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/service"
	"go.uber.org/zap"
)

// TicketHandler 票据 REST 处理器
// 遵循 CAS REST 协议，响应为纯文本而非 JSON 封装
type TicketHandler struct {
	authenticator service.Authenticator
	tickets       service.TicketService
	logger        *zap.Logger
}

// NewTicketHandler 创建票据处理器
func NewTicketHandler(authenticator service.Authenticator, tickets service.TicketService, logger *zap.Logger) *TicketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketHandler{authenticator: authenticator, tickets: tickets, logger: logger}
}

// CreateTGT 主认证并创建 TGT
// POST /cas/v1/tickets
func (h *TicketHandler) CreateTGT(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		c.String(http.StatusBadRequest, "username 和 password 为必填参数")
		return
	}

	principal, err := h.authenticator.Authenticate(c.Request.Context(), username, password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.String(http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		h.logger.Error("主认证出错", zap.String("username", username), zap.Error(err))
		c.String(http.StatusInternalServerError, "服务器内部错误")
		return
	}

	tgt, err := h.tickets.CreateTicketGrantingTicket(c.Request.Context(), principal.ID, principal.Attributes)
	if err != nil {
		h.logger.Error("创建 TGT 失败", zap.String("principal", principal.ID), zap.Error(err))
		c.String(http.StatusInternalServerError, "服务器内部错误")
		return
	}

	c.Header("Location", fmt.Sprintf("%s/cas/v1/tickets/%s", requestBase(c), tgt.ID))
	c.String(http.StatusCreated, tgt.ID)
}

// GrantST 在 TGT 下签发服务票据
// POST /cas/v1/tickets/:tgt
func (h *TicketHandler) GrantST(c *gin.Context) {
	tgtID := c.Param("tgt")
	serviceURL := c.PostForm("service")
	if serviceURL == "" {
		c.String(http.StatusBadRequest, "service 为必填参数")
		return
	}

	st, err := h.tickets.GrantServiceTicket(c.Request.Context(), tgtID, serviceURL, false)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTGTNotFound), errors.Is(err, service.ErrTGTExpired):
			c.String(http.StatusNotFound, "TGT 不存在或已失效")
		case errors.Is(err, service.ErrUnauthorizedService):
			c.String(http.StatusForbidden, "服务未授权接入")
		default:
			h.logger.Error("签发 ST 失败", zap.String("tgt", tgtID), zap.Error(err))
			c.String(http.StatusInternalServerError, "服务器内部错误")
		}
		return
	}

	c.String(http.StatusOK, st.ID)
}

// DestroyTGT 销毁 TGT 并触发单点登出
// DELETE /cas/v1/tickets/:tgt
func (h *TicketHandler) DestroyTGT(c *gin.Context) {
	tgtID := c.Param("tgt")

	requests, err := h.tickets.DestroyTicketGrantingTicket(c.Request.Context(), tgtID)
	if err != nil {
		h.logger.Error("销毁 TGT 失败", zap.String("tgt", tgtID), zap.Error(err))
		c.String(http.StatusInternalServerError, "服务器内部错误")
		return
	}

	h.logger.Info("SSO 会话已销毁",
		zap.String("tgt", tgtID),
		zap.Int("logout_requests", len(requests)),
	)
	c.String(http.StatusOK, tgtID)
}

// Logout 销毁 TGT 并返回待浏览器送达的前端通道登出请求
// POST /cas/logout
func (h *TicketHandler) Logout(c *gin.Context) {
	tgtID := c.PostForm("tgt")
	if tgtID == "" {
		tgtID = c.Query("tgt")
	}
	if tgtID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tgt 为必填参数"})
		return
	}

	requests, err := h.tickets.DestroyTicketGrantingTicket(c.Request.Context(), tgtID)
	if err != nil {
		h.logger.Error("登出失败", zap.String("tgt", tgtID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}

	// 前端通道请求交给浏览器逐个送达
	frontChannel := make([]*model.LogoutRequest, 0)
	for _, req := range requests {
		if req.LogoutType == model.LogoutTypeFrontChannel {
			frontChannel = append(frontChannel, req)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"tgt":            tgtID,
		"front_channel":  frontChannel,
		"total_requests": len(requests),
	})
}

// requestBase 还原请求的协议与主机
func requestBase(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}
