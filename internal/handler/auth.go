// Package handler HTTP 处理器
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/config"
	"github.com/pu-ac-cn/cas-server/internal/service"
	"github.com/pu-ac-cn/cas-server/pkg/response"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler 管理端认证处理器
type AuthHandler struct {
	admin        config.AdminConfig
	tokenService service.TokenService
	logger       *zap.Logger
}

// NewAuthHandler 创建管理端认证处理器
func NewAuthHandler(admin config.AdminConfig, tokenSvc service.TokenService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{admin: admin, tokenService: tokenSvc, logger: logger}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 管理员登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidRequest, "参数错误: "+err.Error())
		return
	}

	if req.Username != h.admin.Username {
		response.Error(c, response.CodeInvalidCredentials)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.admin.PasswordHash), []byte(req.Password)); err != nil {
		response.Error(c, response.CodeInvalidCredentials)
		return
	}

	token, err := h.tokenService.GenerateToken(c.Request.Context(), req.Username)
	if err != nil {
		h.logger.Error("生成管理令牌失败", zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	response.Success(c, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
	})
}
