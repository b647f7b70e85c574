package handler

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/repository"
	"github.com/pu-ac-cn/cas-server/pkg/response"
)

// ServiceHandler 注册服务管理处理器
type ServiceHandler struct {
	repo repository.RegisteredServiceRepository
}

// NewServiceHandler 创建注册服务管理处理器
func NewServiceHandler(repo repository.RegisteredServiceRepository) *ServiceHandler {
	return &ServiceHandler{repo: repo}
}

// ListServices 获取注册服务列表
// GET /api/v1/services
func (h *ServiceHandler) ListServices(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filter := &repository.ServiceFilter{
		Name:   c.Query("name"),
		Status: c.Query("status"),
	}

	pagination := &repository.Pagination{
		Page:     page,
		PageSize: pageSize,
	}

	services, total, err := h.repo.List(c.Request.Context(), filter, pagination)
	if err != nil {
		response.Error(c, response.CodeServerError)
		return
	}

	list := make([]gin.H, len(services))
	for i, svc := range services {
		list[i] = h.serviceToResponse(svc)
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetService 获取注册服务详情
// GET /api/v1/services/:id
func (h *ServiceHandler) GetService(c *gin.Context) {
	id := c.Param("id")
	svc, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, response.CodeServiceNotFound)
		return
	}

	response.Success(c, h.serviceToResponse(svc))
}

// CreateServiceRequest 创建注册服务请求
type CreateServiceRequest struct {
	Name            string `json:"name" binding:"required"`
	ServiceID       string `json:"service_id" binding:"required"`
	LogoutType      string `json:"logout_type"`
	LogoutURL       string `json:"logout_url"`
	AllowToProxy    bool   `json:"allow_to_proxy"`
	Description     string `json:"description"`
	EvaluationOrder int    `json:"evaluation_order"`
}

// CreateService 创建注册服务
// POST /api/v1/services
func (h *ServiceHandler) CreateService(c *gin.Context) {
	var req CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidRequest, "参数错误: "+err.Error())
		return
	}

	// 匹配模式必须是合法正则
	if _, err := regexp.Compile(req.ServiceID); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidFormat, "service_id 不是合法的正则表达式")
		return
	}
	if !validLogoutType(req.LogoutType) {
		response.ErrorWithMsg(c, response.CodeInvalidFormat, "logout_type 必须是 NONE、BACK_CHANNEL 或 FRONT_CHANNEL")
		return
	}

	svc := &model.RegisteredService{
		Name:            req.Name,
		ServiceID:       req.ServiceID,
		LogoutType:      req.LogoutType,
		LogoutURL:       req.LogoutURL,
		AllowToProxy:    req.AllowToProxy,
		Description:     req.Description,
		EvaluationOrder: req.EvaluationOrder,
		Status:          model.StatusActive,
	}

	if err := h.repo.Create(c.Request.Context(), svc); err != nil {
		response.ErrorWithMsg(c, response.CodeServerError, err.Error())
		return
	}

	response.Success(c, h.serviceToResponse(svc))
}

// UpdateServiceRequest 更新注册服务请求
type UpdateServiceRequest struct {
	Name            string `json:"name"`
	ServiceID       string `json:"service_id"`
	LogoutType      *string `json:"logout_type"`
	LogoutURL       *string `json:"logout_url"`
	AllowToProxy    *bool   `json:"allow_to_proxy"`
	Status          string `json:"status"`
	Description     string `json:"description"`
	EvaluationOrder *int   `json:"evaluation_order"`
}

// UpdateService 更新注册服务
// PUT /api/v1/services/:id
func (h *ServiceHandler) UpdateService(c *gin.Context) {
	id := c.Param("id")
	var req UpdateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidRequest, "参数错误: "+err.Error())
		return
	}

	svc, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, response.CodeServiceNotFound)
		return
	}

	if req.Name != "" {
		svc.Name = req.Name
	}
	if req.ServiceID != "" {
		if _, err := regexp.Compile(req.ServiceID); err != nil {
			response.ErrorWithMsg(c, response.CodeInvalidFormat, "service_id 不是合法的正则表达式")
			return
		}
		svc.ServiceID = req.ServiceID
	}
	if req.LogoutType != nil {
		if !validLogoutType(*req.LogoutType) {
			response.ErrorWithMsg(c, response.CodeInvalidFormat, "logout_type 必须是 NONE、BACK_CHANNEL 或 FRONT_CHANNEL")
			return
		}
		svc.LogoutType = *req.LogoutType
	}
	if req.LogoutURL != nil {
		svc.LogoutURL = *req.LogoutURL
	}
	if req.AllowToProxy != nil {
		svc.AllowToProxy = *req.AllowToProxy
	}
	if req.Status != "" {
		svc.Status = req.Status
	}
	if req.Description != "" {
		svc.Description = req.Description
	}
	if req.EvaluationOrder != nil {
		svc.EvaluationOrder = *req.EvaluationOrder
	}

	if err := h.repo.Update(c.Request.Context(), svc); err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			response.Error(c, response.CodeServiceNotFound)
			return
		}
		response.Error(c, response.CodeServerError)
		return
	}

	response.Success(c, h.serviceToResponse(svc))
}

// DeleteService 删除注册服务
// DELETE /api/v1/services/:id
func (h *ServiceHandler) DeleteService(c *gin.Context) {
	id := c.Param("id")

	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			response.Error(c, response.CodeServiceNotFound)
			return
		}
		response.Error(c, response.CodeServerError)
		return
	}

	response.Success(c, gin.H{"message": "删除成功"})
}

// validLogoutType 检查登出方式取值
func validLogoutType(t string) bool {
	switch t {
	case "", model.LogoutTypeNone, model.LogoutTypeBackChannel, model.LogoutTypeFrontChannel:
		return true
	}
	return false
}

// serviceToResponse 将注册服务转换为响应格式
func (h *ServiceHandler) serviceToResponse(svc *model.RegisteredService) gin.H {
	return gin.H{
		"id":               svc.ID,
		"name":             svc.Name,
		"service_id":       svc.ServiceID,
		"logout_type":      svc.LogoutType,
		"logout_url":       svc.LogoutURL,
		"allow_to_proxy":   svc.AllowToProxy,
		"status":           svc.Status,
		"description":      svc.Description,
		"evaluation_order": svc.EvaluationOrder,
		"created_at":       svc.CreatedAt,
		"updated_at":       svc.UpdatedAt,
	}
}
