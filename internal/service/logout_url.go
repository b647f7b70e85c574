package service

import (
	"net/url"

	"github.com/pu-ac-cn/cas-server/internal/model"
)

// LogoutURLBuilder 单点登出地址解析策略接口
// 多个策略按注册顺序链式尝试，取第一个非空结果
type LogoutURLBuilder interface {
	// Supports 检查该策略是否适用于此服务
	Supports(svc *model.RegisteredService, serviceURL string) bool
	// DetermineLogoutURL 解析登出地址，无法解析时返回空串（不是错误）
	DetermineLogoutURL(svc *model.RegisteredService, serviceURL string) string
}

// defaultLogoutURLBuilder 默认登出地址解析策略
// 注册服务显式配置了登出地址则原样使用；否则仅当原始请求
// 服务 URL 为 http/https 时回退到该 URL，其余协议不支持
type defaultLogoutURLBuilder struct{}

// NewDefaultLogoutURLBuilder 创建默认登出地址解析策略
func NewDefaultLogoutURLBuilder() LogoutURLBuilder {
	return &defaultLogoutURLBuilder{}
}

// Supports 默认策略适用于所有注册服务
func (b *defaultLogoutURLBuilder) Supports(svc *model.RegisteredService, serviceURL string) bool {
	return svc != nil
}

// DetermineLogoutURL 解析登出地址
func (b *defaultLogoutURLBuilder) DetermineLogoutURL(svc *model.RegisteredService, serviceURL string) string {
	if svc.LogoutURL != "" {
		return svc.LogoutURL
	}

	u, err := url.Parse(serviceURL)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return serviceURL
}
