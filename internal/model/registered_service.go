package model

import (
	"regexp"
)

// 登出方式常量
const (
	LogoutTypeNone         = "NONE"          // 不通知
	LogoutTypeBackChannel  = "BACK_CHANNEL"  // 服务端 HTTP POST 通知
	LogoutTypeFrontChannel = "FRONT_CHANNEL" // 浏览器重定向通知
)

// RegisteredService 注册服务模型
// 接入 SSO 的应用，ServiceID 为匹配服务 URL 的正则表达式
type RegisteredService struct {
	BaseModel
	Name            string `gorm:"type:varchar(255);not null" json:"name"`             // 服务名称
	ServiceID       string `gorm:"type:varchar(500);not null;index" json:"service_id"` // 服务 URL 匹配模式（正则）
	LogoutType      string `gorm:"type:varchar(20);default:''" json:"logout_type"`     // 登出方式，空值按 BACK_CHANNEL 处理
	LogoutURL       string `gorm:"type:varchar(500)" json:"logout_url"`                // 显式登出地址（可选）
	AllowToProxy    bool   `gorm:"default:false" json:"allow_to_proxy"`                // 是否允许代理认证
	Status          string `gorm:"type:varchar(20);default:active" json:"status"`      // 状态
	Description     string `gorm:"type:text" json:"description"`                       // 服务描述
	EvaluationOrder int    `gorm:"default:0;index" json:"evaluation_order"`            // 匹配优先级，越小越先
}

// TableName 表名
func (RegisteredService) TableName() string {
	return "registered_services"
}

// AccessAllowed 检查服务是否允许访问
func (s *RegisteredService) AccessAllowed() bool {
	return s.Status == StatusActive
}

// Matches 检查服务 URL 是否匹配此注册服务
func (s *RegisteredService) Matches(serviceURL string) bool {
	if serviceURL == "" {
		return false
	}
	re, err := regexp.Compile(s.ServiceID)
	if err != nil {
		return false
	}
	return re.MatchString(serviceURL)
}
