package model

import (
	"time"
)

// Assertion 票据验证成功后返回的身份断言
// ProxyChain 为代理链上各级服务的 URL，从请求方向外依次到原始认证。
type Assertion struct {
	Principal       string            `json:"principal"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	Service         string            `json:"service"`
	AuthenticatedAt time.Time         `json:"authenticated_at"`
	FromNewLogin    bool              `json:"from_new_login"`
	ProxyChain      []string          `json:"proxy_chain,omitempty"`
}
