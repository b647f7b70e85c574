// Package service 认证服务
package service

import (
	"context"
	"errors"

	"github.com/pu-ac-cn/cas-server/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// 认证相关错误
var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
)

// Principal 主认证产出的身份
type Principal struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Authenticator 主认证接口
// 票据端点通过它校验凭据；部署方可替换为 LDAP、数据库等实现
type Authenticator interface {
	// Authenticate 验证用户凭据
	Authenticate(ctx context.Context, username, password string) (*Principal, error)
}

// staticAuthenticator 配置文件内置用户认证器
type staticAuthenticator struct {
	users map[string]config.UserConfig
}

// NewStaticAuthenticator 创建静态用户认证器
func NewStaticAuthenticator(users []config.UserConfig) Authenticator {
	byName := make(map[string]config.UserConfig, len(users))
	for _, u := range users {
		byName[u.Username] = u
	}
	return &staticAuthenticator{users: byName}
}

// Authenticate 验证用户凭据
func (a *staticAuthenticator) Authenticate(ctx context.Context, username, password string) (*Principal, error) {
	user, ok := a.users[username]
	if !ok {
		// 用户不存在与密码错误返回同一错误，避免用户名探测
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Principal{ID: user.Username, Attributes: user.Attributes}, nil
}
