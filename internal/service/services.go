package service

import (
	"context"
	"errors"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/repository"
)

var (
	ErrServiceNotRegistered = errors.New("服务未注册")
	ErrServiceNotAllowed    = errors.New("服务已被禁用")
)

// ServicesManager 注册服务管理接口
// 将服务 URL 解析为注册服务记录，供验证引擎与登出管理器使用
type ServicesManager interface {
	// FindServiceBy 返回匹配服务 URL 的注册服务
	FindServiceBy(ctx context.Context, serviceURL string) (*model.RegisteredService, error)
	// IsServiceAuthorized 检查服务 URL 是否对应一个允许访问的注册服务
	IsServiceAuthorized(ctx context.Context, serviceURL string) bool
}

// servicesManager 注册服务管理实现
type servicesManager struct {
	repo repository.RegisteredServiceRepository
}

// NewServicesManager 创建注册服务管理实例
func NewServicesManager(repo repository.RegisteredServiceRepository) ServicesManager {
	return &servicesManager{repo: repo}
}

// FindServiceBy 返回匹配服务 URL 的注册服务
func (m *servicesManager) FindServiceBy(ctx context.Context, serviceURL string) (*model.RegisteredService, error) {
	svc, err := m.repo.FindByService(ctx, serviceURL)
	if err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			return nil, ErrServiceNotRegistered
		}
		return nil, err
	}
	return svc, nil
}

// IsServiceAuthorized 检查服务 URL 是否对应允许访问的注册服务
func (m *servicesManager) IsServiceAuthorized(ctx context.Context, serviceURL string) bool {
	svc, err := m.FindServiceBy(ctx, serviceURL)
	if err != nil {
		return false
	}
	return svc.AccessAllowed()
}
