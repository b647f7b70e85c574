// Package repository 数据访问层
package repository

import (
	"context"
	"errors"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"gorm.io/gorm"
)

// 错误定义
var (
	ErrServiceNotFound = errors.New("注册服务不存在")
)

// Pagination 分页参数
type Pagination struct {
	Page     int // 页码，从 1 开始
	PageSize int // 每页数量
}

// RegisteredServiceRepository 注册服务数据访问接口
type RegisteredServiceRepository interface {
	Create(ctx context.Context, svc *model.RegisteredService) error
	GetByID(ctx context.Context, id string) (*model.RegisteredService, error)
	// FindByService 返回匹配服务 URL 的注册服务，按 EvaluationOrder 取第一个
	FindByService(ctx context.Context, serviceURL string) (*model.RegisteredService, error)
	Update(ctx context.Context, svc *model.RegisteredService) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter *ServiceFilter, page *Pagination) ([]*model.RegisteredService, int64, error)
}

// ServiceFilter 注册服务查询过滤器
type ServiceFilter struct {
	Name   string // 名称（模糊匹配）
	Status string // 状态
}

// registeredServiceRepository 注册服务数据访问实现
type registeredServiceRepository struct {
	db *gorm.DB
}

// NewRegisteredServiceRepository 创建注册服务数据访问实例
func NewRegisteredServiceRepository(db *gorm.DB) RegisteredServiceRepository {
	return &registeredServiceRepository{db: db}
}

// Create 创建注册服务
func (r *registeredServiceRepository) Create(ctx context.Context, svc *model.RegisteredService) error {
	return r.db.WithContext(ctx).Create(svc).Error
}

// GetByID 根据 ID 获取注册服务
func (r *registeredServiceRepository) GetByID(ctx context.Context, id string) (*model.RegisteredService, error) {
	var svc model.RegisteredService
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&svc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}

// FindByService 返回匹配服务 URL 的注册服务
// 匹配模式为正则表达式，无法下推到 SQL，按优先级顺序取出后逐个匹配
func (r *registeredServiceRepository) FindByService(ctx context.Context, serviceURL string) (*model.RegisteredService, error) {
	var services []*model.RegisteredService
	err := r.db.WithContext(ctx).Order("evaluation_order ASC, created_at ASC").Find(&services).Error
	if err != nil {
		return nil, err
	}

	for _, svc := range services {
		if svc.Matches(serviceURL) {
			return svc, nil
		}
	}
	return nil, ErrServiceNotFound
}

// Update 更新注册服务
func (r *registeredServiceRepository) Update(ctx context.Context, svc *model.RegisteredService) error {
	result := r.db.WithContext(ctx).Model(svc).Select(
		"name",
		"service_id",
		"logout_type",
		"logout_url",
		"allow_to_proxy",
		"status",
		"description",
		"evaluation_order",
	).Updates(svc)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// Delete 删除注册服务（软删除）
func (r *registeredServiceRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.RegisteredService{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// List 查询注册服务列表
func (r *registeredServiceRepository) List(ctx context.Context, filter *ServiceFilter, page *Pagination) ([]*model.RegisteredService, int64, error) {
	var services []*model.RegisteredService
	var total int64

	query := r.db.WithContext(ctx).Model(&model.RegisteredService{})

	// 应用过滤条件
	if filter != nil {
		if filter.Name != "" {
			query = query.Where("name LIKE ?", "%"+filter.Name+"%")
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
	}

	// 统计总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	if page != nil && page.Page > 0 && page.PageSize > 0 {
		offset := (page.Page - 1) * page.PageSize
		query = query.Offset(offset).Limit(page.PageSize)
	}

	// 按优先级排序
	if err := query.Order("evaluation_order ASC, created_at ASC").Find(&services).Error; err != nil {
		return nil, 0, err
	}

	return services, total, nil
}
