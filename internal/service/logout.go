package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LogoutExecutionPlan 单点登出执行计划
// 进程启动时装配一次：登出地址解析策略与消息处理器的有序列表
type LogoutExecutionPlan struct {
	urlBuilders []LogoutURLBuilder
	handlers    []SingleLogoutMessageHandler
}

// NewLogoutExecutionPlan 创建空的执行计划
func NewLogoutExecutionPlan() *LogoutExecutionPlan {
	return &LogoutExecutionPlan{}
}

// RegisterURLBuilder 注册登出地址解析策略
func (p *LogoutExecutionPlan) RegisterURLBuilder(b LogoutURLBuilder) {
	p.urlBuilders = append(p.urlBuilders, b)
}

// RegisterMessageHandler 注册登出消息处理器
func (p *LogoutExecutionPlan) RegisterMessageHandler(h SingleLogoutMessageHandler) {
	p.handlers = append(p.handlers, h)
}

// DetermineLogoutURL 链式解析登出地址，取第一个非空结果
func (p *LogoutExecutionPlan) DetermineLogoutURL(svc *model.RegisteredService, serviceURL string) string {
	for _, b := range p.urlBuilders {
		if !b.Supports(svc, serviceURL) {
			continue
		}
		if u := b.DetermineLogoutURL(svc, serviceURL); u != "" {
			return u
		}
	}
	return ""
}

// FindHandler 取第一个声明支持该请求的消息处理器
func (p *LogoutExecutionPlan) FindHandler(svc *model.RegisteredService, req *model.LogoutRequest) SingleLogoutMessageHandler {
	for _, h := range p.handlers {
		if h.Supports(svc, req) {
			return h
		}
	}
	return nil
}

// LogoutManager 单点登出管理接口
type LogoutManager interface {
	// PerformLogout 计算被终止会话需要通知的服务并派发登出消息
	// 返回全部产生的登出请求（成功、失败与未派发的），前端通道
	// 请求由调用方驱动浏览器送达
	PerformLogout(ctx context.Context, tgt *model.Ticket) ([]*model.LogoutRequest, error)
}

// LogoutManagerConfig 单点登出配置
type LogoutManagerConfig struct {
	Disabled          bool          // 全局关闭单点登出
	Timeout           time.Duration // 单个服务通知超时，默认 5 秒
	Concurrency       int           // 并发通知上限，默认 8
	FollowDescendants bool          // 是否遍历后代票据收集通知目标
}

type logoutManager struct {
	services ServicesManager
	registry registry.TicketRegistry
	tracking *TicketTrackingPolicy
	plan     *LogoutExecutionPlan
	config   *LogoutManagerConfig
	logger   *zap.Logger
}

// NewLogoutManager 创建单点登出管理器
func NewLogoutManager(services ServicesManager, reg registry.TicketRegistry, plan *LogoutExecutionPlan, config *LogoutManagerConfig, logger *zap.Logger) LogoutManager {
	if config == nil {
		config = &LogoutManagerConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Concurrency == 0 {
		config.Concurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logoutManager{
		services: services,
		registry: reg,
		tracking: &TicketTrackingPolicy{},
		plan:     plan,
		config:   config,
		logger:   logger,
	}
}

// logoutTarget 一次登出中待通知的条目
type logoutTarget struct {
	ticketID string
	ref      model.ServiceRef
}

// PerformLogout 计算被终止会话需要通知的服务并派发登出消息
func (m *logoutManager) PerformLogout(ctx context.Context, tgt *model.Ticket) ([]*model.LogoutRequest, error) {
	if m.config.Disabled {
		return nil, nil
	}

	targets, err := m.collectTargets(ctx, tgt)
	if err != nil {
		return nil, err
	}

	requests := make([]*model.LogoutRequest, 0, len(targets))
	type dispatch struct {
		req     *model.LogoutRequest
		handler SingleLogoutMessageHandler
	}
	var dispatches []dispatch

	// 后代票据可能带来服务表之外的条目
	if tgt.Services == nil && len(targets) > 0 {
		tgt.Services = map[string]model.ServiceRef{}
	}

	for _, target := range targets {
		// 幂等保护：访问过的服务标记为已登出并持久化，
		// 重复触发登出时不再产生通知
		tgt.Services[target.ticketID] = model.ServiceRef{URL: target.ref.URL, LoggedOut: true}

		svc, err := m.services.FindServiceBy(ctx, target.ref.URL)
		if err != nil {
			// 未注册或已失效的服务静默排除，不是错误
			m.logger.Debug("登出时跳过未注册服务", zap.String("service", target.ref.URL))
			continue
		}

		logoutType := svc.LogoutType
		if logoutType == model.LogoutTypeNone {
			continue
		}
		if logoutType == "" {
			// 未配置按后端通道处理
			logoutType = model.LogoutTypeBackChannel
		}

		logoutURL := m.plan.DetermineLogoutURL(svc, target.ref.URL)
		if logoutURL == "" {
			// 无法解析登出地址的服务静默排除
			continue
		}

		req := &model.LogoutRequest{
			TicketID:   target.ticketID,
			Service:    target.ref.URL,
			LogoutURL:  logoutURL,
			LogoutType: logoutType,
			Status:     model.LogoutStatusNotAttempted,
		}
		requests = append(requests, req)

		if handler := m.plan.FindHandler(svc, req); handler != nil {
			dispatches = append(dispatches, dispatch{req: req, handler: handler})
		}
	}

	// 持久化已登出标记
	if len(targets) > 0 {
		if err := m.registry.UpdateTicket(ctx, tgt); err != nil {
			return nil, fmt.Errorf("持久化登出标记失败: %w", err)
		}
	}

	// 并行派发，每个服务独立超时，单个失败不阻塞其余服务
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Concurrency)
	for _, d := range dispatches {
		d := d
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(gctx, m.config.Timeout)
			defer cancel()

			if err := d.handler.Handle(hctx, d.req, tgt.Principal); err != nil {
				m.logger.Warn("单点登出通知失败",
					zap.String("service", d.req.Service),
					zap.String("logout_url", d.req.LogoutURL),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()

	return requests, nil
}

// collectTargets 收集待通知条目：TGT 服务表，可选加上后代票据
func (m *logoutManager) collectTargets(ctx context.Context, tgt *model.Ticket) ([]logoutTarget, error) {
	var targets []logoutTarget
	seen := map[string]struct{}{}

	for id, ref := range tgt.Services {
		seen[id] = struct{}{}
		if ref.LoggedOut {
			continue
		}
		targets = append(targets, logoutTarget{ticketID: id, ref: ref})
	}

	if m.config.FollowDescendants {
		for _, id := range tgt.Descendants {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			t, err := m.tracking.ExtractTicket(ctx, m.registry, id)
			if err != nil {
				return nil, err
			}
			if t == nil || !t.Kind.IsServiceTicket() {
				continue
			}
			targets = append(targets, logoutTarget{ticketID: t.ID, ref: model.ServiceRef{URL: t.Service}})
		}
	}
	return targets, nil
}
