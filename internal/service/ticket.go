package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/registry"
)

var (
	ErrTGTNotFound          = errors.New("TGT 不存在")
	ErrTGTExpired           = errors.New("TGT 已过期")
	ErrUnauthorizedService  = errors.New("服务未授权")
	ErrUnauthorizedProxying = errors.New("不允许代理认证")
)

// TicketService 票据生命周期服务接口
type TicketService interface {
	// CreateTicketGrantingTicket 主认证成功后创建 TGT
	CreateTicketGrantingTicket(ctx context.Context, principal string, attributes map[string]string) (*model.Ticket, error)
	// GetTicketGrantingTicket 获取存活的 TGT
	GetTicketGrantingTicket(ctx context.Context, tgtID string) (*model.Ticket, error)
	// GrantServiceTicket 在 TGT 下为服务签发一次性 ST
	GrantServiceTicket(ctx context.Context, tgtID, serviceURL string, fromNewLogin bool) (*model.Ticket, error)
	// GrantProxyGrantingTicket 在已验证的 ST 上为代理服务签发 PGT
	GrantProxyGrantingTicket(ctx context.Context, st *model.Ticket, proxyCallbackURL string) (*model.Ticket, error)
	// GrantProxyTicket 在 PGT 下为后端服务签发 PT
	GrantProxyTicket(ctx context.Context, pgtID, serviceURL string) (*model.Ticket, error)
	// DestroyTicketGrantingTicket 销毁 TGT：触发单点登出并级联删除子票据
	DestroyTicketGrantingTicket(ctx context.Context, tgtID string) ([]*model.LogoutRequest, error)
	// ProxyChain 解析授权票据的代理链，从请求方向外到原始认证
	ProxyChain(ctx context.Context, grantingID string) ([]string, error)
	// CountTicketsFor 统计 TGT 后代中绑定指定服务的存活票据数
	CountTicketsFor(ctx context.Context, tgtID, serviceURL string) (int, error)
	// ListActiveSessions 枚举存活 SSO 会话（报表用，仅读操作）
	ListActiveSessions(ctx context.Context) ([]*SSOSession, error)
}

// SSOSession SSO 会话报表条目
type SSOSession struct {
	TicketID        string    `json:"ticket_id"`
	Principal       string    `json:"principal"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	UseCount        int       `json:"use_count"`
	Proxied         bool      `json:"proxied"`
	Services        []string  `json:"services"`
}

// TicketServiceConfig 票据服务配置
type TicketServiceConfig struct {
	TGTExpiry         time.Duration // TGT 最长存活时间，默认 8 小时
	TGTIdleTimeout    time.Duration // TGT 空闲超时，0 表示不限制
	STExpiry          time.Duration // ST/PT 有效期，默认 5 分钟
	PGTExpiry         time.Duration // PGT 最长存活时间，默认同 TGT
	TrackDescendants  bool          // 是否跟踪全部后代票据
	MaxProxyChainHops int           // 代理链最大跳数，默认 10
}

type ticketService struct {
	registry      registry.TicketRegistry
	services      ServicesManager
	tracking      *TicketTrackingPolicy
	logoutManager LogoutManager
	config        *TicketServiceConfig
}

// NewTicketService 创建票据服务
func NewTicketService(reg registry.TicketRegistry, services ServicesManager, logoutManager LogoutManager, config *TicketServiceConfig) TicketService {
	if config == nil {
		config = &TicketServiceConfig{}
	}
	if config.TGTExpiry == 0 {
		config.TGTExpiry = 8 * time.Hour
	}
	if config.STExpiry == 0 {
		config.STExpiry = 5 * time.Minute
	}
	if config.PGTExpiry == 0 {
		config.PGTExpiry = config.TGTExpiry
	}
	if config.MaxProxyChainHops == 0 {
		config.MaxProxyChainHops = 10
	}
	return &ticketService{
		registry:      reg,
		services:      services,
		tracking:      &TicketTrackingPolicy{TrackDescendants: config.TrackDescendants},
		logoutManager: logoutManager,
		config:        config,
	}
}

// CreateTicketGrantingTicket 主认证成功后创建 TGT
func (s *ticketService) CreateTicketGrantingTicket(ctx context.Context, principal string, attributes map[string]string) (*model.Ticket, error) {
	now := time.Now()
	tgt := &model.Ticket{
		ID:         newTicketID(model.KindTGT),
		Kind:       model.KindTGT,
		CreatedAt:  now,
		Principal:  principal,
		Attributes: attributes,
		Policy:     model.NewIdlePolicy(s.config.TGTExpiry, s.config.TGTIdleTimeout),
	}
	if err := s.registry.AddTicket(ctx, tgt); err != nil {
		return nil, fmt.Errorf("存储 TGT 失败: %w", err)
	}
	return tgt, nil
}

// GetTicketGrantingTicket 获取存活的 TGT
func (s *ticketService) GetTicketGrantingTicket(ctx context.Context, tgtID string) (*model.Ticket, error) {
	return s.getGrantingTicket(ctx, tgtID)
}

// getGrantingTicket 按 ID 前缀取出 TGT 或 PGT
func (s *ticketService) getGrantingTicket(ctx context.Context, id string) (*model.Ticket, error) {
	kind, ok := model.KindFromID(id)
	if !ok || !kind.IsGranting() {
		return nil, ErrTGTNotFound
	}
	t, err := s.registry.GetTicket(ctx, id, kind)
	if err != nil {
		if errors.Is(err, registry.ErrTicketNotFound) {
			return nil, ErrTGTNotFound
		}
		if errors.Is(err, registry.ErrTicketExpired) {
			return nil, ErrTGTExpired
		}
		return nil, err
	}
	return t, nil
}

// GrantServiceTicket 在 TGT 下为服务签发一次性 ST
func (s *ticketService) GrantServiceTicket(ctx context.Context, tgtID, serviceURL string, fromNewLogin bool) (*model.Ticket, error) {
	tgt, err := s.getGrantingTicket(ctx, tgtID)
	if err != nil {
		return nil, err
	}
	return s.grantChildTicket(ctx, tgt, model.KindST, serviceURL, fromNewLogin)
}

// GrantProxyTicket 在 PGT 下为后端服务签发 PT
func (s *ticketService) GrantProxyTicket(ctx context.Context, pgtID, serviceURL string) (*model.Ticket, error) {
	kind, ok := model.KindFromID(pgtID)
	if !ok || kind != model.KindPGT {
		return nil, ErrTGTNotFound
	}
	pgt, err := s.getGrantingTicket(ctx, pgtID)
	if err != nil {
		return nil, err
	}

	// 目标服务必须是允许代理认证的注册服务
	svc, err := s.services.FindServiceBy(ctx, serviceURL)
	if err != nil {
		if errors.Is(err, ErrServiceNotRegistered) {
			return nil, ErrUnauthorizedService
		}
		return nil, err
	}
	if !svc.AccessAllowed() {
		return nil, ErrUnauthorizedService
	}
	if !svc.AllowToProxy {
		return nil, ErrUnauthorizedProxying
	}

	return s.grantChildTicket(ctx, pgt, model.KindPT, serviceURL, false)
}

// grantChildTicket 在授权票据下签发服务类子票据并持久化跟踪状态
func (s *ticketService) grantChildTicket(ctx context.Context, granting *model.Ticket, kind model.TicketKind, serviceURL string, fromNewLogin bool) (*model.Ticket, error) {
	if kind == model.KindST {
		svc, err := s.services.FindServiceBy(ctx, serviceURL)
		if err != nil {
			if errors.Is(err, ErrServiceNotRegistered) {
				return nil, ErrUnauthorizedService
			}
			return nil, err
		}
		if !svc.AccessAllowed() {
			return nil, ErrUnauthorizedService
		}
	}

	now := time.Now()
	child := &model.Ticket{
		ID:           newTicketID(kind),
		Kind:         kind,
		CreatedAt:    now,
		Service:      serviceURL,
		TGTID:        granting.ID,
		FromNewLogin: fromNewLogin,
		Policy:       model.NewSingleUsePolicy(s.config.STExpiry),
	}

	s.tracking.Track(granting, child)
	granting.Touch(now)

	if err := s.registry.AddTicket(ctx, child); err != nil {
		return nil, fmt.Errorf("存储服务票据失败: %w", err)
	}
	if err := s.registry.UpdateTicket(ctx, granting); err != nil {
		return nil, fmt.Errorf("更新授权票据失败: %w", err)
	}
	return child, nil
}

// GrantProxyGrantingTicket 在已验证的 ST 上为代理服务签发 PGT
// 调用方（验证引擎）负责回调地址的可达性认证
func (s *ticketService) GrantProxyGrantingTicket(ctx context.Context, st *model.Ticket, proxyCallbackURL string) (*model.Ticket, error) {
	owner, err := s.getGrantingTicket(ctx, st.TGTID)
	if err != nil {
		return nil, err
	}

	// 构造代理链前检查无环且不超跳数上限
	if err := s.checkProxyChain(ctx, owner.ID); err != nil {
		return nil, err
	}

	now := time.Now()
	pgt := &model.Ticket{
		ID:         newTicketID(model.KindPGT),
		Kind:       model.KindPGT,
		CreatedAt:  now,
		Principal:  owner.Principal,
		Attributes: owner.Attributes,
		Service:    proxyCallbackURL,
		ProxiedBy:  owner.ID,
		Policy:     model.NewTimeToLivePolicy(s.config.PGTExpiry),
	}

	s.tracking.Track(owner, pgt)
	owner.Touch(now)

	if err := s.registry.AddTicket(ctx, pgt); err != nil {
		return nil, fmt.Errorf("存储 PGT 失败: %w", err)
	}
	if err := s.registry.UpdateTicket(ctx, owner); err != nil {
		return nil, fmt.Errorf("更新授权票据失败: %w", err)
	}
	return pgt, nil
}

// checkProxyChain 沿 ProxiedBy 回溯，发现重复节点或超过跳数上限即拒绝
func (s *ticketService) checkProxyChain(ctx context.Context, startID string) error {
	visited := map[string]struct{}{}
	id := startID
	for hops := 0; id != ""; hops++ {
		if hops >= s.config.MaxProxyChainHops {
			return ErrUnauthorizedProxying
		}
		if _, ok := visited[id]; ok {
			return ErrUnauthorizedProxying
		}
		visited[id] = struct{}{}

		t, err := s.getGrantingTicket(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTGTNotFound) || errors.Is(err, ErrTGTExpired) {
				return nil // 链上游已失效，环不可能闭合
			}
			return err
		}
		id = t.ProxiedBy
	}
	return nil
}

// ProxyChain 解析授权票据的代理链
// 返回代理链上各级服务 URL，根 TGT（非代理会话）返回空链
func (s *ticketService) ProxyChain(ctx context.Context, grantingID string) ([]string, error) {
	var chain []string
	visited := map[string]struct{}{}
	id := grantingID
	for id != "" {
		if _, ok := visited[id]; ok {
			break
		}
		visited[id] = struct{}{}

		t, err := s.getGrantingTicket(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTGTNotFound) || errors.Is(err, ErrTGTExpired) {
				break
			}
			return nil, err
		}
		if t.Kind == model.KindPGT {
			chain = append(chain, t.Service)
		}
		id = t.ProxiedBy
	}
	return chain, nil
}

// DestroyTicketGrantingTicket 销毁 TGT：触发单点登出并级联删除子票据
func (s *ticketService) DestroyTicketGrantingTicket(ctx context.Context, tgtID string) ([]*model.LogoutRequest, error) {
	tgt, err := s.getGrantingTicket(ctx, tgtID)
	if err != nil {
		if errors.Is(err, ErrTGTNotFound) || errors.Is(err, ErrTGTExpired) {
			// 会话已不存在，销毁幂等
			return nil, nil
		}
		return nil, err
	}

	requests, err := s.logoutManager.PerformLogout(ctx, tgt)
	if err != nil {
		return nil, err
	}

	// 子票据先于 TGT 删除，销毁过程中读不到孤儿子票据
	if _, err := s.registry.DeleteTicket(ctx, tgt.ID); err != nil {
		return requests, err
	}
	return requests, nil
}

// CountTicketsFor 统计 TGT 后代中绑定指定服务的存活票据数
func (s *ticketService) CountTicketsFor(ctx context.Context, tgtID, serviceURL string) (int, error) {
	tgt, err := s.getGrantingTicket(ctx, tgtID)
	if err != nil {
		return 0, err
	}
	return s.tracking.CountTicketsFor(ctx, s.registry, tgt, serviceURL)
}

// ListActiveSessions 枚举存活 SSO 会话
func (s *ticketService) ListActiveSessions(ctx context.Context) ([]*SSOSession, error) {
	tickets, err := s.registry.GetTickets(ctx, func(t *model.Ticket) bool {
		return t.Kind == model.KindTGT
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]*SSOSession, 0, len(tickets))
	for _, t := range tickets {
		session := &SSOSession{
			TicketID:        t.ID,
			Principal:       t.Principal,
			AuthenticatedAt: t.CreatedAt,
			UseCount:        t.UseCount,
			Proxied:         t.IsProxied(),
		}
		seen := map[string]struct{}{}
		for _, ref := range t.Services {
			if _, ok := seen[ref.URL]; !ok {
				seen[ref.URL] = struct{}{}
				session.Services = append(session.Services, ref.URL)
			}
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
