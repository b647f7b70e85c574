package service

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/registry"
	"github.com/pu-ac-cn/cas-server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServiceRepo 内存注册服务存储，测试用
type fakeServiceRepo struct {
	services []*model.RegisteredService
}

func (r *fakeServiceRepo) Create(ctx context.Context, svc *model.RegisteredService) error {
	r.services = append(r.services, svc)
	return nil
}

func (r *fakeServiceRepo) GetByID(ctx context.Context, id string) (*model.RegisteredService, error) {
	for _, svc := range r.services {
		if svc.ID == id {
			return svc, nil
		}
	}
	return nil, repository.ErrServiceNotFound
}

func (r *fakeServiceRepo) FindByService(ctx context.Context, serviceURL string) (*model.RegisteredService, error) {
	sorted := make([]*model.RegisteredService, len(r.services))
	copy(sorted, r.services)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EvaluationOrder < sorted[j].EvaluationOrder
	})
	for _, svc := range sorted {
		if svc.Matches(serviceURL) {
			return svc, nil
		}
	}
	return nil, repository.ErrServiceNotFound
}

func (r *fakeServiceRepo) Update(ctx context.Context, svc *model.RegisteredService) error {
	for i, existing := range r.services {
		if existing.ID == svc.ID {
			r.services[i] = svc
			return nil
		}
	}
	return repository.ErrServiceNotFound
}

func (r *fakeServiceRepo) Delete(ctx context.Context, id string) error {
	for i, svc := range r.services {
		if svc.ID == id {
			r.services = append(r.services[:i], r.services[i+1:]...)
			return nil
		}
	}
	return repository.ErrServiceNotFound
}

func (r *fakeServiceRepo) List(ctx context.Context, filter *repository.ServiceFilter, page *repository.Pagination) ([]*model.RegisteredService, int64, error) {
	return r.services, int64(len(r.services)), nil
}

// registerService 向测试存储注册一个服务
func registerService(repo *fakeServiceRepo, id, pattern string, mutate func(*model.RegisteredService)) *model.RegisteredService {
	svc := &model.RegisteredService{
		Name:      id,
		ServiceID: pattern,
		Status:    model.StatusActive,
	}
	svc.ID = id
	if mutate != nil {
		mutate(svc)
	}
	repo.services = append(repo.services, svc)
	return svc
}

// ticketTestEnv 票据服务测试环境
type ticketTestEnv struct {
	registry registry.TicketRegistry
	repo     *fakeServiceRepo
	services ServicesManager
	tickets  TicketService
}

func newTicketTestEnv(t *testing.T, config *TicketServiceConfig) *ticketTestEnv {
	t.Helper()
	repo := &fakeServiceRepo{}
	reg := registry.NewMemoryRegistry()
	services := NewServicesManager(repo)
	plan := NewLogoutExecutionPlan()
	plan.RegisterURLBuilder(NewDefaultLogoutURLBuilder())
	logout := NewLogoutManager(services, reg, plan, &LogoutManagerConfig{}, nil)
	return &ticketTestEnv{
		registry: reg,
		repo:     repo,
		services: services,
		tickets:  NewTicketService(reg, services, logout, config),
	}
}

func TestTicketService_CreateTicketGrantingTicket(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", map[string]string{"email": "alice@example.com"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tgt.ID, "TGT-"))
	assert.Equal(t, "alice", tgt.Principal)

	// 已持久化到注册表
	got, err := env.registry.GetTicket(ctx, tgt.ID, model.KindTGT)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Principal)
}

func TestTicketService_GrantServiceTicket(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, nil)
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)

	st, err := env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://app.example.com/cb", true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(st.ID, "ST-"))
	assert.Equal(t, "https://app.example.com/cb", st.Service)
	assert.Equal(t, tgt.ID, st.TGTID)
	assert.True(t, st.FromNewLogin)

	// TGT 的服务表与使用计数已持久化
	got, err := env.registry.GetTicket(ctx, tgt.ID, model.KindTGT)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)
	assert.Equal(t, "https://app.example.com/cb", got.Services[st.ID].URL)
}

func TestTicketService_GrantServiceTicket_UnregisteredService(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)

	_, err = env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://unknown.example.com/", true)
	assert.ErrorIs(t, err, ErrUnauthorizedService)
}

func TestTicketService_GrantServiceTicket_DisabledService(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, func(svc *model.RegisteredService) {
		svc.Status = model.StatusDisabled
	})
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)

	_, err = env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://app.example.com/cb", true)
	assert.ErrorIs(t, err, ErrUnauthorizedService)
}

func TestTicketService_GrantServiceTicket_TGTNotFound(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.tickets.GrantServiceTicket(ctx, "TGT-1-missing", "https://app.example.com/cb", true)
	assert.ErrorIs(t, err, ErrTGTNotFound)
}

func TestTicketService_GrantServiceTicket_ExpiredTGT(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, nil)
	ctx := context.Background()

	// 直接写入一个已过期的 TGT
	tgt := &model.Ticket{
		ID:        "TGT-1-expired",
		Kind:      model.KindTGT,
		CreatedAt: time.Now().Add(-2 * time.Hour),
		Principal: "alice",
		Policy:    model.NewTimeToLivePolicy(time.Hour),
	}
	require.NoError(t, env.registry.AddTicket(ctx, tgt))

	_, err := env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://app.example.com/cb", true)
	assert.ErrorIs(t, err, ErrTGTExpired)
}

func TestTicketService_ProxyFlow(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, func(svc *model.RegisteredService) {
		svc.AllowToProxy = true
	})
	registerService(env.repo, "backend", `^https://backend\.example\.com/.*`, func(svc *model.RegisteredService) {
		svc.AllowToProxy = true
	})
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)
	st, err := env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://app.example.com/cb", true)
	require.NoError(t, err)

	// 在 ST 上签发 PGT
	pgt, err := env.tickets.GrantProxyGrantingTicket(ctx, st, "https://app.example.com/proxy-callback")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pgt.ID, "PGT-"))
	assert.Equal(t, "alice", pgt.Principal)
	assert.Equal(t, tgt.ID, pgt.ProxiedBy)

	// 在 PGT 下签发 PT
	pt, err := env.tickets.GrantProxyTicket(ctx, pgt.ID, "https://backend.example.com/api")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pt.ID, "PT-"))
	assert.Equal(t, pgt.ID, pt.TGTID)
	assert.False(t, pt.FromNewLogin)

	// 代理链从请求方向外列出回调地址
	chain, err := env.tickets.ProxyChain(ctx, pgt.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com/proxy-callback"}, chain)

	// 根 TGT 无代理链
	chain, err = env.tickets.ProxyChain(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestTicketService_GrantProxyTicket_ProxyingDisallowed(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, func(svc *model.RegisteredService) {
		svc.AllowToProxy = true
	})
	registerService(env.repo, "backend", `^https://backend\.example\.com/.*`, nil)
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)
	st, err := env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://app.example.com/cb", true)
	require.NoError(t, err)
	pgt, err := env.tickets.GrantProxyGrantingTicket(ctx, st, "https://app.example.com/proxy-callback")
	require.NoError(t, err)

	// backend 未开启代理授权
	_, err = env.tickets.GrantProxyTicket(ctx, pgt.ID, "https://backend.example.com/api")
	assert.ErrorIs(t, err, ErrUnauthorizedProxying)
}

func TestTicketService_ProxyChainHopLimit(t *testing.T) {
	env := newTicketTestEnv(t, &TicketServiceConfig{MaxProxyChainHops: 1})
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, func(svc *model.RegisteredService) {
		svc.AllowToProxy = true
	})
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)
	st, err := env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://app.example.com/cb", true)
	require.NoError(t, err)

	// 第一级代理在上限内
	pgt, err := env.tickets.GrantProxyGrantingTicket(ctx, st, "https://app.example.com/proxy-1")
	require.NoError(t, err)
	pt, err := env.tickets.GrantProxyTicket(ctx, pgt.ID, "https://app.example.com/api")
	require.NoError(t, err)

	// 第二级代理超出跳数上限
	_, err = env.tickets.GrantProxyGrantingTicket(ctx, pt, "https://app.example.com/proxy-2")
	assert.ErrorIs(t, err, ErrUnauthorizedProxying)
}

func TestTicketService_CountTicketsFor(t *testing.T) {
	env := newTicketTestEnv(t, &TicketServiceConfig{TrackDescendants: true})
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, nil)
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://app.example.com/cb", false)
		require.NoError(t, err)
	}

	count, err := env.tickets.CountTicketsFor(ctx, tgt.ID, "https://app.example.com/cb")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// 其他服务不计入
	count, err = env.tickets.CountTicketsFor(ctx, tgt.ID, "https://other.example.com/")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTicketService_DestroyTicketGrantingTicket(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, func(svc *model.RegisteredService) {
		svc.LogoutType = model.LogoutTypeFrontChannel
	})
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)
	st, err := env.tickets.GrantServiceTicket(ctx, tgt.ID, "https://app.example.com/cb", true)
	require.NoError(t, err)

	requests, err := env.tickets.DestroyTicketGrantingTicket(ctx, tgt.ID)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, st.ID, requests[0].TicketID)
	assert.Equal(t, model.LogoutTypeFrontChannel, requests[0].LogoutType)

	// TGT 与子票据都已删除
	_, err = env.registry.GetTicket(ctx, tgt.ID, model.KindTGT)
	assert.ErrorIs(t, err, registry.ErrTicketNotFound)
	_, err = env.registry.GetTicket(ctx, st.ID, model.KindST)
	assert.ErrorIs(t, err, registry.ErrTicketNotFound)
}

func TestTicketService_Destroy_Idempotent(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	ctx := context.Background()

	tgt, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)

	_, err = env.tickets.DestroyTicketGrantingTicket(ctx, tgt.ID)
	require.NoError(t, err)

	// 再次销毁不报错也不产生登出请求
	requests, err := env.tickets.DestroyTicketGrantingTicket(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestTicketService_ListActiveSessions(t *testing.T) {
	env := newTicketTestEnv(t, nil)
	registerService(env.repo, "app", `^https://app\.example\.com/.*`, nil)
	ctx := context.Background()

	tgt1, err := env.tickets.CreateTicketGrantingTicket(ctx, "alice", nil)
	require.NoError(t, err)
	_, err = env.tickets.GrantServiceTicket(ctx, tgt1.ID, "https://app.example.com/cb", true)
	require.NoError(t, err)
	_, err = env.tickets.CreateTicketGrantingTicket(ctx, "bob", nil)
	require.NoError(t, err)

	sessions, err := env.tickets.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	byPrincipal := map[string]*SSOSession{}
	for _, s := range sessions {
		byPrincipal[s.Principal] = s
	}
	require.Contains(t, byPrincipal, "alice")
	require.Contains(t, byPrincipal, "bob")
	assert.Equal(t, []string{"https://app.example.com/cb"}, byPrincipal["alice"].Services)
	assert.Equal(t, 1, byPrincipal["alice"].UseCount)
	assert.Empty(t, byPrincipal["bob"].Services)
}
