package registry

import (
	"context"
	"sync"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/model"
)

// memoryRegistry 内存票据注册表
// 单进程部署与测试使用；所有操作由互斥锁串行化，
// ConsumeTicket 的取出加删除因此天然原子。
type memoryRegistry struct {
	mu      sync.RWMutex
	tickets map[string]*model.Ticket
}

// NewMemoryRegistry 创建内存票据注册表
func NewMemoryRegistry() TicketRegistry {
	return &memoryRegistry{
		tickets: make(map[string]*model.Ticket),
	}
}

// AddTicket 存储新票据
func (r *memoryRegistry) AddTicket(ctx context.Context, t *model.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tickets[t.ID]; exists {
		return ErrTicketAlreadyExists
	}
	r.tickets[t.ID] = t
	return nil
}

// GetTicket 获取未过期的指定类型票据
func (r *memoryRegistry) GetTicket(ctx context.Context, id string, kind model.TicketKind) (*model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tickets[id]
	if !exists || t.Kind != kind {
		return nil, ErrTicketNotFound
	}
	if t.IsExpired(time.Now()) {
		delete(r.tickets, id)
		return nil, ErrTicketExpired
	}
	return t, nil
}

// UpdateTicket 持久化票据变更
func (r *memoryRegistry) UpdateTicket(ctx context.Context, t *model.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tickets[t.ID] = t
	return nil
}

// DeleteTicket 幂等删除票据并级联删除子票据
func (r *memoryRegistry) DeleteTicket(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteLocked(id, make(map[string]struct{})), nil
}

// deleteLocked 持锁递归删除，visited 防止代理环导致的无限递归
func (r *memoryRegistry) deleteLocked(id string, visited map[string]struct{}) int {
	if _, ok := visited[id]; ok {
		return 0
	}
	visited[id] = struct{}{}

	t, exists := r.tickets[id]
	if !exists {
		return 0
	}

	count := 0
	for _, child := range childIDs(t) {
		count += r.deleteLocked(child, visited)
	}
	delete(r.tickets, id)
	return count + 1
}

// ConsumeTicket 原子取出并删除服务票据
func (r *memoryRegistry) ConsumeTicket(ctx context.Context, id string) (*model.Ticket, error) {
	if !serviceTicketID(id) {
		return nil, ErrTicketNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tickets[id]
	if !exists {
		return nil, ErrTicketNotFound
	}
	delete(r.tickets, id)

	if t.IsExpired(time.Now()) {
		return nil, ErrTicketExpired
	}
	return t, nil
}

// GetTickets 按条件枚举未过期票据
func (r *memoryRegistry) GetTickets(ctx context.Context, filter func(*model.Ticket) bool) ([]*model.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var result []*model.Ticket
	for _, t := range r.tickets {
		if t.IsExpired(now) {
			continue
		}
		if filter == nil || filter(t) {
			result = append(result, t)
		}
	}
	return result, nil
}
