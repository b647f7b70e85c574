package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/redis/go-redis/v9"
)

// Redis key 前缀
const ticketKeyPrefix = "cas:ticket:"

// redisRegistry Redis 票据注册表
// 生产部署使用，可被多个服务进程共享。票据以 JSON 存储，
// 存储层 TTL 取过期策略的剩余存活时间；ConsumeTicket 依赖
// GETDEL 在存储边界实现单次消费。
type redisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry 创建 Redis 票据注册表
func NewRedisRegistry(client *redis.Client) TicketRegistry {
	return &redisRegistry{client: client}
}

// AddTicket 存储新票据
func (r *redisRegistry) AddTicket(ctx context.Context, t *model.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("序列化票据失败: %w", err)
	}

	ttl := t.Policy.TTL(t, time.Now())
	if ttl < 0 {
		return ErrTicketExpired
	}

	ok, err := r.client.SetNX(ctx, ticketKeyPrefix+t.ID, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("存储票据失败: %w", err)
	}
	if !ok {
		return ErrTicketAlreadyExists
	}
	return nil
}

// GetTicket 获取未过期的指定类型票据
func (r *redisRegistry) GetTicket(ctx context.Context, id string, kind model.TicketKind) (*model.Ticket, error) {
	data, err := r.client.Get(ctx, ticketKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("获取票据失败: %w", err)
	}

	var t model.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("反序列化票据失败: %w", err)
	}

	if t.Kind != kind {
		return nil, ErrTicketNotFound
	}
	if t.IsExpired(time.Now()) {
		// 读到即清理，过期票据视同不存在
		r.client.Del(ctx, ticketKeyPrefix+id)
		return nil, ErrTicketExpired
	}
	return &t, nil
}

// UpdateTicket 持久化票据变更，重新计算存储层 TTL
func (r *redisRegistry) UpdateTicket(ctx context.Context, t *model.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("序列化票据失败: %w", err)
	}

	ttl := t.Policy.TTL(t, time.Now())
	if ttl < 0 {
		// 已过期，直接清理
		if err := r.client.Del(ctx, ticketKeyPrefix+t.ID).Err(); err != nil {
			return fmt.Errorf("清理过期票据失败: %w", err)
		}
		return nil
	}

	if err := r.client.Set(ctx, ticketKeyPrefix+t.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("更新票据失败: %w", err)
	}
	return nil
}

// DeleteTicket 幂等删除票据并级联删除子票据
func (r *redisRegistry) DeleteTicket(ctx context.Context, id string) (int, error) {
	return r.deleteRecursive(ctx, id, make(map[string]struct{}))
}

// deleteRecursive 递归删除，visited 防止代理环导致的无限递归
func (r *redisRegistry) deleteRecursive(ctx context.Context, id string, visited map[string]struct{}) (int, error) {
	if _, ok := visited[id]; ok {
		return 0, nil
	}
	visited[id] = struct{}{}

	data, err := r.client.Get(ctx, ticketKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("获取票据失败: %w", err)
	}

	var t model.Ticket
	count := 0
	if err := json.Unmarshal(data, &t); err == nil {
		for _, child := range childIDs(&t) {
			n, err := r.deleteRecursive(ctx, child, visited)
			if err != nil {
				return count, err
			}
			count += n
		}
	}

	n, err := r.client.Del(ctx, ticketKeyPrefix+id).Result()
	if err != nil {
		return count, fmt.Errorf("删除票据失败: %w", err)
	}
	return count + int(n), nil
}

// ConsumeTicket 原子取出并删除服务票据
func (r *redisRegistry) ConsumeTicket(ctx context.Context, id string) (*model.Ticket, error) {
	if !serviceTicketID(id) {
		return nil, ErrTicketNotFound
	}

	// GETDEL 保证并发验证同一票据时恰有一个调用方拿到值
	data, err := r.client.GetDel(ctx, ticketKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("消费票据失败: %w", err)
	}

	var t model.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("反序列化票据失败: %w", err)
	}
	if t.IsExpired(time.Now()) {
		return nil, ErrTicketExpired
	}
	return &t, nil
}

// GetTickets 按条件枚举未过期票据
func (r *redisRegistry) GetTickets(ctx context.Context, filter func(*model.Ticket) bool) ([]*model.Ticket, error) {
	var result []*model.Ticket
	now := time.Now()

	iter := r.client.Scan(ctx, 0, ticketKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // 扫描与读取之间过期被清理
			}
			return nil, fmt.Errorf("获取票据失败: %w", err)
		}

		var t model.Ticket
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		if t.IsExpired(now) {
			continue
		}
		if filter == nil || filter(&t) {
			result = append(result, &t)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("枚举票据失败: %w", err)
	}
	return result, nil
}
