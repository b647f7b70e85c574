// Package registry 票据注册表，票据的存储抽象
package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/pu-ac-cn/cas-server/internal/model"
)

var (
	ErrTicketNotFound         = errors.New("票据不存在")
	ErrTicketExpired          = errors.New("票据已过期")
	ErrTicketAlreadyExists    = errors.New("票据 ID 已存在")
	ErrEnumerationUnsupported = errors.New("该注册表不支持枚举")
)

// TicketRegistry 票据注册表接口
// 所有实现必须支持多个进程并发访问；过期票据在读取时视同不存在，
// 实现可以懒惰清理。删除 TGT/PGT 时级联删除其全部子票据。
type TicketRegistry interface {
	// AddTicket 存储新票据，ID 冲突返回 ErrTicketAlreadyExists
	AddTicket(ctx context.Context, t *model.Ticket) error
	// GetTicket 获取未过期的指定类型票据
	// 类型不匹配视同不存在；已过期返回 ErrTicketExpired 并顺手清理
	GetTicket(ctx context.Context, id string, kind model.TicketKind) (*model.Ticket, error)
	// UpdateTicket 持久化票据的变更状态
	UpdateTicket(ctx context.Context, t *model.Ticket) error
	// DeleteTicket 幂等删除票据，返回删除数量（含级联删除的子票据）
	DeleteTicket(ctx context.Context, id string) (int, error)
	// ConsumeTicket 原子地取出并删除一张服务票据（ST/PT）
	// 对同一 ID 的并发调用恰有一个成功；非服务票据 ID 视同不存在
	ConsumeTicket(ctx context.Context, id string) (*model.Ticket, error)
	// GetTickets 按条件枚举全部未过期票据
	// 不支持枚举的实现返回 ErrEnumerationUnsupported
	GetTickets(ctx context.Context, filter func(*model.Ticket) bool) ([]*model.Ticket, error)
}

// serviceTicketID 检查票据 ID 是否为服务票据（按前缀路由）
func serviceTicketID(id string) bool {
	return strings.HasPrefix(id, string(model.KindST)+"-") ||
		strings.HasPrefix(id, string(model.KindPT)+"-")
}

// childIDs 收集需要级联删除的子票据 ID
func childIDs(t *model.Ticket) []string {
	if !t.Kind.IsGranting() {
		return nil
	}
	seen := make(map[string]struct{})
	var ids []string
	for id := range t.Services {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, id := range t.Descendants {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
