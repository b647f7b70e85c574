package service

import (
	"context"
	"errors"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/registry"
)

// TicketTrackingPolicy 票据跟踪策略
// 服务票据跟踪始终开启：每张子票据以自身 ID 登记到所属 TGT 的服务表。
// 后代跟踪按配置开启：额外把所有（含传递签发的）子票据 ID 记入后代列表，
// 供快速全量失效与会话报表使用。
type TicketTrackingPolicy struct {
	TrackDescendants bool
}

// Track 将子票据登记到所属授权票据
// 自引用（root 票据跟踪自己）定义为无操作，返回 false
func (p *TicketTrackingPolicy) Track(tgt, child *model.Ticket) bool {
	if tgt == nil || child == nil || tgt.ID == child.ID {
		return false
	}
	if child.Kind.IsServiceTicket() {
		tgt.AddService(child.ID, child.Service)
	}
	if p.TrackDescendants {
		tgt.AddDescendant(child.ID)
	}
	return true
}

// ExtractTicket 将跟踪记录的票据 ID 解析回存活票据
// 票据已过期或被删除时返回 nil
func (p *TicketTrackingPolicy) ExtractTicket(ctx context.Context, reg registry.TicketRegistry, id string) (*model.Ticket, error) {
	kind, ok := model.KindFromID(id)
	if !ok {
		return nil, nil
	}
	t, err := reg.GetTicket(ctx, id, kind)
	if err != nil {
		if errors.Is(err, registry.ErrTicketNotFound) || errors.Is(err, registry.ErrTicketExpired) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// CountTicketsFor 统计 TGT 后代中绑定指定服务的存活票据数
func (p *TicketTrackingPolicy) CountTicketsFor(ctx context.Context, reg registry.TicketRegistry, tgt *model.Ticket, serviceURL string) (int, error) {
	count := 0
	for _, id := range tgt.Descendants {
		t, err := p.ExtractTicket(ctx, reg, id)
		if err != nil {
			return count, err
		}
		if t != nil && t.Service == serviceURL {
			count++
		}
	}
	return count, nil
}
