// Package model 数据模型定义
package model

import (
	"strings"
	"time"
)

// TicketKind 票据类型
type TicketKind string

const (
	KindTGT TicketKind = "TGT" // Ticket Granting Ticket，SSO 会话凭证
	KindST  TicketKind = "ST"  // Service Ticket，一次性服务票据
	KindPGT TicketKind = "PGT" // Proxy Granting Ticket，代理授权票据
	KindPT  TicketKind = "PT"  // Proxy Ticket，代理票据
)

// KindFromID 从票据 ID 前缀解析票据类型
func KindFromID(id string) (TicketKind, bool) {
	// PGT 前缀须先于 PT 判断
	for _, k := range []TicketKind{KindTGT, KindPGT, KindPT, KindST} {
		if strings.HasPrefix(id, string(k)+"-") {
			return k, true
		}
	}
	return "", false
}

// IsGranting 是否为授权类票据（TGT/PGT，可签发子票据）
func (k TicketKind) IsGranting() bool {
	return k == KindTGT || k == KindPGT
}

// IsServiceTicket 是否为服务类票据（ST/PT，单次使用）
func (k TicketKind) IsServiceTicket() bool {
	return k == KindST || k == KindPT
}

// Ticket 票据
// 以 Kind 区分变体，公共字段 + 各变体专用字段平铺存储，
// 便于序列化到外部存储，票据间关系一律通过 ID + 注册表查询解析，不持有对象引用。
type Ticket struct {
	ID         string           `json:"id"`
	Kind       TicketKind       `json:"kind"`
	CreatedAt  time.Time        `json:"created_at"`
	LastUsedAt time.Time        `json:"last_used_at"`
	UseCount   int              `json:"use_count"`
	Policy     ExpirationPolicy `json:"policy"`

	// TGT/PGT 专用字段
	Principal   string                `json:"principal,omitempty"`
	Attributes  map[string]string     `json:"attributes,omitempty"`
	Services    map[string]ServiceRef `json:"services,omitempty"`    // 子票据 ID -> 服务引用
	Descendants []string              `json:"descendants,omitempty"` // 所有后代票据 ID（可选开启）
	ProxiedBy   string                `json:"proxied_by,omitempty"`  // 代理此会话的上游 TGT ID（仅反向引用）

	// ST/PT 专用字段
	Service      string `json:"service,omitempty"` // 绑定的服务 URL
	TGTID        string `json:"tgt_id,omitempty"`  // 所属 TGT ID
	FromNewLogin bool   `json:"from_new_login,omitempty"`
	Consumed     bool   `json:"consumed,omitempty"`
}

// IsExpired 检查票据在指定时刻是否过期
func (t *Ticket) IsExpired(now time.Time) bool {
	return t.Policy.IsExpired(t, now)
}

// Touch 记录一次使用
func (t *Ticket) Touch(now time.Time) {
	t.LastUsedAt = now
	t.UseCount++
}

// ServiceRef 会话内授权过的服务引用
// LoggedOut 在单点登出通知产生后置位，防止重复触发时再次通知
type ServiceRef struct {
	URL       string `json:"url"`
	LoggedOut bool   `json:"logged_out,omitempty"`
}

// AddService 登记子服务票据（以子票据自身 ID 为键）
func (t *Ticket) AddService(childID, service string) {
	if t.Services == nil {
		t.Services = make(map[string]ServiceRef)
	}
	t.Services[childID] = ServiceRef{URL: service}
}

// AddDescendant 登记后代票据 ID
func (t *Ticket) AddDescendant(childID string) {
	t.Descendants = append(t.Descendants, childID)
}

// IsProxied 是否为被代理的会话（PGT 链上的节点）
func (t *Ticket) IsProxied() bool {
	return t.ProxiedBy != ""
}
