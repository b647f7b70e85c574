package model

import (
	"time"
)

// ExpirationPolicy 过期策略
// 纯数据结构，随票据一起序列化到外部存储。
// 零值字段表示对应维度不限制：MaxTimeToLive 为最长存活时间，
// TimeToIdle 为空闲超时，MaxUses 为最大使用次数。
type ExpirationPolicy struct {
	MaxTimeToLive time.Duration `json:"max_time_to_live,omitempty"`
	TimeToIdle    time.Duration `json:"time_to_idle,omitempty"`
	MaxUses       int           `json:"max_uses,omitempty"`
}

// IsExpired 判断票据在指定时刻是否过期
func (p ExpirationPolicy) IsExpired(t *Ticket, now time.Time) bool {
	if p.MaxTimeToLive > 0 && now.After(t.CreatedAt.Add(p.MaxTimeToLive)) {
		return true
	}
	if p.TimeToIdle > 0 {
		last := t.LastUsedAt
		if last.IsZero() {
			last = t.CreatedAt
		}
		if now.After(last.Add(p.TimeToIdle)) {
			return true
		}
	}
	if p.MaxUses > 0 && t.UseCount >= p.MaxUses {
		return true
	}
	return false
}

// TTL 票据在指定时刻的剩余最长存活时间
// 仅由时间维度决定，用于设置存储层的过期时间；无时间限制时返回 0。
func (p ExpirationPolicy) TTL(t *Ticket, now time.Time) time.Duration {
	var deadline time.Time
	if p.MaxTimeToLive > 0 {
		deadline = t.CreatedAt.Add(p.MaxTimeToLive)
	}
	if p.TimeToIdle > 0 {
		last := t.LastUsedAt
		if last.IsZero() {
			last = t.CreatedAt
		}
		idle := last.Add(p.TimeToIdle)
		if deadline.IsZero() || idle.Before(deadline) {
			deadline = idle
		}
	}
	if deadline.IsZero() {
		return 0
	}
	return deadline.Sub(now)
}

// NewTimeToLivePolicy 按最长存活时间过期
func NewTimeToLivePolicy(ttl time.Duration) ExpirationPolicy {
	return ExpirationPolicy{MaxTimeToLive: ttl}
}

// NewIdlePolicy 按最长存活时间与空闲超时联合过期（TGT 常用）
func NewIdlePolicy(ttl, idle time.Duration) ExpirationPolicy {
	return ExpirationPolicy{MaxTimeToLive: ttl, TimeToIdle: idle}
}

// NewSingleUsePolicy 单次使用且限时过期（ST/PT 常用）
func NewSingleUsePolicy(ttl time.Duration) ExpirationPolicy {
	return ExpirationPolicy{MaxTimeToLive: ttl, MaxUses: 1}
}
