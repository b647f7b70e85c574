// Package service 业务逻辑层
package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync/atomic"

	"github.com/pu-ac-cn/cas-server/internal/model"
)

// ticketSequence 进程内票据序号
var ticketSequence uint64

// newTicketID 生成票据 ID：<类型前缀>-<序号>-<随机后缀>
// 前缀用于区分票据类型做路由，随机后缀保证不可猜测
func newTicketID(kind model.TicketKind) string {
	seq := atomic.AddUint64(&ticketSequence, 1)
	return fmt.Sprintf("%s-%d-%s", kind, seq, generateSecureCode(24))
}

// newProxyGrantingTicketIOU 生成 PGT IOU
func newProxyGrantingTicketIOU() string {
	seq := atomic.AddUint64(&ticketSequence, 1)
	return fmt.Sprintf("PGTIOU-%d-%s", seq, generateSecureCode(24))
}

// generateSecureCode 生成安全随机码
func generateSecureCode(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)[:length]
}
