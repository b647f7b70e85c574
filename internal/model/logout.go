package model

// 登出请求状态常量
const (
	LogoutStatusNotAttempted = "NOT_ATTEMPTED" // 未发送（前端通道或尚未派发）
	LogoutStatusSuccess      = "SUCCESS"       // 通知成功
	LogoutStatusFailure      = "FAILURE"       // 通知失败
)

// LogoutRequest 单点登出请求
// 每个被通知的服务各生成一条，仅存在于一次登出调用内，不做持久化。
// 前端通道的请求原样返回给调用方，由浏览器逐个重定向送达。
type LogoutRequest struct {
	TicketID   string `json:"ticket_id"`  // 被注销的服务票据 ID
	Service    string `json:"service"`    // 服务 URL
	LogoutURL  string `json:"logout_url"` // 解析出的登出地址
	LogoutType string `json:"logout_type"`
	Status     string `json:"status"`
}
