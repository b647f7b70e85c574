package service

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"go.uber.org/zap"
)

// logoutRequestParam 后端通道登出消息的表单参数名
const logoutRequestParam = "logoutRequest"

// samlLogoutRequest SAML 格式的登出消息
// SessionIndex 的文本内容为被注销的服务票据 ID
type samlLogoutRequest struct {
	XMLName      xml.Name `xml:"samlp:LogoutRequest"`
	XMLNSSamlp   string   `xml:"xmlns:samlp,attr"`
	ID           string   `xml:"ID,attr"`
	Version      string   `xml:"Version,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	NameID       nameID   `xml:"saml:NameID"`
	SessionIndex string   `xml:"samlp:SessionIndex"`
}

type nameID struct {
	XMLNSSaml string `xml:"xmlns:saml,attr"`
	Value     string `xml:",chardata"`
}

// CreateLogoutMessage 构造后端通道登出消息
func CreateLogoutMessage(ticketID, principal string) (string, error) {
	if principal == "" {
		principal = "@NOT_USED@"
	}
	msg := samlLogoutRequest{
		XMLNSSamlp:   "urn:oasis:names:tc:SAML:2.0:protocol",
		ID:           "LR-" + generateSecureCode(16),
		Version:      "2.0",
		IssueInstant: time.Now().UTC().Format(time.RFC3339),
		NameID: nameID{
			XMLNSSaml: "urn:oasis:names:tc:SAML:2.0:assertion",
			Value:     principal,
		},
		SessionIndex: ticketID,
	}
	data, err := xml.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("构造登出消息失败: %w", err)
	}
	return string(data), nil
}

// SingleLogoutMessageHandler 单服务登出消息处理器接口
// 注册为有序列表，派发时取第一个 Supports 的处理器
type SingleLogoutMessageHandler interface {
	// Supports 检查是否能处理该登出请求
	Supports(svc *model.RegisteredService, req *model.LogoutRequest) bool
	// Handle 构造并送达登出消息，结果写入 req.Status
	Handle(ctx context.Context, req *model.LogoutRequest, principal string) error
}

// backChannelLogoutHandler 后端通道登出处理器
// 同步 POST 登出消息到解析出的登出地址；传输失败只记录在
// 对应请求的状态里，绝不影响其他服务的通知
type backChannelLogoutHandler struct {
	client *http.Client
	logger *zap.Logger
}

// NewBackChannelLogoutHandler 创建后端通道登出处理器
func NewBackChannelLogoutHandler(client *http.Client, logger *zap.Logger) SingleLogoutMessageHandler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backChannelLogoutHandler{client: client, logger: logger}
}

// Supports 处理后端通道类型的登出请求
func (h *backChannelLogoutHandler) Supports(svc *model.RegisteredService, req *model.LogoutRequest) bool {
	return req.LogoutType == model.LogoutTypeBackChannel
}

// Handle 构造并 POST 登出消息
func (h *backChannelLogoutHandler) Handle(ctx context.Context, req *model.LogoutRequest, principal string) error {
	dest, err := url.Parse(req.LogoutURL)
	if err != nil || (dest.Scheme != "http" && dest.Scheme != "https") {
		req.Status = model.LogoutStatusFailure
		return fmt.Errorf("登出地址无效: %s", req.LogoutURL)
	}

	message, err := CreateLogoutMessage(req.TicketID, principal)
	if err != nil {
		req.Status = model.LogoutStatusFailure
		return err
	}

	form := url.Values{}
	form.Set(logoutRequestParam, message)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.LogoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		req.Status = model.LogoutStatusFailure
		return fmt.Errorf("构造登出请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		req.Status = model.LogoutStatusFailure
		return fmt.Errorf("发送登出消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		req.Status = model.LogoutStatusFailure
		return fmt.Errorf("登出消息被拒绝: %s 返回 %d", req.LogoutURL, resp.StatusCode)
	}

	req.Status = model.LogoutStatusSuccess
	h.logger.Debug("单点登出通知成功",
		zap.String("service", req.Service),
		zap.String("ticket_id", req.TicketID),
	)
	return nil
}

// frontChannelLogoutHandler 前端通道登出处理器
// 消息由浏览器重定向送达，此处不做任何派发，状态保持 NOT_ATTEMPTED
type frontChannelLogoutHandler struct{}

// NewFrontChannelLogoutHandler 创建前端通道登出处理器
func NewFrontChannelLogoutHandler() SingleLogoutMessageHandler {
	return &frontChannelLogoutHandler{}
}

// Supports 处理前端通道类型的登出请求
func (h *frontChannelLogoutHandler) Supports(svc *model.RegisteredService, req *model.LogoutRequest) bool {
	return req.LogoutType == model.LogoutTypeFrontChannel
}

// Handle 前端通道请求原样交回调用方
func (h *frontChannelLogoutHandler) Handle(ctx context.Context, req *model.LogoutRequest, principal string) error {
	return nil
}
