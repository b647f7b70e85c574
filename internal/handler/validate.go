package handler

import (
	"encoding/xml"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/service"
	"go.uber.org/zap"
)

// casNamespace CAS 协议 XML 命名空间
const casNamespace = "http://www.yale.edu/tp/cas"

// serviceResponse CAS 2.0 验证响应
type serviceResponse struct {
	XMLName  xml.Name               `xml:"cas:serviceResponse"`
	XMLNSCas string                 `xml:"xmlns:cas,attr"`
	Success  *authenticationSuccess `xml:"cas:authenticationSuccess,omitempty"`
	Failure  *authenticationFailure `xml:"cas:authenticationFailure,omitempty"`
}

type authenticationSuccess struct {
	User                string          `xml:"cas:user"`
	Attributes          *attributesNode `xml:"cas:attributes,omitempty"`
	ProxyGrantingTicket string          `xml:"cas:proxyGrantingTicket,omitempty"`
	Proxies             *proxiesNode    `xml:"cas:proxies,omitempty"`
}

type authenticationFailure struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type proxiesNode struct {
	Proxies []string `xml:"cas:proxy"`
}

// attributesNode 断言属性，每个属性键作为元素名输出
type attributesNode struct {
	attrs map[string]string
}

func (n *attributesNode) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	// 按键排序保证输出稳定
	keys := make([]string, 0, len(n.attrs))
	for k := range n.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		el := xml.StartElement{Name: xml.Name{Local: "cas:" + k}}
		if err := e.EncodeElement(n.attrs[k], el); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// proxyResponse CAS 2.0 代理票据响应
type proxyResponse struct {
	XMLName  xml.Name      `xml:"cas:serviceResponse"`
	XMLNSCas string        `xml:"xmlns:cas,attr"`
	Success  *proxySuccess `xml:"cas:proxySuccess,omitempty"`
	Failure  *proxyFailure `xml:"cas:proxyFailure,omitempty"`
}

type proxySuccess struct {
	ProxyTicket string `xml:"cas:proxyTicket"`
}

type proxyFailure struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

// ValidateHandler CAS 协议验证处理器
type ValidateHandler struct {
	validation service.ValidationService
	tickets    service.TicketService
	logger     *zap.Logger
}

// NewValidateHandler 创建验证处理器
func NewValidateHandler(validation service.ValidationService, tickets service.TicketService, logger *zap.Logger) *ValidateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidateHandler{validation: validation, tickets: tickets, logger: logger}
}

// ServiceValidate 验证服务票据
// GET /cas/serviceValidate
func (h *ValidateHandler) ServiceValidate(c *gin.Context) {
	h.validate(c, false)
}

// ProxyValidate 验证服务票据或代理票据
// GET /cas/proxyValidate
func (h *ValidateHandler) ProxyValidate(c *gin.Context) {
	h.validate(c, true)
}

func (h *ValidateHandler) validate(c *gin.Context, allowProxy bool) {
	req := &service.ValidationRequest{
		TicketID:       c.Query("ticket"),
		Service:        c.Query("service"),
		PGTCallbackURL: c.Query("pgtUrl"),
		Renew:          c.Query("renew") == "true",
		AllowProxy:     allowProxy,
	}

	result, err := h.validation.Validate(c.Request.Context(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			h.writeValidationFailure(c, verr)
			return
		}
		h.logger.Error("票据验证出错", zap.String("ticket", req.TicketID), zap.Error(err))
		h.writeValidationFailure(c, &service.ValidationError{
			Code:        "INTERNAL_ERROR",
			Description: "服务器内部错误",
		})
		return
	}

	success := &authenticationSuccess{
		User:                result.Assertion.Principal,
		ProxyGrantingTicket: result.PGTIOU,
	}
	if len(result.Assertion.Attributes) > 0 {
		success.Attributes = &attributesNode{attrs: result.Assertion.Attributes}
	}
	if len(result.Assertion.ProxyChain) > 0 {
		success.Proxies = &proxiesNode{Proxies: result.Assertion.ProxyChain}
	}

	h.writeXML(c, http.StatusOK, &serviceResponse{
		XMLNSCas: casNamespace,
		Success:  success,
	})
}

func (h *ValidateHandler) writeValidationFailure(c *gin.Context, verr *service.ValidationError) {
	h.writeXML(c, http.StatusOK, &serviceResponse{
		XMLNSCas: casNamespace,
		Failure: &authenticationFailure{
			Code:    verr.Code,
			Message: verr.Description,
		},
	})
}

// Proxy 在 PGT 下签发代理票据
// GET /cas/proxy
func (h *ValidateHandler) Proxy(c *gin.Context) {
	pgtID := c.Query("pgt")
	targetService := c.Query("targetService")
	if pgtID == "" || targetService == "" {
		h.writeProxyFailure(c, service.CodeInvalidRequest, "pgt 和 targetService 为必填参数")
		return
	}

	pt, err := h.tickets.GrantProxyTicket(c.Request.Context(), pgtID, targetService)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTGTNotFound), errors.Is(err, service.ErrTGTExpired):
			h.writeProxyFailure(c, service.CodeInvalidTicket, "PGT 不存在或已失效")
		case errors.Is(err, service.ErrUnauthorizedService):
			h.writeProxyFailure(c, service.CodeUnauthorizedService, "目标服务未授权")
		case errors.Is(err, service.ErrUnauthorizedProxying):
			h.writeProxyFailure(c, service.CodeUnauthorizedServiceProxy, "目标服务不允许代理认证")
		default:
			h.logger.Error("签发代理票据出错", zap.String("pgt", pgtID), zap.Error(err))
			h.writeProxyFailure(c, "INTERNAL_ERROR", "服务器内部错误")
		}
		return
	}

	h.writeXML(c, http.StatusOK, &proxyResponse{
		XMLNSCas: casNamespace,
		Success:  &proxySuccess{ProxyTicket: pt.ID},
	})
}

func (h *ValidateHandler) writeProxyFailure(c *gin.Context, code, message string) {
	h.writeXML(c, http.StatusOK, &proxyResponse{
		XMLNSCas: casNamespace,
		Failure:  &proxyFailure{Code: code, Message: message},
	})
}

func (h *ValidateHandler) writeXML(c *gin.Context, status int, body interface{}) {
	data, err := xml.MarshalIndent(body, "", "    ")
	if err != nil {
		h.logger.Error("序列化验证响应失败", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/xml; charset=utf-8", data)
}
