package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/registry"
	"go.uber.org/zap"
)

// CAS 协议验证失败码
const (
	CodeInvalidRequest           = "INVALID_REQUEST"            // 缺少必填参数
	CodeInvalidTicket            = "INVALID_TICKET"             // 票据不存在、已过期或已被消费
	CodeInvalidService           = "INVALID_SERVICE"            // 提交的服务与票据绑定的服务不一致
	CodeUnauthorizedService      = "UNAUTHORIZED_SERVICE"       // 服务未注册或被禁用
	CodeUnauthorizedServiceProxy = "UNAUTHORIZED_SERVICE_PROXY" // 服务不允许代理认证
	CodeInvalidProxyCallback     = "INVALID_PROXY_CALLBACK"     // 代理回调地址不合法或未确认
)

// ValidationError 验证失败，携带协议错误码
type ValidationError struct {
	Code        string
	Description string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newValidationError(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Description: fmt.Sprintf(format, args...)}
}

// ValidationRequest 一次票据验证请求
type ValidationRequest struct {
	TicketID       string // 待验证票据
	Service        string // 请求方服务 URL
	PGTCallbackURL string // pgtUrl 参数，非空表示请求代理授权
	Renew          bool   // 要求票据来自全新登录
	AllowProxy     bool   // 是否接受 PT（proxyValidate 端点为 true）
}

// ValidationResult 验证成功的结果
type ValidationResult struct {
	Assertion *model.Assertion
	PGTIOU    string // 已签发 PGT 时非空
}

// ValidationSpecification 断言校验规则，验证成功后逐条执行
type ValidationSpecification interface {
	IsSatisfiedBy(assertion *model.Assertion) bool
}

// renewSpecification renew=1 时要求断言来自全新登录
type renewSpecification struct{}

func (renewSpecification) IsSatisfiedBy(assertion *model.Assertion) bool {
	return assertion.FromNewLogin
}

// ProxyCallbackAuthenticator 代理回调认证
// 通过向 pgtUrl 回传 IOU 与 PGT 验证回调端点的身份
type ProxyCallbackAuthenticator interface {
	Authenticate(ctx context.Context, callbackURL, pgtID, pgtIOU string) error
}

var errProxyCallbackRejected = errors.New("代理回调未确认")

type httpProxyCallbackAuthenticator struct {
	client *http.Client
}

// NewProxyCallbackAuthenticator 创建基于 HTTPS 回调的代理认证器
func NewProxyCallbackAuthenticator(client *http.Client) ProxyCallbackAuthenticator {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &httpProxyCallbackAuthenticator{client: client}
}

// Authenticate 向 pgtUrl?pgtIou=..&pgtId=.. 发起 GET，仅 2xx 视为确认
func (a *httpProxyCallbackAuthenticator) Authenticate(ctx context.Context, callbackURL, pgtID, pgtIOU string) error {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return fmt.Errorf("解析回调地址失败: %w", err)
	}
	q := u.Query()
	q.Set("pgtIou", pgtIOU)
	q.Set("pgtId", pgtID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("构造回调请求失败: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("回调请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: 状态码 %d", errProxyCallbackRejected, resp.StatusCode)
	}
	return nil
}

// ValidationService 票据验证引擎
type ValidationService interface {
	// Validate 校验票据并构造断言，失败返回 *ValidationError
	Validate(ctx context.Context, req *ValidationRequest) (*ValidationResult, error)
}

type validationService struct {
	registry      registry.TicketRegistry
	services      ServicesManager
	tickets       TicketService
	proxyCallback ProxyCallbackAuthenticator
	logger        *zap.Logger
}

// NewValidationService 创建票据验证引擎
func NewValidationService(reg registry.TicketRegistry, services ServicesManager, tickets TicketService, proxyCallback ProxyCallbackAuthenticator, logger *zap.Logger) ValidationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &validationService{
		registry:      reg,
		services:      services,
		tickets:       tickets,
		proxyCallback: proxyCallback,
		logger:        logger,
	}
}

// Validate 校验票据并构造断言
// 校验顺序：参数、票据类型、票据存活、服务一致、服务授权、原子消费
func (s *validationService) Validate(ctx context.Context, req *ValidationRequest) (*ValidationResult, error) {
	if req.TicketID == "" || req.Service == "" {
		return nil, newValidationError(CodeInvalidRequest, "ticket 和 service 为必填参数")
	}

	kind, ok := model.KindFromID(req.TicketID)
	if !ok {
		return nil, newValidationError(CodeInvalidTicket, "票据 %s 格式不正确", req.TicketID)
	}
	switch kind {
	case model.KindST:
	case model.KindPT:
		if !req.AllowProxy {
			return nil, newValidationError(CodeInvalidTicket, "票据 %s 不被此端点接受", req.TicketID)
		}
	default:
		return nil, newValidationError(CodeInvalidTicket, "票据 %s 格式不正确", req.TicketID)
	}

	st, err := s.registry.GetTicket(ctx, req.TicketID, kind)
	if err != nil {
		if errors.Is(err, registry.ErrTicketNotFound) || errors.Is(err, registry.ErrTicketExpired) {
			return nil, newValidationError(CodeInvalidTicket, "票据 %s 不存在或已失效", req.TicketID)
		}
		return nil, err
	}

	if st.Service != req.Service {
		return nil, newValidationError(CodeInvalidService, "服务 %s 与票据绑定的服务不一致", req.Service)
	}

	svc, err := s.services.FindServiceBy(ctx, req.Service)
	if err != nil {
		if errors.Is(err, ErrServiceNotRegistered) {
			return nil, newValidationError(CodeUnauthorizedService, "服务 %s 未注册", req.Service)
		}
		return nil, err
	}
	if !svc.AccessAllowed() {
		return nil, newValidationError(CodeUnauthorizedService, "服务 %s 已被禁用", req.Service)
	}
	if req.PGTCallbackURL != "" && !svc.AllowToProxy {
		return nil, newValidationError(CodeUnauthorizedServiceProxy, "服务 %s 不允许代理认证", req.Service)
	}

	// 原子消费：并发验证同一票据时只有一个请求到达这里后仍能成功
	st, err = s.registry.ConsumeTicket(ctx, req.TicketID)
	if err != nil {
		if errors.Is(err, registry.ErrTicketNotFound) || errors.Is(err, registry.ErrTicketExpired) {
			return nil, newValidationError(CodeInvalidTicket, "票据 %s 不存在或已失效", req.TicketID)
		}
		return nil, err
	}

	assertion, err := s.buildAssertion(ctx, st)
	if err != nil {
		return nil, err
	}

	var specs []ValidationSpecification
	if req.Renew {
		specs = append(specs, renewSpecification{})
	}
	for _, spec := range specs {
		if !spec.IsSatisfiedBy(assertion) {
			return nil, newValidationError(CodeInvalidTicket, "票据 %s 不满足验证要求", req.TicketID)
		}
	}

	result := &ValidationResult{Assertion: assertion}
	if req.PGTCallbackURL != "" {
		// 票据已被消费，回调未确认时按协议返回失败
		iou, err := s.issueProxyGrantingTicket(ctx, st, req.PGTCallbackURL)
		if err != nil {
			return nil, newValidationError(CodeInvalidProxyCallback, "代理回调 %s 未确认", req.PGTCallbackURL)
		}
		result.PGTIOU = iou
	}
	return result, nil
}

// buildAssertion 由已消费的票据与其授权票据构造断言
func (s *validationService) buildAssertion(ctx context.Context, st *model.Ticket) (*model.Assertion, error) {
	ownerKind, _ := model.KindFromID(st.TGTID)
	owner, err := s.registry.GetTicket(ctx, st.TGTID, ownerKind)
	if err != nil {
		if errors.Is(err, registry.ErrTicketNotFound) || errors.Is(err, registry.ErrTicketExpired) {
			return nil, newValidationError(CodeInvalidTicket, "票据 %s 的会话已失效", st.ID)
		}
		return nil, err
	}

	chain, err := s.tickets.ProxyChain(ctx, owner.ID)
	if err != nil {
		return nil, err
	}

	return &model.Assertion{
		Principal:       owner.Principal,
		Attributes:      owner.Attributes,
		Service:         st.Service,
		AuthenticatedAt: owner.CreatedAt,
		FromNewLogin:    st.FromNewLogin,
		ProxyChain:      chain,
	}, nil
}

// issueProxyGrantingTicket 签发 PGT 并认证回调地址，返回 IOU
// 任一环节失败撤销已写入的 PGT 并返回错误
func (s *validationService) issueProxyGrantingTicket(ctx context.Context, st *model.Ticket, callbackURL string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil || u.Scheme != "https" {
		s.logger.Warn("代理回调地址不是 HTTPS，拒绝签发 PGT", zap.String("pgt_url", callbackURL))
		return "", fmt.Errorf("%w: 回调地址必须为 HTTPS", errProxyCallbackRejected)
	}

	pgt, err := s.tickets.GrantProxyGrantingTicket(ctx, st, callbackURL)
	if err != nil {
		s.logger.Warn("签发 PGT 失败", zap.String("pgt_url", callbackURL), zap.Error(err))
		return "", fmt.Errorf("签发 PGT 失败: %w", err)
	}

	iou := newProxyGrantingTicketIOU()
	if err := s.proxyCallback.Authenticate(ctx, callbackURL, pgt.ID, iou); err != nil {
		s.logger.Warn("代理回调认证失败，撤销 PGT",
			zap.String("pgt_url", callbackURL),
			zap.Error(err),
		)
		if _, derr := s.registry.DeleteTicket(ctx, pgt.ID); derr != nil {
			s.logger.Warn("撤销 PGT 失败", zap.String("pgt", pgt.ID), zap.Error(derr))
		}
		return "", err
	}
	return iou, nil
}
