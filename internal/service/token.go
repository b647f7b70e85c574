// Package service 令牌服务
package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 令牌相关错误
var (
	ErrInvalidToken     = errors.New("无效的令牌")
	ErrTokenExpired     = errors.New("令牌已过期")
	ErrInvalidSignature = errors.New("签名验证失败")
	ErrInvalidIssuer    = errors.New("无效的签发者")
)

// TokenClaims 管理端 JWT 声明
type TokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// TokenService 管理端令牌服务接口
type TokenService interface {
	// GenerateToken 为管理员生成访问令牌
	GenerateToken(ctx context.Context, username string) (string, error)
	// ValidateToken 验证令牌
	ValidateToken(ctx context.Context, tokenString string) (*TokenClaims, error)
}

// tokenService 令牌服务实现
type tokenService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	issuer     string
	expiry     time.Duration
}

// TokenServiceConfig 令牌服务配置
type TokenServiceConfig struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	KeyID      string
	Issuer     string
	Expiry     time.Duration
}

// NewTokenService 创建令牌服务
func NewTokenService(cfg *TokenServiceConfig) TokenService {
	expiry := cfg.Expiry
	if expiry == 0 {
		expiry = DefaultTokenExpiry
	}
	return &tokenService{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		keyID:      cfg.KeyID,
		issuer:     cfg.Issuer,
		expiry:     expiry,
	}
}

// GenerateToken 为管理员生成访问令牌
func (s *tokenService) GenerateToken(ctx context.Context, username string) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			ID:        generateTokenID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID

	return token.SignedString(s.privateKey)
}

// ValidateToken 验证令牌
func (s *tokenService) ValidateToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidSignature
		}
		return s.publicKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// 验证签发者
	if claims.Issuer != s.issuer {
		return nil, ErrInvalidIssuer
	}

	return claims, nil
}

// generateTokenID 生成令牌 ID
func generateTokenID() string {
	return generateSecureCode(16)
}

// DefaultTokenExpiry 管理端令牌默认有效期
const DefaultTokenExpiry = 2 * time.Hour
