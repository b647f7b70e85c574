package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"
)

// 创建测试用的令牌服务
func newTestTokenService(expiry time.Duration) TokenService {
	privateKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	return NewTokenService(&TokenServiceConfig{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		KeyID:      "test-key-1",
		Issuer:     "test-issuer",
		Expiry:     expiry,
	})
}

// TestTokenService_GenerateAndValidate 测试令牌生成与验证
func TestTokenService_GenerateAndValidate(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)
	ctx := context.Background()

	token, err := svc.GenerateToken(ctx, "admin")
	if err != nil {
		t.Fatalf("生成令牌失败: %v", err)
	}
	if token == "" {
		t.Fatal("令牌不应为空")
	}

	claims, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("验证令牌失败: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("Username = %s, 期望 admin", claims.Username)
	}
	if claims.Subject != "admin" {
		t.Errorf("Subject = %s, 期望 admin", claims.Subject)
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("Issuer = %s, 期望 test-issuer", claims.Issuer)
	}
}

// TestTokenService_ValidateToken_Expired 测试过期令牌
func TestTokenService_ValidateToken_Expired(t *testing.T) {
	svc := newTestTokenService(-1 * time.Hour)
	ctx := context.Background()

	token, err := svc.GenerateToken(ctx, "admin")
	if err != nil {
		t.Fatalf("生成令牌失败: %v", err)
	}

	_, err = svc.ValidateToken(ctx, token)
	if err != ErrTokenExpired {
		t.Errorf("期望 ErrTokenExpired, 实际 %v", err)
	}
}

// TestTokenService_ValidateToken_Tampered 测试篡改令牌
func TestTokenService_ValidateToken_Tampered(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)
	ctx := context.Background()

	token, err := svc.GenerateToken(ctx, "admin")
	if err != nil {
		t.Fatalf("生成令牌失败: %v", err)
	}

	tampered := token[:len(token)-5] + "xxxxx"
	if _, err := svc.ValidateToken(ctx, tampered); err == nil {
		t.Error("篡改令牌应该验证失败")
	}
}

// TestTokenService_ValidateToken_WrongIssuer 测试跨签发者令牌
func TestTokenService_ValidateToken_WrongIssuer(t *testing.T) {
	privateKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	issuerA := NewTokenService(&TokenServiceConfig{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		KeyID:      "test-key-1",
		Issuer:     "issuer-a",
	})
	issuerB := NewTokenService(&TokenServiceConfig{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		KeyID:      "test-key-1",
		Issuer:     "issuer-b",
	})
	ctx := context.Background()

	token, err := issuerA.GenerateToken(ctx, "admin")
	if err != nil {
		t.Fatalf("生成令牌失败: %v", err)
	}

	if _, err := issuerB.ValidateToken(ctx, token); err != ErrInvalidIssuer {
		t.Errorf("期望 ErrInvalidIssuer, 实际 %v", err)
	}
}
