package service

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/crypto/bcrypt"

	"github.com/pu-ac-cn/cas-server/internal/config"
)

// Property: 密码哈希验证
// *For any* 密码，正确密码认证成功，错误密码认证失败
func TestProperty_PasswordHashVerification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30 // bcrypt 较慢，减少迭代次数

	properties := gopter.NewProperties(parameters)

	passwordGen := gen.SliceOfN(12, gen.AlphaNumChar()).Map(func(chars []rune) string {
		return string(chars)
	})

	properties.Property("正确密码通过且错误密码被拒", prop.ForAll(
		func(password string) bool {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
			if err != nil {
				return false
			}
			auth := NewStaticAuthenticator([]config.UserConfig{
				{Username: "alice", PasswordHash: string(hash)},
			})
			ctx := context.Background()

			p, err := auth.Authenticate(ctx, "alice", password)
			if err != nil || p == nil || p.ID != "alice" {
				t.Log("正确密码验证失败")
				return false
			}

			if _, err := auth.Authenticate(ctx, "alice", password+"x"); err != ErrInvalidCredentials {
				t.Log("错误密码验证通过")
				return false
			}

			return true
		},
		passwordGen,
	))

	properties.TestingRun(t)
}

// Property: 未知用户与错误密码不可区分
// *For any* 用户名，未知用户与密码错误返回相同错误，避免用户枚举
func TestProperty_UnknownUserIndistinguishable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	usernameGen := gen.SliceOfN(10, gen.AlphaLowerChar()).Map(func(chars []rune) string {
		return "user" + string(chars)
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("Correct123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("生成哈希失败: %v", err)
	}
	auth := NewStaticAuthenticator([]config.UserConfig{
		{Username: "known", PasswordHash: string(hash)},
	})

	properties.Property("两类失败返回同一错误", prop.ForAll(
		func(username string) bool {
			ctx := context.Background()

			_, unknownErr := auth.Authenticate(ctx, username, "Correct123")
			_, wrongPassErr := auth.Authenticate(ctx, "known", "Wrong456")

			return unknownErr == ErrInvalidCredentials && wrongPassErr == ErrInvalidCredentials
		},
		usernameGen,
	))

	properties.TestingRun(t)
}
