package auth

import "errors"

// 认证相关错误定义
var (
	// JWT Token 错误
	ErrMissingToken         = errors.New("missing authorization token")
	ErrInvalidTokenFormat   = errors.New("invalid token format")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrInvalidSigningMethod = errors.New("invalid signing method")
	ErrSecretNotConfigured  = errors.New("jwt secret not configured")

	// 演示模式
	ErrInvalidDemoUser = errors.New("invalid X-User-Id")

	// 管理员认证错误
	ErrInvalidAdminToken = errors.New("invalid admin token")
)
