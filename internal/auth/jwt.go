package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"color-server/common/logger"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims 用户令牌，由上游账号服务签发，本服务只校验
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier HMAC 令牌校验
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Sign 签发令牌，仅用于测试与本地联调
func (v *Verifier) Sign(userID int64, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrSecretNotConfigured
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify 校验 Authorization: Bearer <token>，返回用户 ID
func (v *Verifier) Verify(authHeader string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrSecretNotConfigured
	}
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return nil, ErrMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, ErrInvalidTokenFormat
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningMethod
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		logger.Warn("jwt parse failed", zap.Error(err))
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseDemoUser 演示模式下从 X-User-Id 读取用户
func ParseDemoUser(h string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(h), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidDemoUser
	}
	return id, nil
}
