package auth

import (
	"context"
	"errors"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// TokenBlacklist 已吊销凭证查询
type TokenBlacklist interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// claims 认证服务签发的凭证载荷，Subject 是用户ID
type claims struct {
	jwt.StandardClaims
	Username string `json:"username,omitempty"`
}

// JWTVerifier 本地验签 + 吊销名单查询，实现 out.TokenVerifier
type JWTVerifier struct {
	secret    []byte
	blacklist TokenBlacklist
}

// NewJWTVerifier 创建凭证校验器，blacklist 可为 nil（不做吊销检查）
func NewJWTVerifier(secret string, blacklist TokenBlacklist) out.TokenVerifier {
	return &JWTVerifier{secret: []byte(secret), blacklist: blacklist}
}

// Verify 验签并解析凭证，失败映射为哨兵错误
func (v *JWTVerifier) Verify(ctx context.Context, tokenStr string) (*entity.User, error) {
	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, out.ErrTokenExpired
		}
		return nil, out.ErrTokenInvalid
	}

	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return nil, out.ErrTokenInvalid
	}

	if v.blacklist != nil && c.Id != "" {
		revoked, err := v.blacklist.IsRevoked(ctx, c.Id)
		if err != nil {
			// 吊销名单不可用时放行，本地验签仍然有效
			zap.L().Warn("token blacklist lookup failed", zap.Error(err))
		} else if revoked {
			return nil, out.ErrTokenRevoked
		}
	}

	return &entity.User{ID: c.Subject, Username: c.Username}, nil
}
