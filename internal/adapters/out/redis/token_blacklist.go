package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 吊销凭证Key前缀，写入方是认证服务，这里只读
const revokedKeyPrefix = "im:token:revoked:"

// TokenBlacklistRedis 已吊销凭证查询
type TokenBlacklistRedis struct {
	client *redis.Client
}

func NewTokenBlacklistRedis(client *redis.Client) *TokenBlacklistRedis {
	return &TokenBlacklistRedis{client: client}
}

// IsRevoked 凭证是否已被吊销
func (r *TokenBlacklistRedis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	count, err := r.client.Exists(ctx, fmt.Sprintf("%s%s", revokedKeyPrefix, jti)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
