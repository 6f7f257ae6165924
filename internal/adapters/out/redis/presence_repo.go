package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

const (
	// 在线状态Key前缀
	onlineKeyPrefix = "im:online:user:"
	// 在线标记过期时间（心跳周期的多倍，节点宕机后自动失效）
	onlineTTL = 5 * time.Minute
)

// deviceMark 设备在线标记
type deviceMark struct {
	ServerAddr string `json:"server_addr"`
	OnlineAt   int64  `json:"online_at"`
}

// PresenceMirrorRedis 在线状态的跨节点镜像实现
// 每个用户一个 Hash，field 是设备/连接标识；Hash 整体带 TTL
type PresenceMirrorRedis struct {
	client *redis.Client
}

func NewPresenceMirrorRedis(client *redis.Client) out.PresenceMirror {
	return &PresenceMirrorRedis{client: client}
}

func (r *PresenceMirrorRedis) getKey(userID string) string {
	return fmt.Sprintf("%s%s", onlineKeyPrefix, userID)
}

func (r *PresenceMirrorRedis) SetOnline(ctx context.Context, userID, deviceID, serverAddr string) error {
	mark, err := json.Marshal(deviceMark{
		ServerAddr: serverAddr,
		OnlineAt:   time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	key := r.getKey(userID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, deviceID, string(mark))
	pipe.Expire(ctx, key, onlineTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *PresenceMirrorRedis) SetOffline(ctx context.Context, userID, deviceID string) error {
	key := r.getKey(userID)
	if err := r.client.HDel(ctx, key, deviceID).Err(); err != nil {
		return err
	}

	// 最后一个设备下线时整个Key删掉
	count, err := r.client.HLen(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 0 {
		return r.client.Del(ctx, key).Err()
	}
	return nil
}

func (r *PresenceMirrorRedis) Refresh(ctx context.Context, userID, deviceID string) error {
	key := r.getKey(userID)
	exists, err := r.client.HExists(ctx, key, deviceID).Result()
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return r.client.Expire(ctx, key, onlineTTL).Err()
}
