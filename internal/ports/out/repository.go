package out

import (
	"context"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// QueuedMessageRepository 离线消息持久化仓储
type QueuedMessageRepository interface {
	// Save 保存一条待投递消息
	Save(ctx context.Context, msg *entity.QueuedMessage) error
	// LoadPending 按入队时间升序加载未耗尽的消息，userID 为空时加载全部用户
	LoadPending(ctx context.Context, userID string, limit int) ([]*entity.QueuedMessage, error)
	// UpdateRetry 持久化重试进度
	UpdateRetry(ctx context.Context, id string, retryCount int, nextRetryAt int64) error
	// MarkDelivered 标记已投递
	MarkDelivered(ctx context.Context, id string) error
	// MarkFailed 标记重试耗尽
	MarkFailed(ctx context.Context, id string) error
	// DeleteFinished 清理终态消息
	DeleteFinished(ctx context.Context, before int64) (int64, error)
}

// DeviceSessionRepository 设备会话仓储
type DeviceSessionRepository interface {
	// Upsert 注册或刷新设备会话
	Upsert(ctx context.Context, s *entity.DeviceSession) error
	// DeactivateByConn 连接断开时把对应会话置为不活跃，历史保留
	DeactivateByConn(ctx context.Context, userID, connID string) error
	// ActiveByUser 某用户的全部活跃设备
	ActiveByUser(ctx context.Context, userID string) ([]*entity.DeviceSession, error)
	// UsersWithActiveDevices 活跃设备数不少于 min 的用户列表
	UsersWithActiveDevices(ctx context.Context, min int) ([]string, error)
	// TouchSync 记录一次同步完成时间
	TouchSync(ctx context.Context, userID, deviceID string, at int64) error
}

// PresenceMirror 在线状态的跨节点镜像（Redis），供 REST 层与其它节点查询
type PresenceMirror interface {
	// SetOnline 标记设备在线
	SetOnline(ctx context.Context, userID, deviceID, serverAddr string) error
	// SetOffline 移除设备在线标记
	SetOffline(ctx context.Context, userID, deviceID string) error
	// Refresh 刷新在线标记的过期时间
	Refresh(ctx context.Context, userID, deviceID string) error
}
