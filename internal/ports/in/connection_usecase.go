package in

import (
	"context"
	"time"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// ConnectionStatus 连接状态查询结果
type ConnectionStatus struct {
	ConnectionID   string                   `json:"connection_id"`
	Authenticated  bool                     `json:"is_authenticated"`
	Health         *entity.ConnectionHealth `json:"health,omitempty"`
	QueuedMessages int                      `json:"queued_messages_count"`
	ActiveDevices  int                      `json:"active_devices"`
	Timestamp      time.Time                `json:"timestamp"`
}

// CoreStats 供 /internal/stats 聚合返回
type CoreStats struct {
	Connections entity.ConnStats   `json:"connections"`
	Health      entity.HealthStats `json:"health"`
	Queue       entity.QueueStats  `json:"queue"`
}

// ConnectionUseCase 连接生命周期用例
type ConnectionUseCase interface {
	// Authenticate 校验凭证并把连接从 pending 提升为 authenticated
	Authenticate(ctx context.Context, connID, token string) (*entity.User, error)
	// Disconnected 传输层关闭后的统一清理入口
	Disconnected(ctx context.Context, connID string, code int, reason string)
	// Heartbeat 应用层心跳，同时作为健康探测应答
	Heartbeat(ctx context.Context, connID string)
	// Status 连接状态查询
	Status(ctx context.Context, connID string) (*ConnectionStatus, error)
	// IsOnline 供 REST 层查询在线状态
	IsOnline(ctx context.Context, userID string) bool
	// Stats 聚合统计
	Stats(ctx context.Context) CoreStats
}
