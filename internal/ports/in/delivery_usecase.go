package in

import (
	"context"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// DeliveryUseCase 离线投递队列用例
type DeliveryUseCase interface {
	// Deliver 在线直接扇出，离线转入队列，对调用方永远不是硬错误
	Deliver(ctx context.Context, userID string, payload []byte) error
	// Enqueue 显式入队，返回队列ID
	Enqueue(ctx context.Context, userID string, payload []byte) (string, error)
	// Drain 用户上线时按入队顺序补投
	Drain(ctx context.Context, userID string) error
	// Retry 客户端主动重试某一条
	Retry(ctx context.Context, userID, queueID string) error
	// RetrySweepOnce 执行一轮后台重投（测试可单步驱动）
	RetrySweepOnce(ctx context.Context)
	// QueuedCount 某用户的待投递条数
	QueuedCount(userID string) int
	// Stats 队列统计
	Stats() entity.QueueStats
	// Start 重建内存索引并启动后台重投调度
	Start(ctx context.Context) error
	// Stop 停止后台调度
	Stop()
}
