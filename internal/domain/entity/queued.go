package entity

import "time"

// QueueStatus 离线消息状态
type QueueStatus int8

const (
	QueueStatusPending   QueueStatus = 0 // 待投递
	QueueStatusDelivered QueueStatus = 1 // 已投递
	QueueStatusFailed    QueueStatus = 2 // 重试耗尽
)

// QueuedMessage 离线排队的投递任务，持久化 + 内存索引双份
type QueuedMessage struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Payload     string      `json:"payload"` // 原始出站帧
	Status      QueueStatus `json:"status"`
	RetryCount  int         `json:"retry_count"`
	MaxRetries  int         `json:"max_retries"`
	NextRetryAt time.Time   `json:"next_retry_at"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
}

// QueueStats 队列统计
type QueueStats struct {
	Pending       int  `json:"pending"`
	UsersQueued   int  `json:"users_queued"`
	StoreDegraded bool `json:"store_degraded"` // 持久化不可用，仅内存兜底
}
