package entity

import "time"

// DeviceSession 设备会话，断开只置为不活跃，历史保留
type DeviceSession struct {
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	ConnectionID string    `json:"connection_id"` // 断开后为空
	Platform     string    `json:"platform"`
	Active       bool      `json:"active"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	CreatedAt    time.Time `json:"created_at"`
}
