package entity

import "time"

// ReconnectionAttempt 每用户的重连窗口记录
// 服务端不主动建连，只做节奏控制和状态暴露
type ReconnectionAttempt struct {
	UserID        string    `json:"user_id"`
	DeviceID      string    `json:"device_id,omitempty"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastReason    string    `json:"last_reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// Exhausted 是否已达尝试上限
func (a *ReconnectionAttempt) Exhausted() bool {
	return a.Attempts >= a.MaxAttempts
}
