package out

import (
	"context"
	"errors"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// 凭证校验错误，决定关闭码与是否开重连窗口
var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
)

// TokenVerifier 外部凭证校验方
type TokenVerifier interface {
	// Verify 校验凭证并返回用户，失败返回上面的哨兵错误之一
	Verify(ctx context.Context, token string) (*entity.User, error)
}

// RoomPreview 会话预览，用于多端同步快照
type RoomPreview struct {
	RoomID      string `json:"room_id"`
	LastContent string `json:"last_content"`
	LastSentAt  int64  `json:"last_sent_at"`
	Unread      int    `json:"unread"`
}

// ChatService 消息/房间的外部协作方（CRUD 层实现并在启动时注入）
type ChatService interface {
	// IsParticipant 用户是否是房间成员
	IsParticipant(ctx context.Context, userID, roomID string) (bool, error)
	// PersistMessage 持久化消息并返回消息ID与需要扇出的成员
	PersistMessage(ctx context.Context, senderID, roomID, content string) (messageID string, participantIDs []string, err error)
	// MarkRead 标记消息已读
	MarkRead(ctx context.Context, userID, messageID string) error
	// MarkDelivered 标记消息已送达
	MarkDelivered(ctx context.Context, userID, messageID string) error
	// UnreadCount 未读数，roomID 为空时返回全局未读
	UnreadCount(ctx context.Context, userID, roomID string) (int, error)
	// RecentPreviews 最近会话预览
	RecentPreviews(ctx context.Context, userID string, limit int) ([]*RoomPreview, error)
}

// MessageConsumer 入站消息事件消费者
type MessageConsumer interface {
	Start(ctx context.Context) error
	Stop() error
}
