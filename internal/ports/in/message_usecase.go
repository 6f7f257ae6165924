package in

import "context"

// MessageUseCase 房间与消息相关的入站帧用例
type MessageUseCase interface {
	// JoinRoom 加入房间（隐式退出旧房间），要求房间成员资格
	JoinRoom(ctx context.Context, connID, userID, roomID string) error
	// LeaveRoom 退出房间
	LeaveRoom(ctx context.Context, connID, roomID string) error
	// Send 持久化消息并向房间成员扇出，离线成员转入离线队列
	Send(ctx context.Context, connID, userID, roomID, content string) (messageID string, err error)
	// Typing 正在输入状态扇出，不持久化
	Typing(ctx context.Context, connID, userID, roomID string, typing bool) error
	// MarkRead 已读回执
	MarkRead(ctx context.Context, userID, messageID string) error
	// MarkDelivered 送达回执
	MarkDelivered(ctx context.Context, userID, messageID string) error
	// UnreadCount 未读数查询，roomID 可为空
	UnreadCount(ctx context.Context, userID, roomID string) (int, error)
}
