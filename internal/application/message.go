package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/ports/in"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// ErrNotParticipant 用户不是房间成员
var ErrNotParticipant = errors.New("user is not a participant of the room")

// MessageService 房间与消息用例实现
// 成员校验与持久化都委托给 CRUD 协作方，本服务只负责实时扇出与离线兜底
type MessageService struct {
	gateway  out.ConnectionGateway
	chat     out.ChatService
	delivery in.DeliveryUseCase
	cfg      config.Config
}

// NewMessageService 创建消息用例
func NewMessageService(
	gateway out.ConnectionGateway,
	chat out.ChatService,
	delivery in.DeliveryUseCase,
	cfg config.Config,
) in.MessageUseCase {
	return &MessageService{gateway: gateway, chat: chat, delivery: delivery, cfg: cfg}
}

// JoinRoom 校验成员资格后把连接绑定到房间，隐式退出旧房间
func (s *MessageService) JoinRoom(ctx context.Context, connID, userID, roomID string) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	ok, err := s.chat.IsParticipant(cctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("participant check failed: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}

	if err := s.gateway.JoinRoom(connID, roomID); err != nil {
		return err
	}
	zap.L().Info("joined room",
		zap.String("connID", connID),
		zap.String("userID", userID),
		zap.String("roomID", roomID))
	return nil
}

// LeaveRoom 把连接从房间解绑
func (s *MessageService) LeaveRoom(ctx context.Context, connID, roomID string) error {
	return s.gateway.LeaveRoom(connID, roomID)
}

// Send 持久化消息后向全部成员扇出，离线成员恰好入队一条
func (s *MessageService) Send(ctx context.Context, connID, userID, roomID, content string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	ok, err := s.chat.IsParticipant(cctx, userID, roomID)
	if err != nil {
		return "", fmt.Errorf("participant check failed: %w", err)
	}
	if !ok {
		return "", ErrNotParticipant
	}

	messageID, participants, err := s.chat.PersistMessage(cctx, userID, roomID, content)
	if err != nil {
		return "", fmt.Errorf("persist message failed: %w", err)
	}

	frame := outFrame("message", map[string]any{
		"message_id":   messageID,
		"chat_room_id": roomID,
		"sender_id":    userID,
		"content":      content,
		"sent_at":      time.Now().Format(time.RFC3339),
	})
	for _, pid := range participants {
		if pid == userID {
			continue
		}
		// 在线直接扇出，失败转离线队列
		_ = s.delivery.Deliver(ctx, pid, frame)
	}

	zap.L().Info("message fanned out",
		zap.String("messageID", messageID),
		zap.String("roomID", roomID),
		zap.Int("participants", len(participants)))
	return messageID, nil
}

// Typing 正在输入只发给当前在房间里的其它连接，不持久化也不入队
func (s *MessageService) Typing(ctx context.Context, connID, userID, roomID string, typing bool) error {
	typ := "typing_stop"
	if typing {
		typ = "typing_start"
	}
	s.gateway.SendToRoom(roomID, outFrame(typ, map[string]any{
		"chat_room_id": roomID,
		"user_id":      userID,
	}), connID)
	return nil
}

// MarkRead 已读回执透传给 CRUD 协作方
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID string) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()
	return s.chat.MarkRead(cctx, userID, messageID)
}

// MarkDelivered 送达回执透传给 CRUD 协作方
func (s *MessageService) MarkDelivered(ctx context.Context, userID, messageID string) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()
	return s.chat.MarkDelivered(cctx, userID, messageID)
}

// UnreadCount 未读数查询
func (s *MessageService) UnreadCount(ctx context.Context, userID, roomID string) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()
	return s.chat.UnreadCount(cctx, userID, roomID)
}
