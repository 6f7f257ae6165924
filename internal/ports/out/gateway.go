package out

import (
	"errors"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// ErrUserOffline 目标用户没有任何在线连接，调用方应转入离线队列
var ErrUserOffline = errors.New("user has no live connections")

// ErrConnNotFound 连接不存在或已关闭
var ErrConnNotFound = errors.New("connection not found")

// Conn 单条连接的发送侧抽象，测试可用桩实现
type Conn interface {
	// Send 把一帧塞进发送缓冲，缓冲满或已关闭返回错误
	Send(frame []byte) error
	// Ping 发送一个探测控制帧
	Ping() error
	// Close 以指定关闭码关闭底层传输，幂等
	Close(code int, reason string) error
	// ID 连接ID
	ID() string
}

// ConnectionGateway 连接注册中心对业务层暴露的发送原语
type ConnectionGateway interface {
	// Send 投递给用户的全部在线连接；无在线连接返回 ErrUserOffline
	Send(userID string, frame []byte) error
	// SendToConn 投递给指定连接
	SendToConn(connID string, frame []byte) error
	// SendToRoom 向房间成员扇出，excludeConnID 不回显给发送者，返回送达连接数
	SendToRoom(roomID string, frame []byte, excludeConnID string) int
	// Broadcast 向全部已认证连接扇出，返回送达连接数
	Broadcast(frame []byte) int
	// Probe 对指定连接发送健康探测
	Probe(connID string) error
	// Close 关闭指定连接，幂等
	Close(connID string, code int, reason string) error
	// CloseUser 关闭某用户的全部连接，返回关闭数
	CloseUser(userID string, code int, reason string) int
	// IsOnline 用户是否持有至少一条已认证连接
	IsOnline(userID string) bool
	// Connections 用户当前的连接ID列表
	Connections(userID string) []string
	// Stats 连接统计
	Stats() entity.ConnStats

	// MarkAuthenticated 绑定用户并取消认证超时计时器，返回是否是该用户第一条连接
	MarkAuthenticated(connID, userID string) (firstConn bool, err error)
	// Unregister 从全部索引移除连接，返回移除前的快照与该用户剩余连接数
	Unregister(connID string) (conn *entity.Connection, remaining int, ok bool)
	// JoinRoom 加入房间，自动退出之前的房间
	JoinRoom(connID, roomID string) error
	// LeaveRoom 退出房间
	LeaveRoom(connID, roomID string) error
	// TouchHeartbeat 刷新连接的最近心跳时间
	TouchHeartbeat(connID string)
	// Get 查询连接快照
	Get(connID string) (*entity.Connection, bool)
}
