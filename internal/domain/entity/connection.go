package entity

import (
	"errors"
	"time"
)

// ConnState 连接状态
type ConnState string

const (
	StatePending       ConnState = "pending"       // 已接入，等待认证
	StateAuthenticated ConnState = "authenticated" // 认证通过
	StateClosed        ConnState = "closed"        // 已关闭，终态
)

// ConnEvent 连接事件
type ConnEvent string

const (
	EventAuthSuccess ConnEvent = "auth_success" // 认证成功
	EventAuthFail    ConnEvent = "auth_fail"    // 认证失败
	EventAuthTimeout ConnEvent = "auth_timeout" // 认证窗口超时
	EventClose       ConnEvent = "close"        // 传输层关闭或强制关闭
)

var ErrInvalidTransition = errors.New("invalid connection state transition")

type stateEvent struct {
	state ConnState
	event ConnEvent
}

// Closed 是终态，没有任何出边
var connTransitions = map[stateEvent]ConnState{
	{StatePending, EventAuthSuccess}:     StateAuthenticated,
	{StatePending, EventAuthFail}:        StateClosed,
	{StatePending, EventAuthTimeout}:     StateClosed,
	{StatePending, EventClose}:           StateClosed,
	{StateAuthenticated, EventClose}:     StateClosed,
}

// Connection 一条双工连接的注册信息，由连接注册中心独占持有
type Connection struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"` // 认证前为空
	State           ConnState `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	RemoteAddr      string    `json:"remote_addr"`
	UserAgent       string    `json:"user_agent"`
}

// NewConnection 创建待认证连接
func NewConnection(id, remoteAddr, userAgent string) *Connection {
	now := time.Now()
	return &Connection{
		ID:              id,
		State:           StatePending,
		CreatedAt:       now,
		LastHeartbeatAt: now,
		RemoteAddr:      remoteAddr,
		UserAgent:       userAgent,
	}
}

// Transition 推进状态机，非法迁移返回 ErrInvalidTransition
func (c *Connection) Transition(ev ConnEvent) error {
	next, ok := connTransitions[stateEvent{c.State, ev}]
	if !ok {
		return ErrInvalidTransition
	}
	c.State = next
	return nil
}

// IsAuthenticated 是否已认证
func (c *Connection) IsAuthenticated() bool {
	return c.State == StateAuthenticated
}

// User 认证后的用户信息，由外部凭证校验方返回
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ConnStats 连接统计，供 REST 层查询
type ConnStats struct {
	Total         int `json:"total"`
	Authenticated int `json:"authenticated"`
	UniqueUsers   int `json:"unique_users"`
	Rooms         int `json:"rooms"`
}
