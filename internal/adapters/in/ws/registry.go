package ws

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// entry 注册中心持有的一条连接及其索引状态
type entry struct {
	conn      out.Conn
	meta      *entity.Connection
	room      string // 连接同一时刻至多在一个房间
	authTimer *time.Timer
}

// Registry 进程内连接注册中心，实现 out.ConnectionGateway
// 三套索引同锁维护：connID、userID -> 连接集合、roomID -> 连接集合
type Registry struct {
	cfg config.Config

	mu    sync.RWMutex
	conns map[string]*entry
	users map[string]map[string]struct{}
	rooms map[string]map[string]struct{}
}

// NewRegistry 创建连接注册中心
func NewRegistry(cfg config.Config) *Registry {
	return &Registry{
		cfg:   cfg,
		conns: make(map[string]*entry),
		users: make(map[string]map[string]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register 纳管一条待认证连接并启动认证窗口计时
// 窗口内没有认证成功就以 4001 关闭，清理由断开回调统一完成
func (r *Registry) Register(conn out.Conn, meta *entity.Connection) {
	r.mu.Lock()
	e := &entry{conn: conn, meta: meta}
	e.authTimer = time.AfterFunc(r.cfg.AuthWindow, func() {
		r.authTimeout(meta.ID)
	})
	r.conns[meta.ID] = e
	r.mu.Unlock()

	zap.L().Info("connection registered",
		zap.String("connID", meta.ID),
		zap.String("remoteAddr", meta.RemoteAddr))
}

func (r *Registry) authTimeout(connID string) {
	r.mu.Lock()
	e, ok := r.conns[connID]
	if !ok || e.meta.State != entity.StatePending {
		r.mu.Unlock()
		return
	}
	_ = e.meta.Transition(entity.EventAuthTimeout)
	conn := e.conn
	r.mu.Unlock()

	zap.L().Warn("authentication window expired", zap.String("connID", connID))
	_ = conn.Close(entity.CloseAuthTimeout, "authentication timeout")
}

// MarkAuthenticated 绑定用户、停掉认证计时器，返回是否是该用户第一条连接
func (r *Registry) MarkAuthenticated(connID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false, out.ErrConnNotFound
	}
	if err := e.meta.Transition(entity.EventAuthSuccess); err != nil {
		return false, err
	}
	e.meta.UserID = userID
	if e.authTimer != nil {
		e.authTimer.Stop()
		e.authTimer = nil
	}

	if _, ok := r.users[userID]; !ok {
		r.users[userID] = make(map[string]struct{})
	}
	r.users[userID][connID] = struct{}{}
	return len(r.users[userID]) == 1, nil
}

// Unregister 从全部索引移除连接，返回移除前的快照与该用户剩余连接数
func (r *Registry) Unregister(connID string) (*entity.Connection, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil, 0, false
	}
	if e.authTimer != nil {
		e.authTimer.Stop()
	}
	if e.meta.State != entity.StateClosed {
		_ = e.meta.Transition(entity.EventClose)
	}
	delete(r.conns, connID)
	r.leaveRoomLocked(e, connID)

	remaining := 0
	if e.meta.UserID != "" {
		if set, ok := r.users[e.meta.UserID]; ok {
			delete(set, connID)
			remaining = len(set)
			if remaining == 0 {
				delete(r.users, e.meta.UserID)
			}
		}
	}

	cp := *e.meta
	return &cp, remaining, true
}

// Send 投递给用户的全部在线连接；无在线连接返回 ErrUserOffline
// 连接都在但一条都没收下（缓冲全满/正在关闭）也算失败，让调用方入队兜底
func (r *Registry) Send(userID string, frame []byte) error {
	r.mu.RLock()
	conns := r.userConnsLocked(userID)
	r.mu.RUnlock()

	if len(conns) == 0 {
		return out.ErrUserOffline
	}

	accepted := 0
	for _, conn := range conns {
		if err := conn.Send(frame); err == nil {
			accepted++
		}
	}
	if accepted == 0 {
		return fmt.Errorf("no connection of user %s accepted the frame", userID)
	}
	return nil
}

// SendToConn 投递给指定连接
func (r *Registry) SendToConn(connID string, frame []byte) error {
	r.mu.RLock()
	e, ok := r.conns[connID]
	r.mu.RUnlock()

	if !ok {
		return out.ErrConnNotFound
	}
	return e.conn.Send(frame)
}

// SendToRoom 向房间成员扇出，excludeConnID 不回显给发送者，返回送达连接数
func (r *Registry) SendToRoom(roomID string, frame []byte, excludeConnID string) int {
	r.mu.RLock()
	conns := make([]out.Conn, 0)
	for connID := range r.rooms[roomID] {
		if connID == excludeConnID {
			continue
		}
		if e, ok := r.conns[connID]; ok {
			conns = append(conns, e.conn)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if err := conn.Send(frame); err == nil {
			sent++
		}
	}
	return sent
}

// Broadcast 向全部已认证连接扇出，返回送达连接数
func (r *Registry) Broadcast(frame []byte) int {
	r.mu.RLock()
	conns := make([]out.Conn, 0, len(r.conns))
	for _, e := range r.conns {
		if e.meta.IsAuthenticated() {
			conns = append(conns, e.conn)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if err := conn.Send(frame); err == nil {
			sent++
		}
	}
	return sent
}

// Probe 对指定连接发送健康探测
func (r *Registry) Probe(connID string) error {
	r.mu.RLock()
	e, ok := r.conns[connID]
	r.mu.RUnlock()

	if !ok {
		return out.ErrConnNotFound
	}
	return e.conn.Ping()
}

// Close 关闭指定连接，幂等
func (r *Registry) Close(connID string, code int, reason string) error {
	r.mu.RLock()
	e, ok := r.conns[connID]
	r.mu.RUnlock()

	if !ok {
		return out.ErrConnNotFound
	}
	return e.conn.Close(code, reason)
}

// CloseUser 关闭某用户的全部连接，返回关闭数
func (r *Registry) CloseUser(userID string, code int, reason string) int {
	r.mu.RLock()
	conns := r.userConnsLocked(userID)
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close(code, reason)
	}
	return len(conns)
}

// IsOnline 用户是否持有至少一条已认证连接
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Connections 用户当前的连接ID列表
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users[userID]))
	for connID := range r.users[userID] {
		ids = append(ids, connID)
	}
	return ids
}

// Stats 连接统计
func (r *Registry) Stats() entity.ConnStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := entity.ConnStats{
		Total:       len(r.conns),
		UniqueUsers: len(r.users),
		Rooms:       len(r.rooms),
	}
	for _, e := range r.conns {
		if e.meta.IsAuthenticated() {
			stats.Authenticated++
		}
	}
	return stats
}

// JoinRoom 加入房间，自动退出之前的房间
func (r *Registry) JoinRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return out.ErrConnNotFound
	}
	r.leaveRoomLocked(e, connID)

	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(map[string]struct{})
	}
	r.rooms[roomID][connID] = struct{}{}
	e.room = roomID
	return nil
}

// LeaveRoom 退出房间
func (r *Registry) LeaveRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return out.ErrConnNotFound
	}
	if e.room != roomID {
		return fmt.Errorf("connection %s is not in room %s", connID, roomID)
	}
	r.leaveRoomLocked(e, connID)
	return nil
}

// leaveRoomLocked 解绑旧房间，空房间立即回收
func (r *Registry) leaveRoomLocked(e *entry, connID string) {
	if e.room == "" {
		return
	}
	if set, ok := r.rooms[e.room]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.rooms, e.room)
		}
	}
	e.room = ""
}

// TouchHeartbeat 刷新连接的最近心跳时间
func (r *Registry) TouchHeartbeat(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[connID]; ok {
		e.meta.LastHeartbeatAt = time.Now()
	}
}

// Get 查询连接快照
func (r *Registry) Get(connID string) (*entity.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	cp := *e.meta
	return &cp, true
}

func (r *Registry) userConnsLocked(userID string) []out.Conn {
	conns := make([]out.Conn, 0, len(r.users[userID]))
	for connID := range r.users[userID] {
		if e, ok := r.conns[connID]; ok {
			conns = append(conns, e.conn)
		}
	}
	return conns
}
