package application

import (
	"context"
	"errors"
	"sync"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// stubGateway 测试用连接网关：按用户记录发送与关闭，在线集合可直接控制
type stubGateway struct {
	mu     sync.Mutex
	online map[string]bool
	sent   map[string][][]byte // userID -> 帧
	conns  map[string]*entity.Connection

	probed    []string
	closed    map[string]int // connID -> code
	broadcast [][]byte

	sendErr map[string]error // userID -> 注入的发送错误
}

func newPendingConn(connID string) *entity.Connection {
	return entity.NewConnection(connID, "127.0.0.1:5000", "test-agent")
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		online:  make(map[string]bool),
		sent:    make(map[string][][]byte),
		conns:   make(map[string]*entity.Connection),
		closed:  make(map[string]int),
		sendErr: make(map[string]error),
	}
}

func (g *stubGateway) setOnline(userID string, online bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.online[userID] = online
}

func (g *stubGateway) sentTo(userID string) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]byte(nil), g.sent[userID]...)
}

func (g *stubGateway) Send(userID string, frame []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.sendErr[userID]; ok {
		return err
	}
	if !g.online[userID] {
		return out.ErrUserOffline
	}
	g.sent[userID] = append(g.sent[userID], frame)
	return nil
}

func (g *stubGateway) SendToConn(connID string, frame []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent[connID] = append(g.sent[connID], frame)
	return nil
}

func (g *stubGateway) SendToRoom(roomID string, frame []byte, excludeConnID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent["room:"+roomID] = append(g.sent["room:"+roomID], frame)
	return 1
}

func (g *stubGateway) Broadcast(frame []byte) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcast = append(g.broadcast, frame)
	return len(g.online)
}

func (g *stubGateway) Probe(connID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probed = append(g.probed, connID)
	return nil
}

func (g *stubGateway) Close(connID string, code int, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed[connID] = code
	return nil
}

func (g *stubGateway) CloseUser(userID string, code int, reason string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.online[userID] {
		return 0
	}
	g.online[userID] = false
	g.closed["user:"+userID] = code
	return 1
}

func (g *stubGateway) IsOnline(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online[userID]
}

func (g *stubGateway) Connections(userID string) []string { return nil }

func (g *stubGateway) Stats() entity.ConnStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := entity.ConnStats{Total: len(g.conns)}
	for _, on := range g.online {
		if on {
			stats.UniqueUsers++
		}
	}
	return stats
}

func (g *stubGateway) MarkAuthenticated(connID, userID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn, ok := g.conns[connID]
	if !ok {
		return false, out.ErrConnNotFound
	}
	conn.UserID = userID
	conn.State = entity.StateAuthenticated
	first := !g.online[userID]
	g.online[userID] = true
	return first, nil
}

func (g *stubGateway) Unregister(connID string) (*entity.Connection, int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn, ok := g.conns[connID]
	if !ok {
		return nil, 0, false
	}
	delete(g.conns, connID)
	remaining := 0
	if conn.UserID != "" {
		for id, c := range g.conns {
			if id != connID && c.UserID == conn.UserID {
				remaining++
			}
		}
		if remaining == 0 {
			g.online[conn.UserID] = false
		}
	}
	cp := *conn
	return &cp, remaining, true
}

func (g *stubGateway) JoinRoom(connID, roomID string) error  { return nil }
func (g *stubGateway) LeaveRoom(connID, roomID string) error { return nil }
func (g *stubGateway) TouchHeartbeat(connID string)          {}

func (g *stubGateway) Get(connID string) (*entity.Connection, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn, ok := g.conns[connID]
	if !ok {
		return nil, false
	}
	cp := *conn
	return &cp, true
}

// stubQueuedRepo 内存离线消息仓储，可注入失败
type stubQueuedRepo struct {
	mu        sync.Mutex
	saved     map[string]*entity.QueuedMessage
	delivered []string
	failed    []string
	failSave  bool
}

func newStubQueuedRepo() *stubQueuedRepo {
	return &stubQueuedRepo{saved: make(map[string]*entity.QueuedMessage)}
}

func (r *stubQueuedRepo) Save(ctx context.Context, msg *entity.QueuedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		return errors.New("store unavailable")
	}
	cp := *msg
	r.saved[msg.ID] = &cp
	return nil
}

func (r *stubQueuedRepo) LoadPending(ctx context.Context, userID string, limit int) ([]*entity.QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var msgs []*entity.QueuedMessage
	for _, m := range r.saved {
		if m.Status != entity.QueueStatusPending {
			continue
		}
		if userID != "" && m.UserID != userID {
			continue
		}
		cp := *m
		msgs = append(msgs, &cp)
	}
	return msgs, nil
}

func (r *stubQueuedRepo) UpdateRetry(ctx context.Context, id string, retryCount int, nextRetryAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.saved[id]; ok {
		m.RetryCount = retryCount
	}
	return nil
}

func (r *stubQueuedRepo) MarkDelivered(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, id)
	if m, ok := r.saved[id]; ok {
		m.Status = entity.QueueStatusDelivered
	}
	return nil
}

func (r *stubQueuedRepo) MarkFailed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	if m, ok := r.saved[id]; ok {
		m.Status = entity.QueueStatusFailed
	}
	return nil
}

func (r *stubQueuedRepo) DeleteFinished(ctx context.Context, before int64) (int64, error) {
	return 0, nil
}

// stubDeviceRepo 内存设备会话仓储
type stubDeviceRepo struct {
	mu       sync.Mutex
	sessions map[string]*entity.DeviceSession // userID+deviceID
}

func newStubDeviceRepo() *stubDeviceRepo {
	return &stubDeviceRepo{sessions: make(map[string]*entity.DeviceSession)}
}

func (r *stubDeviceRepo) Upsert(ctx context.Context, s *entity.DeviceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.UserID+"/"+s.DeviceID] = &cp
	return nil
}

func (r *stubDeviceRepo) DeactivateByConn(ctx context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.ConnectionID == connID {
			s.Active = false
			s.ConnectionID = ""
		}
	}
	return nil
}

func (r *stubDeviceRepo) ActiveByUser(ctx context.Context, userID string) ([]*entity.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sessions []*entity.DeviceSession
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active {
			cp := *s
			sessions = append(sessions, &cp)
		}
	}
	return sessions, nil
}

func (r *stubDeviceRepo) UsersWithActiveDevices(ctx context.Context, min int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, s := range r.sessions {
		if s.Active {
			counts[s.UserID]++
		}
	}
	var users []string
	for userID, n := range counts {
		if n >= min {
			users = append(users, userID)
		}
	}
	return users, nil
}

func (r *stubDeviceRepo) TouchSync(ctx context.Context, userID, deviceID string, at int64) error {
	return nil
}

// stubChat 固定成员关系的 CRUD 协作方
type stubChat struct {
	mu           sync.Mutex
	participants map[string][]string // roomID -> userIDs
	persisted    []string
	nextMsgID    string
}

func newStubChat() *stubChat {
	return &stubChat{participants: make(map[string][]string), nextMsgID: "msg-1"}
}

func (c *stubChat) IsParticipant(ctx context.Context, userID, roomID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.participants[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (c *stubChat) PersistMessage(ctx context.Context, senderID, roomID, content string) (string, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted = append(c.persisted, content)
	return c.nextMsgID, c.participants[roomID], nil
}

func (c *stubChat) MarkRead(ctx context.Context, userID, messageID string) error      { return nil }
func (c *stubChat) MarkDelivered(ctx context.Context, userID, messageID string) error { return nil }

func (c *stubChat) UnreadCount(ctx context.Context, userID, roomID string) (int, error) {
	return 0, nil
}

func (c *stubChat) RecentPreviews(ctx context.Context, userID string, limit int) ([]*out.RoomPreview, error) {
	return nil, nil
}

// stubVerifier token 即用户ID，"bad" 开头一律拒绝
type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, token string) (*entity.User, error) {
	if token == "" || len(token) >= 3 && token[:3] == "bad" {
		return nil, out.ErrTokenInvalid
	}
	return &entity.User{ID: token, Username: "user-" + token}, nil
}

// stubPresence 记录镜像调用
type stubPresence struct {
	mu        sync.Mutex
	online    map[string]bool
	refreshed []string // userID/deviceID
	setErr    error
}

func newStubPresence() *stubPresence {
	return &stubPresence{online: make(map[string]bool)}
}

func (p *stubPresence) SetOnline(ctx context.Context, userID, deviceID, serverAddr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return p.setErr
	}
	p.online[userID] = true
	return nil
}

func (p *stubPresence) SetOffline(ctx context.Context, userID, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = false
	return nil
}

func (p *stubPresence) Refresh(ctx context.Context, userID, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed = append(p.refreshed, userID+"/"+deviceID)
	return nil
}

func (p *stubPresence) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refreshed)
}

func (p *stubPresence) isOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}
