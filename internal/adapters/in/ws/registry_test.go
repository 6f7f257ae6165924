package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// fakeConn 测试用连接桩
type fakeConn struct {
	mu     sync.Mutex
	id     string
	frames [][]byte
	pings  int
	closed bool
	code   int
	reject bool // 模拟发送缓冲满
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reject {
		return errors.New("send failed")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.code = code
	return nil
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newTestRegistry() *Registry {
	cfg := config.Default()
	cfg.AuthWindow = time.Hour // 测试里手动控制认证超时
	return NewRegistry(cfg)
}

func register(r *Registry, connID string) *fakeConn {
	conn := &fakeConn{id: connID}
	r.Register(conn, entity.NewConnection(connID, "127.0.0.1:5000", "test"))
	return conn
}

// 认证前该用户不在线，认证后首连返回 true
func TestMarkAuthenticatedFirstConn(t *testing.T) {
	r := newTestRegistry()
	register(r, "c1")
	register(r, "c2")

	assert.False(t, r.IsOnline("u1"))

	first, err := r.MarkAuthenticated("c1", "u1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = r.MarkAuthenticated("c2", "u1")
	require.NoError(t, err)
	assert.False(t, first)

	assert.True(t, r.IsOnline("u1"))
	assert.ElementsMatch(t, []string{"c1", "c2"}, r.Connections("u1"))
}

// 重复认证同一连接是非法状态迁移
func TestMarkAuthenticatedTwiceFails(t *testing.T) {
	r := newTestRegistry()
	register(r, "c1")

	_, err := r.MarkAuthenticated("c1", "u1")
	require.NoError(t, err)
	_, err = r.MarkAuthenticated("c1", "u1")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
}

// 注销返回移除前快照与剩余连接数，最后一条移除后用户下线
func TestUnregisterTracksRemaining(t *testing.T) {
	r := newTestRegistry()
	register(r, "c1")
	register(r, "c2")
	_, _ = r.MarkAuthenticated("c1", "u1")
	_, _ = r.MarkAuthenticated("c2", "u1")

	conn, remaining, ok := r.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", conn.UserID)
	assert.Equal(t, 1, remaining)
	assert.True(t, r.IsOnline("u1"))

	_, remaining, ok = r.Unregister("c2")
	require.True(t, ok)
	assert.Equal(t, 0, remaining)
	assert.False(t, r.IsOnline("u1"))

	// 再注销是无操作
	_, _, ok = r.Unregister("c1")
	assert.False(t, ok)
}

// 无在线连接返回 ErrUserOffline，全部拒收也算失败
func TestSendFailureModes(t *testing.T) {
	r := newTestRegistry()
	conn := register(r, "c1")
	_, _ = r.MarkAuthenticated("c1", "u1")

	assert.ErrorIs(t, r.Send("ghost", []byte(`{}`)), out.ErrUserOffline)

	require.NoError(t, r.Send("u1", []byte(`{}`)))
	assert.Equal(t, 1, conn.frameCount())

	conn.mu.Lock()
	conn.reject = true
	conn.mu.Unlock()
	err := r.Send("u1", []byte(`{}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, out.ErrUserOffline, "连接在但拒收不等于离线")
}

// 多连接扇出：一条收下即算成功
func TestSendFansOutToAllConns(t *testing.T) {
	r := newTestRegistry()
	c1 := register(r, "c1")
	c2 := register(r, "c2")
	_, _ = r.MarkAuthenticated("c1", "u1")
	_, _ = r.MarkAuthenticated("c2", "u1")

	c1.mu.Lock()
	c1.reject = true
	c1.mu.Unlock()

	require.NoError(t, r.Send("u1", []byte(`{}`)))
	assert.Equal(t, 0, c1.frameCount())
	assert.Equal(t, 1, c2.frameCount())
}

// 一条连接同一时刻至多在一个房间，空房间立即回收
func TestJoinRoomSingleMembership(t *testing.T) {
	r := newTestRegistry()
	register(r, "c1")
	_, _ = r.MarkAuthenticated("c1", "u1")

	require.NoError(t, r.JoinRoom("c1", "r1"))
	assert.Equal(t, 1, r.Stats().Rooms)

	// 换房间自动退出旧房间，空房间回收
	require.NoError(t, r.JoinRoom("c1", "r2"))
	assert.Equal(t, 1, r.Stats().Rooms)

	require.NoError(t, r.LeaveRoom("c1", "r2"))
	assert.Equal(t, 0, r.Stats().Rooms)

	// 不在该房间时退出报错
	assert.Error(t, r.LeaveRoom("c1", "r1"))
}

// 房间扇出不回显给发送者的连接
func TestSendToRoomExcludesSender(t *testing.T) {
	r := newTestRegistry()
	c1 := register(r, "c1")
	c2 := register(r, "c2")
	_, _ = r.MarkAuthenticated("c1", "u1")
	_, _ = r.MarkAuthenticated("c2", "u2")
	require.NoError(t, r.JoinRoom("c1", "r1"))
	require.NoError(t, r.JoinRoom("c2", "r1"))

	sent := r.SendToRoom("r1", []byte(`{}`), "c1")
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, c1.frameCount())
	assert.Equal(t, 1, c2.frameCount())
}

// 广播只覆盖已认证连接
func TestBroadcastSkipsPendingConns(t *testing.T) {
	r := newTestRegistry()
	authed := register(r, "c1")
	pending := register(r, "c2")
	_, _ = r.MarkAuthenticated("c1", "u1")

	sent := r.Broadcast([]byte(`{}`))
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, authed.frameCount())
	assert.Equal(t, 0, pending.frameCount())
}

// 认证窗口超时：pending 连接被 4001 关闭
func TestAuthWindowTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.AuthWindow = 10 * time.Millisecond
	r := NewRegistry(cfg)

	conn := &fakeConn{id: "c1"}
	r.Register(conn, entity.NewConnection("c1", "127.0.0.1:5000", "test"))

	assert.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed && conn.code == entity.CloseAuthTimeout
	}, time.Second, 5*time.Millisecond)
}

// 认证成功后计时器停掉，不会误关
func TestAuthWindowCancelledAfterAuth(t *testing.T) {
	cfg := config.Default()
	cfg.AuthWindow = 20 * time.Millisecond
	r := NewRegistry(cfg)

	conn := &fakeConn{id: "c1"}
	r.Register(conn, entity.NewConnection("c1", "127.0.0.1:5000", "test"))
	_, err := r.MarkAuthenticated("c1", "u1")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.False(t, conn.closed)
}

// CloseUser 关闭该用户全部连接并返回数量
func TestCloseUser(t *testing.T) {
	r := newTestRegistry()
	c1 := register(r, "c1")
	c2 := register(r, "c2")
	_, _ = r.MarkAuthenticated("c1", "u1")
	_, _ = r.MarkAuthenticated("c2", "u1")

	closed := r.CloseUser("u1", entity.CloseForceReconnect, "rolling restart")
	assert.Equal(t, 2, closed)

	for _, conn := range []*fakeConn{c1, c2} {
		conn.mu.Lock()
		assert.True(t, conn.closed)
		assert.Equal(t, entity.CloseForceReconnect, conn.code)
		conn.mu.Unlock()
	}
}

// Stats 汇总连接、认证数与唯一用户数
func TestRegistryStats(t *testing.T) {
	r := newTestRegistry()
	register(r, "c1")
	register(r, "c2")
	register(r, "c3")
	_, _ = r.MarkAuthenticated("c1", "u1")
	_, _ = r.MarkAuthenticated("c2", "u1")

	stats := r.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Authenticated)
	assert.Equal(t, 1, stats.UniqueUsers)
}
