package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/in"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// Pong等待时间
	pongWait = 60 * time.Second
	// 最大消息大小
	maxMessageSize = 64 * 1024
)

// UseCases 帧分发需要的全部入站用例
type UseCases struct {
	Connection in.ConnectionUseCase
	Message    in.MessageUseCase
	Delivery   in.DeliveryUseCase
	Device     in.DeviceUseCase
}

// wsConn 一条 WebSocket 连接，实现 out.Conn
// 数据帧全部经由 send 缓冲串行化到 writePump；Ping/Close 只发控制帧
// （WriteControl 可与 writePump 并发），保证底层连接始终只有一个数据帧写者
type wsConn struct {
	id   string
	conn *websocket.Conn
	uc   UseCases
	cfg  config.Config

	send   chan []byte
	done   chan struct{} // Close 时关闭，通知 writePump 退出
	closed int32

	mu          sync.Mutex
	userID      string // 认证成功后由 readPump 写入
	closeCode   int    // 服务端主动关闭时记录，用于断开清理
	closeReason string
}

func newWSConn(id string, conn *websocket.Conn, uc UseCases, cfg config.Config) *wsConn {
	return &wsConn{
		id:   id,
		conn: conn,
		uc:   uc,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

// Send 把一帧塞进发送缓冲，缓冲满或已关闭返回错误
// send 通道从不 close，和并发的 Close 赛跑最多把帧留在缓冲里丢弃
func (c *wsConn) Send(frame []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return fmt.Errorf("connection closed")
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Ping 发送一个探测控制帧，WriteControl 允许和 writePump 并发
func (c *wsConn) Ping() error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return fmt.Errorf("connection closed")
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close 以指定关闭码关闭底层传输，幂等
// 关闭帧走 WriteControl，避免和 writePump 的数据帧写并发冲突
func (c *wsConn) Close(code int, reason string) error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.mu.Lock()
	c.closeCode = code
	c.closeReason = reason
	c.mu.Unlock()

	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	close(c.done)
	return c.conn.Close()
}

func (c *wsConn) currentUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// readPump 读取并分发入站帧，退出时触发统一断开清理
func (c *wsConn) readPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		// Pong 同时作为健康探测应答
		c.uc.Connection.Heartbeat(context.Background(), c.id)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				zap.L().Warn("WebSocket read error",
					zap.String("connID", c.id), zap.Error(err))
			}
			c.recordPeerClose(err)
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(message)
	}
}

// writePump 把发送缓冲串行写入底层连接，是数据帧的唯一写者
func (c *wsConn) writePump() {
	defer c.Close(entity.CloseGoingAway, "write pump stopped")

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				zap.L().Warn("WebSocket write error",
					zap.String("connID", c.id), zap.Error(err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// recordPeerClose 对端关闭时从关闭帧提取关闭码
func (c *wsConn) recordPeerClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode != 0 {
		return
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.closeCode = ce.Code
		c.closeReason = ce.Text
		return
	}
	c.closeCode = websocket.CloseAbnormalClosure
	c.closeReason = "abnormal closure"
}

func (c *wsConn) cleanup() {
	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()
	if code == 0 {
		code = websocket.CloseAbnormalClosure
	}

	c.Close(code, reason)
	c.uc.Connection.Disconnected(context.Background(), c.id, code, reason)
}

func (c *wsConn) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError(frame.MessageID, "invalid frame format")
		return
	}

	ctx := context.Background()

	switch frame.Type {
	case frameAuthenticate:
		c.handleAuthenticate(ctx, frame)
		return
	case frameHeartbeat:
		c.uc.Connection.Heartbeat(ctx, c.id)
		c.reply(frameHeartbeatAck, nil, frame.MessageID)
		return
	}

	// 认证窗口内只放行 authenticate 和 heartbeat
	userID := c.currentUser()
	if userID == "" {
		c.sendError(frame.MessageID, "not authenticated")
		return
	}

	switch frame.Type {
	case frameRegisterDevice:
		c.handleRegisterDevice(ctx, userID, frame)
	case frameJoinRoom:
		c.handleJoinRoom(ctx, userID, frame)
	case frameLeaveRoom:
		c.handleLeaveRoom(ctx, frame)
	case frameMessage:
		c.handleMessage(ctx, userID, frame)
	case frameTypingStart, frameTypingStop:
		c.handleTyping(ctx, userID, frame, frame.Type == frameTypingStart)
	case frameMessageRead:
		c.handleReceipt(ctx, userID, frame, c.uc.Message.MarkRead)
	case frameMessageDeliv:
		c.handleReceipt(ctx, userID, frame, c.uc.Message.MarkDelivered)
	case frameGetUnreadCount:
		c.handleUnreadCount(ctx, userID, frame)
	case frameSyncDevices:
		if err := c.uc.Device.Synchronize(ctx, userID); err != nil {
			c.sendError(frame.MessageID, err.Error())
		}
	case frameStatusRequest:
		c.handleStatus(ctx, frame)
	case frameRetryQueued:
		c.handleRetryQueued(ctx, userID, frame)
	default:
		c.sendError(frame.MessageID, "unknown frame type")
	}
}

func (c *wsConn) handleAuthenticate(ctx context.Context, frame Frame) {
	var data authData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		c.sendError(frame.MessageID, "invalid authenticate data")
		return
	}

	user, err := c.uc.Connection.Authenticate(ctx, c.id, data.Token)
	if err != nil {
		c.sendError(frame.MessageID, err.Error())
		// 留出把错误帧刷出去的时间再关闭
		time.AfterFunc(c.cfg.AuthFailGrace, func() {
			c.Close(entity.CloseAuthFailed, "authentication failed")
		})
		return
	}

	c.mu.Lock()
	c.userID = user.ID
	c.mu.Unlock()

	c.reply(frameAuthSuccess, map[string]any{
		"userId":   user.ID,
		"username": user.Username,
	}, frame.MessageID)
}

func (c *wsConn) handleRegisterDevice(ctx context.Context, userID string, frame Frame) {
	var data registerDeviceData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.DeviceID == "" {
		c.sendError(frame.MessageID, "invalid register_device data")
		return
	}

	if err := c.uc.Device.RegisterDevice(ctx, userID, data.DeviceID, c.id, data.Platform); err != nil {
		c.sendError(frame.MessageID, err.Error())
		return
	}
	c.reply(frameDeviceRegistered, map[string]any{
		"deviceId": data.DeviceID,
	}, frame.MessageID)
}

func (c *wsConn) handleJoinRoom(ctx context.Context, userID string, frame Frame) {
	var data roomData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.ChatRoomID == "" {
		c.sendError(frame.MessageID, "invalid join_room data")
		return
	}

	if err := c.uc.Message.JoinRoom(ctx, c.id, userID, data.ChatRoomID); err != nil {
		c.sendError(frame.MessageID, err.Error())
		return
	}
	c.reply(frameRoomJoined, map[string]any{
		"chatRoomId": data.ChatRoomID,
	}, frame.MessageID)
}

func (c *wsConn) handleLeaveRoom(ctx context.Context, frame Frame) {
	var data roomData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.ChatRoomID == "" {
		c.sendError(frame.MessageID, "invalid leave_room data")
		return
	}

	if err := c.uc.Message.LeaveRoom(ctx, c.id, data.ChatRoomID); err != nil {
		c.sendError(frame.MessageID, err.Error())
		return
	}
	c.reply(frameRoomLeft, map[string]any{
		"chatRoomId": data.ChatRoomID,
	}, frame.MessageID)
}

func (c *wsConn) handleMessage(ctx context.Context, userID string, frame Frame) {
	var data messageData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.ChatRoomID == "" || data.Content == "" {
		c.sendError(frame.MessageID, "invalid message data")
		return
	}

	messageID, err := c.uc.Message.Send(ctx, c.id, userID, data.ChatRoomID, data.Content)
	if err != nil {
		c.sendError(frame.MessageID, err.Error())
		return
	}
	c.reply(frameMessageSent, map[string]any{
		"messageId":  messageID,
		"chatRoomId": data.ChatRoomID,
	}, frame.MessageID)
}

func (c *wsConn) handleTyping(ctx context.Context, userID string, frame Frame, typing bool) {
	var data typingData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.ChatRoomID == "" {
		c.sendError(frame.MessageID, "invalid typing data")
		return
	}
	// 纯状态扇出，没有回执
	_ = c.uc.Message.Typing(ctx, c.id, userID, data.ChatRoomID, typing)
}

func (c *wsConn) handleReceipt(ctx context.Context, userID string, frame Frame,
	mark func(ctx context.Context, userID, messageID string) error) {
	var data receiptData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.MessageID == "" {
		c.sendError(frame.MessageID, "invalid receipt data")
		return
	}
	if err := mark(ctx, userID, data.MessageID); err != nil {
		c.sendError(frame.MessageID, err.Error())
	}
}

func (c *wsConn) handleUnreadCount(ctx context.Context, userID string, frame Frame) {
	var data unreadCountData
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.sendError(frame.MessageID, "invalid unread_count data")
			return
		}
	}

	count, err := c.uc.Message.UnreadCount(ctx, userID, data.ChatRoomID)
	if err != nil {
		c.sendError(frame.MessageID, err.Error())
		return
	}
	c.reply(frameUnreadCountResp, map[string]any{
		"chatRoomId": data.ChatRoomID,
		"count":      count,
	}, frame.MessageID)
}

func (c *wsConn) handleStatus(ctx context.Context, frame Frame) {
	status, err := c.uc.Connection.Status(ctx, c.id)
	if err != nil {
		c.sendError(frame.MessageID, err.Error())
		return
	}
	c.reply(frameStatusResp, status, frame.MessageID)
}

func (c *wsConn) handleRetryQueued(ctx context.Context, userID string, frame Frame) {
	var data retryQueuedData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.QueuedMessageID == "" {
		c.sendError(frame.MessageID, "invalid retry_queued_message data")
		return
	}
	if err := c.uc.Delivery.Retry(ctx, userID, data.QueuedMessageID); err != nil {
		c.sendError(frame.MessageID, err.Error())
	}
}

// reply 构造出站帧并经发送缓冲写出
func (c *wsConn) reply(typ string, data any, msgID string) {
	frame := Frame{
		Type:      typ,
		Timestamp: time.Now().Format(time.RFC3339),
		MessageID: msgID,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return
		}
		frame.Data = raw
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := c.Send(b); err != nil {
		zap.L().Warn("reply dropped",
			zap.String("connID", c.id),
			zap.String("type", typ),
			zap.Error(err))
	}
}

func (c *wsConn) sendError(msgID, errMsg string) {
	c.reply(frameError, map[string]string{"error": errMsg}, msgID)
}
