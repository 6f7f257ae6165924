package ws

import "encoding/json"

// Frame 双工连接上的统一帧信封
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	MessageID string          `json:"messageId,omitempty"` // 客户端请求回执关联ID
}

// 客户端帧类型
const (
	frameAuthenticate   = "authenticate"
	frameHeartbeat      = "heartbeat"
	frameRegisterDevice = "register_device"
	frameJoinRoom       = "join_room"
	frameLeaveRoom      = "leave_room"
	frameMessage        = "message"
	frameTypingStart    = "typing_start"
	frameTypingStop     = "typing_stop"
	frameMessageRead    = "message_read"
	frameMessageDeliv   = "message_delivered"
	frameGetUnreadCount = "get_unread_count"
	frameSyncDevices    = "sync_devices"
	frameStatusRequest  = "connection_status_request"
	frameRetryQueued    = "retry_queued_message"
)

// 服务端帧类型
const (
	frameConnectionAck    = "connection_ack"
	frameAuthSuccess      = "auth_success"
	frameError            = "error"
	frameHeartbeatAck     = "heartbeat_ack"
	frameRoomJoined       = "room_joined"
	frameRoomLeft         = "room_left"
	frameMessageSent      = "message_sent"
	frameDeviceRegistered = "device_registered"
	frameUnreadCountResp  = "unread_count_response"
	frameStatusResp       = "connection_status_response"
)

type authData struct {
	Token string `json:"token"`
}

type registerDeviceData struct {
	DeviceID string `json:"deviceId"`
	Platform string `json:"platform"`
}

type roomData struct {
	ChatRoomID string `json:"chatRoomId"`
}

type messageData struct {
	ChatRoomID string `json:"chatRoomId"`
	Content    string `json:"content"`
}

type typingData struct {
	ChatRoomID string `json:"chatRoomId"`
}

type receiptData struct {
	MessageID string `json:"messageId"`
}

type unreadCountData struct {
	ChatRoomID string `json:"chatRoomId"`
}

type retryQueuedData struct {
	QueuedMessageID string `json:"queuedMessageId"`
}
