package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// ChatServiceHTTP CRUD 层的 REST 客户端，实现 out.ChatService
// 实时核心不直连业务库，消息与成员关系全部经由 CRUD 服务
type ChatServiceHTTP struct {
	baseURL string
	client  *http.Client
}

// NewChatServiceHTTP 创建 CRUD 服务客户端
func NewChatServiceHTTP(baseURL string, timeout time.Duration) out.ChatService {
	return &ChatServiceHTTP{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *ChatServiceHTTP) IsParticipant(ctx context.Context, userID, roomID string) (bool, error) {
	var resp struct {
		IsParticipant bool `json:"is_participant"`
	}
	path := fmt.Sprintf("/internal/rooms/%s/participants/%s", roomID, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.IsParticipant, nil
}

func (c *ChatServiceHTTP) PersistMessage(ctx context.Context, senderID, roomID, content string) (string, []string, error) {
	req := map[string]string{
		"sender_id":    senderID,
		"chat_room_id": roomID,
		"content":      content,
	}
	var resp struct {
		MessageID      string   `json:"message_id"`
		ParticipantIDs []string `json:"participant_ids"`
	}
	if err := c.do(ctx, http.MethodPost, "/internal/messages", req, &resp); err != nil {
		return "", nil, err
	}
	return resp.MessageID, resp.ParticipantIDs, nil
}

func (c *ChatServiceHTTP) MarkRead(ctx context.Context, userID, messageID string) error {
	req := map[string]string{"user_id": userID}
	path := fmt.Sprintf("/internal/messages/%s/read", messageID)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

func (c *ChatServiceHTTP) MarkDelivered(ctx context.Context, userID, messageID string) error {
	req := map[string]string{"user_id": userID}
	path := fmt.Sprintf("/internal/messages/%s/delivered", messageID)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

func (c *ChatServiceHTTP) UnreadCount(ctx context.Context, userID, roomID string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	path := fmt.Sprintf("/internal/users/%s/unread", userID)
	if roomID != "" {
		path += "?chat_room_id=" + roomID
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *ChatServiceHTTP) RecentPreviews(ctx context.Context, userID string, limit int) ([]*out.RoomPreview, error) {
	var resp struct {
		Previews []*out.RoomPreview `json:"previews"`
	}
	path := fmt.Sprintf("/internal/users/%s/previews?limit=%d", userID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Previews, nil
}

func (c *ChatServiceHTTP) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body *bytes.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat service returned %d for %s %s", resp.StatusCode, method, path)
	}
	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}
