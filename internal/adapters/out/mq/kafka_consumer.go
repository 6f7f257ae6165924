package mq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/ports/in"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

const (
	TopicMessageNew = "im.message.new"

	// 拉取失败后的重试间隔，broker 不可用时避免空转
	fetchRetryDelay = time.Second
)

// messageReader 抽象 kafka.Reader，测试可注入
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageNewEvent CRUD 层发出的新消息事件
type messageNewEvent struct {
	MessageID   string   `json:"message_id"`
	ChatRoomID  string   `json:"chat_room_id"`
	SenderID    string   `json:"sender_id"`
	ReceiverIDs []string `json:"receiver_ids"`
	Content     string   `json:"content"`
	SentAt      string   `json:"sent_at"`
}

// KafkaMessageConsumer 消费 CRUD 层的消息事件并触发实时投递
// 手动提交位点：投递入口本身不抛硬错误，处理完即提交
type KafkaMessageConsumer struct {
	reader     messageReader
	delivery   in.DeliveryUseCase
	retryDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaMessageConsumer 创建消费者
func NewKafkaMessageConsumer(brokers []string, groupID string, delivery in.DeliveryUseCase) out.MessageConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          TopicMessageNew,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // 手动提交
		StartOffset:    kafka.LastOffset,
		MaxWait:        time.Second,
	})
	return &KafkaMessageConsumer{reader: reader, delivery: delivery, retryDelay: fetchRetryDelay}
}

// Start 启动消费
func (c *KafkaMessageConsumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				zap.L().Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.retryDelay):
				}
				continue
			}

			c.handleMessage(ctx, msg.Value)

			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				zap.L().Warn("kafka commit failed", zap.Error(err))
			}
		}
	}()

	zap.L().Info("kafka consumer started",
		zap.String("topic", TopicMessageNew))
	return nil
}

// Stop 停止消费并关闭 reader
func (c *KafkaMessageConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *KafkaMessageConsumer) handleMessage(ctx context.Context, data []byte) {
	var event messageNewEvent
	if err := json.Unmarshal(data, &event); err != nil {
		zap.L().Warn("malformed message event", zap.Error(err))
		return
	}

	frame, err := json.Marshal(map[string]any{
		"type": "message",
		"data": map[string]any{
			"message_id":   event.MessageID,
			"chat_room_id": event.ChatRoomID,
			"sender_id":    event.SenderID,
			"content":      event.Content,
			"sent_at":      event.SentAt,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	for _, userID := range event.ReceiverIDs {
		if userID == event.SenderID {
			continue
		}
		if err := c.delivery.Deliver(ctx, userID, frame); err != nil {
			zap.L().Warn("deliver from kafka failed",
				zap.String("userID", userID),
				zap.String("messageID", event.MessageID),
				zap.Error(err))
		}
	}
}
