package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/backoff"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/in"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// DeliveryQueueImpl 离线投递队列实现
// 持久化仓储保证跨进程重启不丢，内存索引保证低延迟调度，两边保持一致：
// 每次变更先落库（失败进入降级模式），内存索引重建自未耗尽的持久化记录
type DeliveryQueueImpl struct {
	repo    out.QueuedMessageRepository
	gateway out.ConnectionGateway
	cfg     config.Config

	mu     sync.Mutex
	queues map[string][]*entity.QueuedMessage // userID -> 按入队顺序

	degraded atomic.Bool // 持久化不可用，仅内存兜底

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeliveryQueue 创建离线投递队列
func NewDeliveryQueue(repo out.QueuedMessageRepository, gateway out.ConnectionGateway, cfg config.Config) in.DeliveryUseCase {
	return &DeliveryQueueImpl{
		repo:    repo,
		gateway: gateway,
		cfg:     cfg,
		queues:  make(map[string][]*entity.QueuedMessage),
	}
}

// Deliver 在线直接扇出，任何投递失败都转入队列，不向调用方抛硬错误
func (q *DeliveryQueueImpl) Deliver(ctx context.Context, userID string, payload []byte) error {
	if err := q.gateway.Send(userID, payload); err != nil {
		if _, enqErr := q.Enqueue(ctx, userID, payload); enqErr != nil {
			return enqErr
		}
	}
	return nil
}

// Enqueue 持久化并写入内存索引，返回队列ID
// 落库失败只降级不拒绝：内存队列照常工作，持久性受损通过 Stats 暴露
func (q *DeliveryQueueImpl) Enqueue(ctx context.Context, userID string, payload []byte) (string, error) {
	now := time.Now()
	msg := &entity.QueuedMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		Payload:     string(payload),
		Status:      entity.QueueStatusPending,
		RetryCount:  0,
		MaxRetries:  q.cfg.RetryMax,
		NextRetryAt: now,
		EnqueuedAt:  now,
	}

	cctx, cancel := context.WithTimeout(ctx, q.cfg.CollaboratorTimeout)
	defer cancel()
	if err := q.repo.Save(cctx, msg); err != nil {
		q.degraded.Store(true)
		zap.L().Error("queued message persist failed, running degraded",
			zap.String("userID", userID), zap.Error(err))
	} else {
		q.degraded.Store(false)
	}

	q.mu.Lock()
	q.queues[userID] = append(q.queues[userID], msg)
	q.mu.Unlock()

	zap.L().Info("message queued for offline delivery",
		zap.String("userID", userID),
		zap.String("queueID", msg.ID))
	return msg.ID, nil
}

// Drain 用户上线时按入队顺序补投全部待投递消息
func (q *DeliveryQueueImpl) Drain(ctx context.Context, userID string) error {
	q.mu.Lock()
	pending := make([]*entity.QueuedMessage, len(q.queues[userID]))
	copy(pending, q.queues[userID])
	q.mu.Unlock()

	for _, msg := range pending {
		q.attempt(ctx, msg)
	}
	return nil
}

// Retry 客户端主动重试某一条
func (q *DeliveryQueueImpl) Retry(ctx context.Context, userID, queueID string) error {
	q.mu.Lock()
	var target *entity.QueuedMessage
	for _, msg := range q.queues[userID] {
		if msg.ID == queueID {
			target = msg
			break
		}
	}
	q.mu.Unlock()

	if target == nil {
		return fmt.Errorf("queued message %s not found", queueID)
	}
	q.attempt(ctx, target)
	return nil
}

// RetrySweepOnce 执行一轮后台重投：到期且用户在线的条目按入队顺序重试
// 兜住瞬时失败，不依赖新的上线事件
func (q *DeliveryQueueImpl) RetrySweepOnce(ctx context.Context) {
	now := time.Now()

	q.mu.Lock()
	due := make([]*entity.QueuedMessage, 0)
	for userID, msgs := range q.queues {
		if !q.gateway.IsOnline(userID) {
			continue
		}
		for _, msg := range msgs {
			if !msg.NextRetryAt.After(now) {
				due = append(due, msg)
			}
		}
	}
	q.mu.Unlock()

	for _, msg := range due {
		q.attempt(ctx, msg)
	}
}

// attempt 投递一条排队消息：成功删除并通知，失败推进退避，耗尽删除并发终态通知
func (q *DeliveryQueueImpl) attempt(ctx context.Context, msg *entity.QueuedMessage) {
	err := q.gateway.Send(msg.UserID, []byte(msg.Payload))
	if err == nil {
		q.remove(msg.UserID, msg.ID)
		q.persist(ctx, func(cctx context.Context) error {
			return q.repo.MarkDelivered(cctx, msg.ID)
		})
		_ = q.gateway.Send(msg.UserID, outFrame("queued_message_retry_success", map[string]any{
			"queuedMessageId": msg.ID,
		}))
		return
	}

	q.mu.Lock()
	msg.RetryCount++
	retries := msg.RetryCount
	q.mu.Unlock()

	if retries >= msg.MaxRetries {
		q.remove(msg.UserID, msg.ID)
		q.persist(ctx, func(cctx context.Context) error {
			return q.repo.MarkFailed(cctx, msg.ID)
		})
		zap.L().Warn("queued message retries exhausted",
			zap.String("userID", msg.UserID),
			zap.String("queueID", msg.ID),
			zap.Int("retries", retries))
		// 终态通知发给收件人自己，发送方对投递失败无感知
		_ = q.gateway.Send(msg.UserID, outFrame("queued_message_failed", map[string]any{
			"queuedMessageId": msg.ID,
			"retries":         retries,
		}))
		return
	}

	q.mu.Lock()
	msg.NextRetryAt = time.Now().Add(backoff.Delay(q.cfg.RetryBackoff, q.cfg.RetryCap, retries))
	next := msg.NextRetryAt
	q.mu.Unlock()
	q.persist(ctx, func(cctx context.Context) error {
		return q.repo.UpdateRetry(cctx, msg.ID, retries, next.Unix())
	})
}

// remove 从内存索引移除一条
func (q *DeliveryQueueImpl) remove(userID, queueID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[userID]
	for i, m := range msgs {
		if m.ID == queueID {
			q.queues[userID] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	if len(q.queues[userID]) == 0 {
		delete(q.queues, userID)
	}
}

// persist 带超时落库，失败进入降级模式
func (q *DeliveryQueueImpl) persist(ctx context.Context, fn func(context.Context) error) {
	cctx, cancel := context.WithTimeout(ctx, q.cfg.CollaboratorTimeout)
	defer cancel()
	if err := fn(cctx); err != nil {
		q.degraded.Store(true)
		zap.L().Error("queue store update failed, running degraded", zap.Error(err))
		return
	}
	q.degraded.Store(false)
}

// QueuedCount 某用户的待投递条数
func (q *DeliveryQueueImpl) QueuedCount(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[userID])
}

// Stats 队列统计
func (q *DeliveryQueueImpl) Stats() entity.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := entity.QueueStats{
		UsersQueued:   len(q.queues),
		StoreDegraded: q.degraded.Load(),
	}
	for _, msgs := range q.queues {
		stats.Pending += len(msgs)
	}
	return stats
}

// Start 从持久化仓储重建内存索引，并启动后台重投调度
func (q *DeliveryQueueImpl) Start(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, q.cfg.CollaboratorTimeout)
	msgs, err := q.repo.LoadPending(cctx, "", 0)
	cancel()
	if err != nil {
		q.degraded.Store(true)
		zap.L().Error("rebuild queue index failed, starting degraded", zap.Error(err))
	} else {
		q.mu.Lock()
		q.queues = make(map[string][]*entity.QueuedMessage)
		for _, msg := range msgs {
			q.queues[msg.UserID] = append(q.queues[msg.UserID], msg)
		}
		q.mu.Unlock()
		zap.L().Info("queue index rebuilt", zap.Int("pending", len(msgs)))
	}

	sctx, scancel := context.WithCancel(ctx)
	q.cancel = scancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.RetrySweep)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				q.RetrySweepOnce(sctx)
			}
		}
	}()
	return nil
}

// Stop 停止后台调度
func (q *DeliveryQueueImpl) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}
