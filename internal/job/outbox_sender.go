package job

import (
	"context"
	"log/slog"
	"time"

	"campuspay/internal/infrastructure/metrics"
	"campuspay/internal/model"
	"campuspay/internal/repository"

	"gorm.io/gorm"
)

// Publisher 消息投递端，生产环境为 Kafka 生产者
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type OutboxOptions struct {
	Interval      time.Duration
	BatchSize     int
	MaxRetryCount int
}

// OutboxSender 轮询发件箱，把结算结果和收款账户变更投递到 Kafka
//
// 消息与账本变更在同一事务写入，这里只负责至少一次投递；消费方按 message_key 去重
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	metrics    *metrics.Metrics
	opts       OutboxOptions
	stopCh     chan struct{}
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, m *metrics.Metrics, opts OutboxOptions) *OutboxSender {
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxRetryCount <= 0 {
		opts.MaxRetryCount = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		metrics:    m,
		opts:       opts,
		stopCh:     make(chan struct{}),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	slog.Info("[OutboxSender] 消息发送任务启动", "interval", s.opts.Interval)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			slog.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce 投递一批待发送消息，返回成功条数
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.opts.BatchSize)
	if err != nil {
		slog.Error("[OutboxSender] 查询消息失败", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	s.metrics.OutboxPublished(err == nil)

	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			slog.Error("[OutboxSender] 更新消息状态失败", "id", msg.ID, "error", updateErr)
		} else {
			slog.Debug("[OutboxSender] 消息发送成功", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		}
		return true
	}

	slog.Warn("[OutboxSender] 消息发送失败", "id", msg.ID, "topic", msg.Topic, "error", err)

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		slog.Error("[OutboxSender] 增加重试次数失败", "id", msg.ID, "error", err)
	}

	if msg.RetryCount+1 >= s.opts.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			slog.Error("[OutboxSender] 标记消息失败状态失败", "id", msg.ID, "error", err)
		} else {
			slog.Error("[OutboxSender] 消息超过最大重试次数，标记为失败", "id", msg.ID, "retry_count", msg.RetryCount+1)
		}
	}
	return false
}
