package job

import (
	"context"
	"time"

	"envoearn/internal/config"
	"envoearn/internal/infrastructure/metrics"
	"envoearn/internal/model"
	"envoearn/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher 消息投递，mq.Producer 实现了它
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender 把本地消息表里的行变更事件投递到 Kafka
type OutboxSender struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int

	backlogInterval time.Duration
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,

		backlogInterval: 15 * time.Second,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	backlogTicker := time.NewTicker(s.backlogInterval)
	defer backlogTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		case <-backlogTicker.C:
			s.reportBacklog(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 返回本轮投递成功的条数
// 同一个 key 前一条失败时，本轮跳过它后面的消息，保证同一行的事件按序到达
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return 0
	}

	if len(messages) == 0 {
		return 0
	}

	sent := 0
	blocked := make(map[string]bool)
	for _, msg := range messages {
		if blocked[msg.MessageKey] {
			continue
		}
		if s.sendMessage(ctx, msg) {
			sent++
		} else {
			blocked[msg.MessageKey] = true
		}
	}
	return sent
}

// reportBacklog 统计 PENDING / FAILED 积压并写入指标
func (s *OutboxSender) reportBacklog(ctx context.Context) map[string]int64 {
	backlog := make(map[string]int64, 2)
	for _, status := range []string{model.OutboxStatusPending, model.OutboxStatusFailed} {
		n, err := s.outboxRepo.CountByStatus(ctx, status)
		if err != nil {
			log.Printf("[OutboxSender] 统计积压失败: status=%s, err=%v", status, err)
			continue
		}
		backlog[status] = n
		metrics.SetOutboxBacklog(status, n)
	}
	return backlog
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		} else {
			log.Debugf("[OutboxSender] 消息发送成功: id=%d, topic=%s, key=%s", msg.ID, msg.Topic, msg.MessageKey)
		}
		metrics.IncOutboxRelayed("sent")
		return true
	}

	log.Printf("[OutboxSender] 消息发送失败: id=%d, err=%v", msg.ID, err)
	metrics.IncOutboxRelayed("retry")

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[OutboxSender] 增加重试次数失败: id=%d, err=%v", msg.ID, err)
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 标记消息失败状态失败: id=%d, err=%v", msg.ID, err)
		} else {
			metrics.IncOutboxRelayed("failed")
			log.Printf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
	}
	return false
}
