package service

import (
	"context"
	"fmt"

	"envoearn/internal/model"
	"envoearn/internal/repository"

	"gorm.io/gorm"
)

// 推送给实时订阅方的表名
const (
	TableProfiles        = "profiles"
	TableInvestments     = "investments"
	TableWithdrawals     = "withdrawals"
	TableEarningsHistory = "earnings_history"
)

// changeRecorder 业务事务内写变更事件
type changeRecorder struct {
	outboxRepo *repository.OutboxRepository
	topic      string
}

func newChangeRecorder(db *gorm.DB, topic string) changeRecorder {
	return changeRecorder{outboxRepo: repository.NewOutboxRepository(db), topic: topic}
}

func (r changeRecorder) record(ctx context.Context, tx *gorm.DB, table, action string, id any, userID string, row any) error {
	event, err := model.NewChangeEvent(table, action, id, userID, row)
	if err != nil {
		return fmt.Errorf("构造变更事件失败: %w", err)
	}
	if err := r.outboxRepo.Enqueue(ctx, tx, r.topic, event); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
