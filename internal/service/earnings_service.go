package service

import (
	"context"
	"fmt"
	"time"

	"envoearn/internal/config"
	"envoearn/internal/infrastructure/lock"
	"envoearn/internal/infrastructure/metrics"
	"envoearn/internal/model"
	"envoearn/internal/repository"
	"envoearn/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ============================================================================
// 每日收益
// ============================================================================
//
// 【问题】逐个用户 更新余额 + 写流水，中途失败一部分人到账一部分没到账；
//        重跑又没有幂等标记，先到账的人会被再发一次。
//
// 【处理方式】
//   1. 按业务日期加分布式锁，定时任务和手动触发不会同时跑同一天
//   2. earning_runs.run_date 唯一，已完成的日期直接返回 ErrRunAlreadyProcessed
//   3. 同一事务内：写批次 -> 每个套餐一条 UPDATE ... WHERE id IN -> 批量写流水 -> 批次置为完成
//      任何一步失败整体回滚，当天可以安全重跑
//   4. 每条流水带幂等键 daily:<日期>:<用户>，唯一索引再兜一层
//
// ============================================================================

const creditChunkSize = 500

type EarningsService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	profileRepo  *repository.ProfileRepository
	earningsRepo *repository.EarningsRepository
	runRepo      *repository.EarningRunRepository
	changes      changeRecorder
}

func NewEarningsService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *EarningsService {
	return &EarningsService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		profileRepo:  repository.NewProfileRepository(db),
		earningsRepo: repository.NewEarningsRepository(db),
		runRepo:      repository.NewEarningRunRepository(db),
		changes:      newChangeRecorder(db, cfg.Kafka.Topic.RowChanges),
	}
}

// BusinessDate 业务时区下的日期
func (s *EarningsService) BusinessDate(now time.Time) string {
	return now.In(s.cfg.Business.Location()).Format(time.DateOnly)
}

// RunDailyEarnings 发放指定日期的每日收益，runDate 为空时取业务时区的今天
func (s *EarningsService) RunDailyEarnings(ctx context.Context, runDate string) (*model.EarningRun, error) {
	if runDate == "" {
		runDate = s.BusinessDate(time.Now())
	}
	if _, err := time.Parse(time.DateOnly, runDate); err != nil {
		return nil, ErrInvalidRunDate
	}

	runLock := lock.NewEarningsRunLock(s.redisClient, runDate, uuid.NewString())
	ok, err := runLock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取收益批次锁失败: %w", err)
	}
	if !ok {
		metrics.IncEarningRun("locked")
		return nil, ErrRunInProgress
	}
	defer runLock.Unlock(ctx)

	existing, err := s.runRepo.GetByDate(ctx, nil, runDate)
	if err != nil {
		return nil, fmt.Errorf("查询收益批次失败: %w", err)
	}
	if existing != nil && existing.Status == model.EarningRunStatusCompleted {
		metrics.IncEarningRun("skipped")
		log.Printf("[Earnings] 日期已发放，跳过: date=%s, runNo=%s", runDate, existing.RunNo)
		return existing, ErrRunAlreadyProcessed
	}

	run := &model.EarningRun{
		RunNo:   idgen.GenerateRunNo(),
		RunDate: runDate,
		Status:  model.EarningRunStatusRunning,
	}

	var creditedUsers int
	var creditedAmount int64

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.runRepo.DeleteStale(ctx, tx, runDate); err != nil {
			return fmt.Errorf("清理未完成批次失败: %w", err)
		}
		if err := s.runRepo.Create(ctx, tx, run); err != nil {
			return fmt.Errorf("创建收益批次失败: %w", err)
		}

		byPlan, err := s.profileRepo.ListActiveIDsByPlan(ctx, tx)
		if err != nil {
			return fmt.Errorf("查询活跃用户失败: %w", err)
		}

		for _, plan := range model.Plans {
			amount := s.cfg.Business.DailyEarning(plan)
			if amount <= 0 {
				continue
			}
			ids := byPlan[plan]
			for start := 0; start < len(ids); start += creditChunkSize {
				end := min(start+creditChunkSize, len(ids))
				n, err := s.creditChunk(ctx, tx, runDate, ids[start:end], amount)
				if err != nil {
					return fmt.Errorf("发放 %s 套餐收益失败: %w", plan, err)
				}
				creditedUsers += n
				creditedAmount += int64(n) * amount
			}
		}

		if err := s.runRepo.MarkCompleted(ctx, tx, run.ID, creditedUsers, creditedAmount); err != nil {
			return fmt.Errorf("更新收益批次失败: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.IncEarningRun("failed")
		log.Printf("[Earnings] 收益发放失败，已回滚: date=%s, err=%v", runDate, err)
		return nil, err
	}

	now := time.Now()
	run.Status = model.EarningRunStatusCompleted
	run.CreditedUsers = creditedUsers
	run.CreditedAmount = creditedAmount
	run.FinishedAt = &now

	metrics.IncEarningRun("completed")
	metrics.AddEarnings(model.EarningTypeDaily, creditedAmount)
	log.Printf("[Earnings] 收益发放完成: date=%s, runNo=%s, users=%d, amount=%d",
		runDate, run.RunNo, creditedUsers, creditedAmount)
	return run, nil
}

// creditChunk 一批用户：剔除已入账的 -> 一条 UPDATE 加余额 -> 批量写流水
func (s *EarningsService) creditChunk(ctx context.Context, tx *gorm.DB, runDate string, ids []string, amount int64) (int, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = model.DailyEarningKey(runDate, id)
	}
	credited, err := s.earningsRepo.ExistingKeys(ctx, tx, keys)
	if err != nil {
		return 0, err
	}

	pending := make([]string, 0, len(ids))
	entries := make([]*model.EarningsHistory, 0, len(ids))
	for i, id := range ids {
		if credited[keys[i]] {
			continue
		}
		key := keys[i]
		pending = append(pending, id)
		entries = append(entries, &model.EarningsHistory{
			UserID:         id,
			Type:           model.EarningTypeDaily,
			Amount:         amount,
			IdempotencyKey: &key,
		})
	}
	if len(pending) == 0 {
		return 0, nil
	}

	updated, err := s.profileRepo.IncreaseBatch(ctx, tx, pending, amount)
	if err != nil {
		return 0, err
	}
	inserted, err := s.earningsRepo.CreateBatch(ctx, tx, entries)
	if err != nil {
		return 0, err
	}
	// 余额和流水条数对不上说明有并发写入，回滚整批
	if updated != int64(len(pending)) || inserted != int64(len(entries)) {
		return 0, fmt.Errorf("%w: 入账 %d 行，流水 %d 行，预期 %d", ErrConcurrentUpdate, updated, inserted, len(pending))
	}

	for _, entry := range entries {
		if err := s.changes.record(ctx, tx, TableEarningsHistory, model.ChangeActionInsert, entry.ID, entry.UserID, entry); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}
