package job

import (
	"context"
	"errors"
	"fmt"

	"envoearn/internal/config"
	"envoearn/internal/model"
	"envoearn/internal/service"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// EarningsRunner 每日收益发放，service.EarningsService 实现了它
type EarningsRunner interface {
	RunDailyEarnings(ctx context.Context, runDate string) (*model.EarningRun, error)
}

// EarningsScheduler 按 business.earnings_cron 在业务时区触发每日收益
// 同一天重复触发由批次表和分布式锁挡住，这里只负责按时调用
type EarningsScheduler struct {
	runner EarningsRunner
	cfg    *config.Config
	cron   *cron.Cron
}

func NewEarningsScheduler(runner EarningsRunner, cfg *config.Config) *EarningsScheduler {
	return &EarningsScheduler{
		runner: runner,
		cfg:    cfg,
		cron:   cron.New(cron.WithLocation(cfg.Business.Location())),
	}
}

// Start 注册定时任务并启动，cron 表达式不合法时返回错误
func (s *EarningsScheduler) Start(ctx context.Context) error {
	spec := s.cfg.Business.EarningsCron
	if spec == "" {
		log.Println("[EarningsScheduler] 未配置 earnings_cron，定时发放关闭")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("earnings_cron 不合法: %w", err)
	}
	s.cron.Start()
	log.Printf("[EarningsScheduler] 每日收益定时任务启动: cron=%q, tz=%s", spec, s.cfg.Business.Timezone)
	return nil
}

// Stop 停止调度并等待正在执行的批次结束
func (s *EarningsScheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[EarningsScheduler] 任务停止")
}

func (s *EarningsScheduler) runOnce(ctx context.Context) {
	run, err := s.runner.RunDailyEarnings(ctx, "")
	switch {
	case err == nil:
		log.Printf("[EarningsScheduler] 定时发放完成: date=%s, users=%d", run.RunDate, run.CreditedUsers)
	case errors.Is(err, service.ErrRunAlreadyProcessed), errors.Is(err, service.ErrRunInProgress):
		log.Printf("[EarningsScheduler] 跳过: %v", err)
	default:
		log.WithError(err).Error("[EarningsScheduler] 定时发放失败")
	}
}
