package service

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"envoearn/internal/infrastructure/lock"
	"envoearn/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runDate = "2026-03-01"

func TestRunDailyEarnings_CreditsByPlan(t *testing.T) {
	env := setupEnv(t)
	svc := NewEarningsService(env.db, env.rdb, env.cfg)

	createProfile(t, env, "free", model.PlanFree, 0)
	createProfile(t, env, "basic", model.PlanBasic, 0)
	createProfile(t, env, "standard", model.PlanStandard, 0)
	createProfile(t, env, "premium", model.PlanPremium, 50)
	createProfile(t, env, "blocked", model.PlanPremium, 0)
	require.NoError(t, env.db.Model(&model.Profile{}).Where("id = ?", "blocked").Update("status", model.ProfileStatusBlocked).Error)

	run, err := svc.RunDailyEarnings(context.Background(), runDate)
	require.NoError(t, err)
	assert.Equal(t, model.EarningRunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.CreditedUsers)
	assert.Equal(t, int64(950), run.CreditedAmount)

	assert.Zero(t, getProfile(t, env, "free").TotalEarnings)
	assert.Equal(t, int64(100), getProfile(t, env, "basic").TotalEarnings)
	assert.Equal(t, int64(250), getProfile(t, env, "standard").TotalEarnings)
	assert.Equal(t, int64(650), getProfile(t, env, "premium").TotalEarnings)
	assert.Zero(t, getProfile(t, env, "blocked").TotalEarnings)

	assert.Equal(t, int64(3), countRows(t, env, &model.EarningsHistory{}, "type = ?", model.EarningTypeDaily))
	assert.Equal(t, int64(1), countRows(t, env, &model.EarningsHistory{}, "idempotency_key = ?", model.DailyEarningKey(runDate, "basic")))

	var stored model.EarningRun
	require.NoError(t, env.db.Where("run_date = ?", runDate).First(&stored).Error)
	assert.Equal(t, model.EarningRunStatusCompleted, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
}

// 同一天跑两次只入账一次
func TestRunDailyEarnings_Idempotent(t *testing.T) {
	env := setupEnv(t)
	svc := NewEarningsService(env.db, env.rdb, env.cfg)
	ctx := context.Background()

	createProfile(t, env, "basic", model.PlanBasic, 0)

	_, err := svc.RunDailyEarnings(ctx, runDate)
	require.NoError(t, err)

	existing, err := svc.RunDailyEarnings(ctx, runDate)
	assert.ErrorIs(t, err, ErrRunAlreadyProcessed)
	require.NotNil(t, existing)
	assert.Equal(t, runDate, existing.RunDate)

	assert.Equal(t, int64(100), getProfile(t, env, "basic").TotalEarnings)
	assert.Equal(t, int64(1), countRows(t, env, &model.EarningsHistory{}, "type = ?", model.EarningTypeDaily))

	// 第二天照常发放
	_, err = svc.RunDailyEarnings(ctx, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, int64(200), getProfile(t, env, "basic").TotalEarnings)

	admin := NewAdminService(env.db, env.cfg)
	report, err := admin.ReconcileBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}

func TestRunDailyEarnings_LockHeld(t *testing.T) {
	env := setupEnv(t)
	svc := NewEarningsService(env.db, env.rdb, env.cfg)
	createProfile(t, env, "basic", model.PlanBasic, 0)

	held := lock.NewEarningsRunLock(env.rdb, runDate, "other-runner")
	require.NoError(t, env.mr.Set(held.Key(), "other-runner"))

	_, err := svc.RunDailyEarnings(context.Background(), runDate)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Zero(t, getProfile(t, env, "basic").TotalEarnings)

	// 锁释放后可以继续
	env.mr.Del(held.Key())
	_, err = svc.RunDailyEarnings(context.Background(), runDate)
	require.NoError(t, err)
	assert.Equal(t, int64(100), getProfile(t, env, "basic").TotalEarnings)
}

// 失败整体回滚，当天可以重跑
func TestRunDailyEarnings_RollbackThenRetry(t *testing.T) {
	env := setupEnv(t)
	svc := NewEarningsService(env.db, env.rdb, env.cfg)
	ctx := context.Background()

	createProfile(t, env, "basic", model.PlanBasic, 0)
	require.NoError(t, env.db.Migrator().DropTable(&model.OutboxMessage{}))

	_, err := svc.RunDailyEarnings(ctx, runDate)
	require.Error(t, err)
	assert.Zero(t, getProfile(t, env, "basic").TotalEarnings)
	assert.Zero(t, countRows(t, env, &model.EarningRun{}, ""))

	require.NoError(t, env.db.AutoMigrate(&model.OutboxMessage{}))
	_, err = svc.RunDailyEarnings(ctx, runDate)
	require.NoError(t, err)
	assert.Equal(t, int64(100), getProfile(t, env, "basic").TotalEarnings)
}

func TestRunDailyEarnings_InvalidDate(t *testing.T) {
	env := setupEnv(t)
	svc := NewEarningsService(env.db, env.rdb, env.cfg)

	_, err := svc.RunDailyEarnings(context.Background(), "03/01/2026")
	assert.ErrorIs(t, err, ErrInvalidRunDate)
}

func TestBusinessDate_UsesLocation(t *testing.T) {
	env := setupEnv(t)
	env.cfg.Business.Timezone = "Asia/Karachi"
	svc := NewEarningsService(env.db, env.rdb, env.cfg)

	// UTC 20:00 在卡拉奇已是次日凌晨 1 点
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", svc.BusinessDate(now))
}
