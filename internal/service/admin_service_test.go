package service

import (
	"context"
	"testing"

	"envoearn/internal/model"
	"envoearn/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateUserBalance(t *testing.T) {
	env := setupEnv(t)
	svc := NewAdminService(env.db, env.cfg)
	ctx := context.Background()
	createProfile(t, env, "u1", model.PlanBasic, 300)

	_, err := svc.UpdateUserBalance(ctx, "u1", -1)
	var vErr *validation.Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, int64(300), getProfile(t, env, "u1").TotalEarnings)

	updated, err := svc.UpdateUserBalance(ctx, "u1", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), updated.TotalEarnings)
	assert.Equal(t, int64(1), countRows(t, env, &model.EarningsHistory{}, "user_id = ? AND type = ? AND amount = ?", "u1", model.EarningTypeAdminAdjustment, 700))

	// 值不变不写流水
	_, err = svc.UpdateUserBalance(ctx, "u1", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), countRows(t, env, &model.EarningsHistory{}, "user_id = ?", "u1"))

	_, err = svc.UpdateUserBalance(ctx, "ghost", 10)
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestReconcileBalances_DetectsDrift(t *testing.T) {
	env := setupEnv(t)
	svc := NewAdminService(env.db, env.cfg)
	ctx := context.Background()

	createProfile(t, env, "u1", model.PlanBasic, 1000)
	createProfile(t, env, "u2", model.PlanBasic, 0)
	withAccount(t, env, "u1")

	withdrawals := NewWithdrawalService(env.db, env.rdb, env.cfg)
	w, err := withdrawals.RequestWithdrawal(ctx, "u1", 700)
	require.NoError(t, err)
	_, err = withdrawals.ApproveWithdrawal(ctx, w.ID)
	require.NoError(t, err)

	report, err := svc.ReconcileBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Empty(t, report.Drifts)

	// 绕过服务直接改库
	require.NoError(t, env.db.Model(&model.Profile{}).Where("id = ?", "u2").Update("total_earnings", 50).Error)

	report, err = svc.ReconcileBalances(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, "u2", report.Drifts[0].UserID)
	assert.Equal(t, int64(50), report.Drifts[0].Drift)
}

func TestSetUserStatus_BlocksLogin(t *testing.T) {
	env := setupEnv(t)
	svc := NewAdminService(env.db, env.cfg)
	auth := NewAuthService(env.db, env.rdb, env.cfg)
	ctx := context.Background()
	profile := registeredUser(t, env, "a@x.com")

	blocked, err := svc.SetUserStatus(ctx, profile.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.ProfileStatusBlocked, blocked.Status)

	_, err = auth.Login(ctx, "a@x.com", "secret1")
	assert.ErrorIs(t, err, ErrUserBlocked)

	accounts, err := svc.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].Banned)
	assert.Equal(t, "User", accounts[0].FullName)

	_, err = svc.SetUserStatus(ctx, profile.ID, false)
	require.NoError(t, err)
	_, err = auth.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)

	_, err = svc.SetUserStatus(ctx, "ghost", true)
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestAdminService_Unavailable(t *testing.T) {
	env := setupEnv(t)
	env.cfg.Backend.ServiceKey = ""
	svc := NewAdminService(env.db, env.cfg)

	_, err := svc.UpdateUserBalance(context.Background(), "u1", 10)
	assert.ErrorIs(t, err, ErrAdminUnavailable)
	_, err = svc.SetUserStatus(context.Background(), "u1", true)
	assert.ErrorIs(t, err, ErrAdminUnavailable)
}
