package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"envoearn/internal/infrastructure/lock"
	"envoearn/internal/model"
	"envoearn/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerReq(name, email, ref string) *RegisterRequest {
	return &RegisterRequest{
		FullName:        name,
		Email:           email,
		Password:        "secret1",
		ConfirmPassword: "secret1",
		ReferralCode:    ref,
	}
}

// 提交 -> 批准 -> 注册，投资被认领，资料的 total_investment 等于投资金额
func TestRegister_InvestmentLifecycle(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)
	ctx := context.Background()

	inv := submitInvestment(t, env, "Ayesha Khan", "a@x.com", "")
	_, err := svc.VerifyRegistrationEligibility(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrNoEligibleInvestment, "pending investments cannot register")

	invSvc := NewInvestmentService(env.db, env.store, env.cfg)
	approved, err := invSvc.ReviewInvestment(ctx, inv.ID, true)
	require.NoError(t, err)
	assert.Nil(t, approved.UserID)

	eligibility, err := svc.VerifyRegistrationEligibility(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, eligibility.InvestmentID)

	profile, err := svc.Register(ctx, registerReq("Ayesha Khan", "a@x.com", ""))
	require.NoError(t, err)
	assert.Equal(t, int64(6000), profile.TotalInvestment)
	assert.Equal(t, model.ProfileStatusActive, profile.Status)
	assert.Equal(t, model.PlanBasic, profile.Plan)
	assert.Zero(t, profile.TotalEarnings)
	assert.NotEmpty(t, profile.ReferralCode)

	var claimed model.Investment
	require.NoError(t, env.db.First(&claimed, inv.ID).Error)
	require.NotNil(t, claimed.UserID)
	assert.Equal(t, profile.ID, *claimed.UserID)
	assert.NotNil(t, claimed.ClaimedAt)

	assert.Zero(t, countRows(t, env, &model.Investment{}, "email = ? AND status = ? AND user_id IS NULL", "a@x.com", model.InvestmentStatusApproved))
	assert.Equal(t, int64(1), countRows(t, env, &model.AuthUser{}, "email = ?", "a@x.com"))

	// 同一笔投资不能再注册
	_, err = svc.Register(ctx, registerReq("Ayesha Khan", "a@x.com", ""))
	assert.ErrorIs(t, err, ErrNoEligibleInvestment)
}

func TestRegister_RequiresExactlyOneClaimable(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)
	ctx := context.Background()

	approvedInvestment(t, env, "A", "a@x.com", "")
	approvedInvestment(t, env, "A", "a@x.com", "")

	_, err := svc.VerifyRegistrationEligibility(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrAmbiguousInvestment)

	_, err = svc.Register(ctx, registerReq("A", "a@x.com", ""))
	assert.ErrorIs(t, err, ErrAmbiguousInvestment)
	assert.Zero(t, countRows(t, env, &model.AuthUser{}, ""))
}

func TestRegister_ReferralBonus(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)
	ctx := context.Background()

	referrer := createProfile(t, env, "ref", model.PlanStandard, 1000)
	approvedInvestment(t, env, "Bilal", "b@x.com", referrer.ReferralCode)

	profile, err := svc.Register(ctx, registerReq("Bilal", "b@x.com", ""))
	require.NoError(t, err)

	require.NotNil(t, profile.ReferredBy)
	assert.Equal(t, referrer.ID, *profile.ReferredBy)
	assert.Equal(t, int64(200), getProfile(t, env, profile.ID).TotalEarnings)

	updated := getProfile(t, env, referrer.ID)
	assert.Equal(t, int64(1200), updated.TotalEarnings)
	assert.Equal(t, 1, updated.ReferralCount)
	assert.Equal(t, int64(200), updated.ReferralBonusTotal)

	assert.Equal(t, int64(1), countRows(t, env, &model.EarningsHistory{}, "user_id = ? AND type = ?", referrer.ID, model.EarningTypeReferralBonus))
	assert.Equal(t, int64(1), countRows(t, env, &model.EarningsHistory{}, "user_id = ? AND type = ?", profile.ID, model.EarningTypeSignupBonus))

	dash := NewDashboardService(env.db, env.cfg)
	page, err := dash.GetReferrals(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, page.Referred, 1)
	assert.Equal(t, profile.ID, page.Referred[0].ID)
	assert.Equal(t, "http://localhost:8080/invest?ref="+referrer.ReferralCode, page.ReferralLink)
}

func TestRegister_UnknownReferralCodeStillSucceeds(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)

	approvedInvestment(t, env, "C", "c@x.com", "")

	profile, err := svc.Register(context.Background(), registerReq("C", "c@x.com", "nosuchcode"))
	require.NoError(t, err)
	assert.Nil(t, profile.ReferredBy)
	assert.Zero(t, profile.TotalEarnings)
	assert.Zero(t, countRows(t, env, &model.EarningsHistory{}, ""))
}

func TestRegister_BlockedReferrerGetsNoBonus(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)

	referrer := createProfile(t, env, "ref", model.PlanBasic, 0)
	require.NoError(t, env.db.Model(referrer).Update("status", model.ProfileStatusBlocked).Error)
	approvedInvestment(t, env, "D", "d@x.com", "")

	profile, err := svc.Register(context.Background(), registerReq("D", "d@x.com", referrer.ReferralCode))
	require.NoError(t, err)
	assert.Nil(t, profile.ReferredBy)
	assert.Zero(t, getProfile(t, env, referrer.ID).ReferralCount)
}

func TestRegister_ValidatesPassword(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)
	approvedInvestment(t, env, "E", "e@x.com", "")

	req := registerReq("E", "e@x.com", "")
	req.ConfirmPassword = "different"

	_, err := svc.Register(context.Background(), req)
	var vErr *validation.Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "confirm_password", vErr.Field)
	assert.Zero(t, countRows(t, env, &model.AuthUser{}, ""))

	// 超过 bcrypt 72 字节上限，按字段错误返回
	long := registerReq("E", "e@x.com", "")
	long.Password = strings.Repeat("p", 73)
	long.ConfirmPassword = long.Password

	_, err = svc.Register(context.Background(), long)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "password", vErr.Field)
	assert.Zero(t, countRows(t, env, &model.AuthUser{}, ""))
	assert.Equal(t, int64(1), countRows(t, env, &model.Investment{}, "user_id IS NULL"))
}

// 同一笔投资并发注册，只有一个成功
func TestRegister_ConcurrentClaimsExactlyOne(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)
	inv := approvedInvestment(t, env, "H", "h@x.com", "")

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(context.Background(), registerReq("H", "h@x.com", ""))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, ErrEmailRegistered) ||
				errors.Is(err, ErrNoEligibleInvestment) ||
				errors.Is(err, ErrInvestmentClaimed) ||
				errors.Is(err, ErrSystemBusy),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	assert.Equal(t, int64(1), countRows(t, env, &model.AuthUser{}, "email = ?", "h@x.com"))
	assert.Equal(t, int64(1), countRows(t, env, &model.Profile{}, "email = ?", "h@x.com"))

	var claimed model.Investment
	require.NoError(t, env.db.First(&claimed, inv.ID).Error)
	require.NotNil(t, claimed.UserID)
}

// 事务中途失败时不会留下登录账户
func TestRegister_NoOrphanAuthUserOnFailure(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)
	approvedInvestment(t, env, "F", "f@x.com", "")

	require.NoError(t, env.db.Migrator().DropTable(&model.Profile{}))

	_, err := svc.Register(context.Background(), registerReq("F", "f@x.com", ""))
	require.Error(t, err)

	assert.Zero(t, countRows(t, env, &model.AuthUser{}, ""))
	assert.Equal(t, int64(1), countRows(t, env, &model.Investment{}, "user_id IS NULL"))
}

func TestRegister_LockHeldIsBusy(t *testing.T) {
	env := setupEnv(t)
	svc := NewRegistrationService(env.db, env.rdb, env.cfg)
	inv := approvedInvestment(t, env, "G", "g@x.com", "")

	held := lock.NewInvestmentClaimLock(env.rdb, inv.ID, "someone-else")
	require.NoError(t, env.mr.Set(held.Key(), "someone-else"))

	_, err := svc.Register(context.Background(), registerReq("G", "g@x.com", ""))
	assert.ErrorIs(t, err, ErrSystemBusy)
	assert.Zero(t, countRows(t, env, &model.AuthUser{}, ""))
}
