package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvestmentTransitions(t *testing.T) {
	assert.True(t, CanInvestmentTransitionTo(InvestmentStatusPending, InvestmentStatusApproved))
	assert.True(t, CanInvestmentTransitionTo(InvestmentStatusPending, InvestmentStatusRejected))
	assert.False(t, CanInvestmentTransitionTo(InvestmentStatusApproved, InvestmentStatusPending))
	assert.False(t, CanInvestmentTransitionTo(InvestmentStatusApproved, InvestmentStatusRejected))
	assert.False(t, CanInvestmentTransitionTo(InvestmentStatusRejected, InvestmentStatusApproved))
}

func TestWithdrawalTransitions(t *testing.T) {
	assert.True(t, CanWithdrawalTransitionTo(WithdrawalStatusPending, WithdrawalStatusApproved))
	assert.True(t, CanWithdrawalTransitionTo(WithdrawalStatusPending, WithdrawalStatusRejected))
	assert.False(t, CanWithdrawalTransitionTo(WithdrawalStatusApproved, WithdrawalStatusRejected))
	assert.False(t, CanWithdrawalTransitionTo(WithdrawalStatusRejected, WithdrawalStatusPending))
	assert.False(t, CanWithdrawalTransitionTo("unknown", WithdrawalStatusApproved))
}

func TestInvestmentClaimed(t *testing.T) {
	inv := &Investment{Status: InvestmentStatusApproved}
	assert.False(t, inv.Claimed())
	id := "u1"
	inv.UserID = &id
	assert.True(t, inv.Claimed())
}

func TestChangeEvent(t *testing.T) {
	event, err := NewChangeEvent("profiles", ChangeActionUpdate, 42, "u1", map[string]int{"total_earnings": 300})
	require.NoError(t, err)
	assert.Equal(t, "profiles:42", event.Key())
	assert.JSONEq(t, `{"total_earnings":300}`, string(event.Row))

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"user_id":"u1"`)

	bare, err := NewChangeEvent("withdrawals", ChangeActionDelete, "7", "", nil)
	require.NoError(t, err)
	assert.Nil(t, bare.Row)
}

func TestAuthUserIsBanned(t *testing.T) {
	now := time.Now()
	u := &AuthUser{}
	assert.False(t, u.IsBanned(now))

	future := now.Add(time.Hour)
	u.BannedUntil = &future
	assert.True(t, u.IsBanned(now))

	past := now.Add(-time.Hour)
	u.BannedUntil = &past
	assert.False(t, u.IsBanned(now))
}

func TestPlans(t *testing.T) {
	for _, p := range Plans {
		assert.True(t, IsValidPlan(p))
	}
	assert.False(t, IsValidPlan("gold"))
	assert.Equal(t, "daily:2026-03-01:u1", DailyEarningKey("2026-03-01", "u1"))
}
