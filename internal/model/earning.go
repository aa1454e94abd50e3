package model

import (
	"fmt"
	"time"
)

// ============================================================================
// 收益类型常量
// ============================================================================

const (
	EarningTypeDaily           = "daily_earning"    // 每日收益
	EarningTypeReferralBonus   = "referral_bonus"   // 推荐奖励（推荐人）
	EarningTypeSignupBonus     = "signup_bonus"     // 注册奖励（被推荐人）
	EarningTypeAdminAdjustment = "admin_adjustment" // 管理员调整余额
)

// ============================================================================
// 收益流水实体
// ============================================================================

// EarningsHistory 收益流水表
// 记录每一笔入账，是余额对账的依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除：保证审计可追溯
// 2. 每日收益必须带幂等键：同一用户同一天只能入账一次
// 3. 管理员改余额也要落一条调整流水：否则余额 = 流水合计 - 已批准提现 这个等式就断了
type EarningsHistory struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Type           string    `gorm:"type:varchar(32);not null" json:"type"`
	Amount         int64     `gorm:"not null" json:"amount"` // 调整流水可以为负
	IdempotencyKey *string   `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (EarningsHistory) TableName() string {
	return "earnings_history"
}

// DailyEarningKey 每日收益幂等键：daily:<日期>:<用户>
func DailyEarningKey(runDate, userID string) string {
	return fmt.Sprintf("daily:%s:%s", runDate, userID)
}

const (
	EarningRunStatusRunning   = "running"
	EarningRunStatusCompleted = "completed"
)

// EarningRun 每日收益批次表
// run_date 唯一，一天只允许成功跑一次，用来挡住重复触发
type EarningRun struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunNo          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"run_no"`
	RunDate        string     `gorm:"type:varchar(10);uniqueIndex;not null" json:"run_date"` // YYYY-MM-DD，业务时区
	Status         string     `gorm:"type:varchar(20);not null" json:"status"`
	CreditedUsers  int        `gorm:"not null;default:0" json:"credited_users"`
	CreditedAmount int64      `gorm:"not null;default:0" json:"credited_amount"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

func (EarningRun) TableName() string {
	return "earning_runs"
}
