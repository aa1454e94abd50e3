package model

import (
	"time"
)

const (
	InvestmentStatusPending  = "pending"
	InvestmentStatusApproved = "approved"
	InvestmentStatusRejected = "rejected"
)

// 投资状态机：pending -> approved | rejected，不可回退
// approved 之后被注册认领（user_id 写入）视为终态，认领不改 status
var ValidInvestmentTransitions = map[string][]string{
	InvestmentStatusPending: {InvestmentStatusApproved, InvestmentStatusRejected},
}

func CanInvestmentTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidInvestmentTransitions, currentStatus, targetStatus)
}

func canTransition(table map[string][]string, currentStatus, targetStatus string) bool {
	allowedStatuses, exists := table[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Investment 投资凭证表
// 用户线下转账后提交截图，管理员审核通过后才允许用同一邮箱注册账户
type Investment struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserName      string     `gorm:"type:varchar(128);not null" json:"user_name"`
	Email         string     `gorm:"type:varchar(191);index;not null" json:"email"`
	AccountNumber string     `gorm:"type:varchar(32);not null" json:"account_number"`
	Amount        int64      `gorm:"not null" json:"amount"`
	ReferralCode  string     `gorm:"type:varchar(32)" json:"referral_code,omitempty"`
	ScreenshotKey string     `gorm:"type:varchar(255);not null" json:"-"` // 上传时的原始对象 key，删除时原样使用
	ScreenshotURL string     `gorm:"type:varchar(512);not null" json:"screenshot_url"`
	Status        string     `gorm:"type:varchar(20);index;not null" json:"status"`
	UserID        *string    `gorm:"type:varchar(36);uniqueIndex" json:"user_id"` // 注册认领前为 NULL
	SubmittedAt   time.Time  `gorm:"autoCreateTime;index" json:"submitted_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
}

func (Investment) TableName() string {
	return "investments"
}

// Claimed 是否已被注册认领
func (i *Investment) Claimed() bool {
	return i.UserID != nil
}
