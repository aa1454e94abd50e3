package model

import (
	"time"
)

const (
	WithdrawalStatusPending  = "pending"
	WithdrawalStatusApproved = "approved"
	WithdrawalStatusRejected = "rejected"
)

const (
	PayoutMethodEasypaisa = "Easypaisa"
	PayoutMethodJazzCash  = "JazzCash"
)

var ValidWithdrawalTransitions = map[string][]string{
	WithdrawalStatusPending: {WithdrawalStatusApproved, WithdrawalStatusRejected},
}

func CanWithdrawalTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidWithdrawalTransitions, currentStatus, targetStatus)
}

// AccountInfo 提现时的收款账户快照，之后修改收款账户不影响历史单据
type AccountInfo struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Withdrawal 提现申请表
type Withdrawal struct {
	ID           int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID       string      `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Amount       int64       `gorm:"not null" json:"amount"`
	Method       string      `gorm:"type:varchar(20);not null" json:"method"`
	AccountInfo  AccountInfo `gorm:"type:text;serializer:json" json:"account_info"`
	Status       string      `gorm:"type:varchar(20);index;not null" json:"status"`
	RequestedAt  time.Time   `gorm:"autoCreateTime;index" json:"requested_at"`
	ReviewedAt   *time.Time  `json:"reviewed_at,omitempty"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}

// WithdrawalAccount 用户保存的收款方式，每个用户一条（按 user_id upsert）
type WithdrawalAccount struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"user_id"`
	Method        string    `gorm:"type:varchar(20);not null" json:"method"`
	AccountName   string    `gorm:"type:varchar(128);not null" json:"account_name"`
	AccountNumber string    `gorm:"type:varchar(32);not null" json:"account_number"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WithdrawalAccount) TableName() string {
	return "withdrawal_accounts"
}
