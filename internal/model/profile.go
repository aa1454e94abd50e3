package model

import (
	"time"
)

const (
	ProfileStatusActive          = "active"
	ProfileStatusPendingApproval = "pending_approval"
	ProfileStatusBlocked         = "blocked"
)

const (
	PlanFree     = "free"
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPremium  = "premium"
)

// Plans 参与每日收益计算的套餐，顺序固定便于按套餐批量更新
var Plans = []string{PlanFree, PlanBasic, PlanStandard, PlanPremium}

// Profile 用户资料表
// total_earnings 即用户可提现余额，被每日收益任务、注册奖励、提现审批、管理员调整共同修改
type Profile struct {
	ID                 string    `gorm:"type:varchar(36);primaryKey" json:"id"` // 与 auth_users.id 一致
	FullName           string    `gorm:"type:varchar(128);not null" json:"full_name"`
	Email              string    `gorm:"type:varchar(191);index;not null" json:"email"`
	ReferralCode       string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"referral_code"`
	ReferredBy         *string   `gorm:"type:varchar(36);index" json:"referred_by,omitempty"` // 推荐人 profile id
	TotalInvestment    int64     `gorm:"not null;default:0" json:"total_investment"`
	TotalEarnings      int64     `gorm:"not null;default:0" json:"total_earnings"`
	ReferralCount      int       `gorm:"not null;default:0" json:"referral_count"`
	ReferralBonusTotal int64     `gorm:"not null;default:0" json:"referral_bonus_total"`
	Status             string    `gorm:"type:varchar(20);index;not null" json:"status"`
	Plan               string    `gorm:"type:varchar(20);index;not null" json:"plan"`
	LocationLat        *float64  `json:"location_lat,omitempty"`
	LocationLng        *float64  `json:"location_lng,omitempty"`
	Version            int       `gorm:"not null;default:0" json:"-"` // 乐观锁版本号
	CreatedAt          time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

func IsValidPlan(plan string) bool {
	for _, p := range Plans {
		if p == plan {
			return true
		}
	}
	return false
}
