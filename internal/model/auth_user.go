package model

import (
	"time"
)

// AuthUser 登录账户表
// 只保存登录所需的最少信息，业务数据都在 profiles
type AuthUser struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        string     `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"type:varchar(100);not null" json:"-"`
	BannedUntil  *time.Time `json:"banned_until,omitempty"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (AuthUser) TableName() string {
	return "auth_users"
}

func (u *AuthUser) IsBanned(now time.Time) bool {
	return u.BannedUntil != nil && u.BannedUntil.After(now)
}
