package repository

import (
	"context"
	"errors"
	"time"

	"envoearn/internal/model"

	"gorm.io/gorm"
)

var ErrAuthUserNotFound = errors.New("登录账户不存在")

type AuthUserRepository struct {
	db *gorm.DB
}

func NewAuthUserRepository(db *gorm.DB) *AuthUserRepository {
	return &AuthUserRepository{db: db}
}

func (r *AuthUserRepository) Create(ctx context.Context, tx *gorm.DB, user *model.AuthUser) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(user).Error
}

func (r *AuthUserRepository) GetByEmail(ctx context.Context, email string) (*model.AuthUser, error) {
	var user model.AuthUser
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuthUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *AuthUserRepository) ExistsByEmail(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).Model(&model.AuthUser{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

// SetBannedUntil until 为 nil 表示解封
func (r *AuthUserRepository) SetBannedUntil(ctx context.Context, tx *gorm.DB, id string, until *time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.AuthUser{}).
		Where("id = ?", id).
		Update("banned_until", until).Error
}

func (r *AuthUserRepository) TouchSignIn(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.AuthUser{}).
		Where("id = ?", id).
		Update("last_sign_in_at", &now).Error
}

func (r *AuthUserRepository) List(ctx context.Context) ([]*model.AuthUser, error) {
	var users []*model.AuthUser
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error
	return users, err
}
