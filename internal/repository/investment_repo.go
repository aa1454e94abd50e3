package repository

import (
	"context"
	"errors"
	"time"

	"envoearn/internal/model"

	"gorm.io/gorm"
)

var (
	ErrInvestmentNotFound       = errors.New("投资记录不存在")
	ErrInvestmentStatusInvalid  = errors.New("投资状态不合法")
	ErrInvestmentAlreadyClaimed = errors.New("投资已被认领")
)

type InvestmentRepository struct {
	db *gorm.DB
}

func NewInvestmentRepository(db *gorm.DB) *InvestmentRepository {
	return &InvestmentRepository{db: db}
}

func (r *InvestmentRepository) Create(ctx context.Context, tx *gorm.DB, investment *model.Investment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(investment).Error
}

func (r *InvestmentRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Investment, error) {
	if tx == nil {
		tx = r.db
	}
	var investment model.Investment
	err := tx.WithContext(ctx).Where("id = ?", id).First(&investment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvestmentNotFound
		}
		return nil, err
	}
	return &investment, nil
}

// GetLatestByEmail 该邮箱最近一次提交
func (r *InvestmentRepository) GetLatestByEmail(ctx context.Context, email string) (*model.Investment, error) {
	var investment model.Investment
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("submitted_at DESC").
		Order("id DESC").
		First(&investment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvestmentNotFound
		}
		return nil, err
	}
	return &investment, nil
}

// ListClaimable 已批准且未被认领的投资
func (r *InvestmentRepository) ListClaimable(ctx context.Context, tx *gorm.DB, email string) ([]*model.Investment, error) {
	if tx == nil {
		tx = r.db
	}
	var investments []*model.Investment
	err := tx.WithContext(ctx).
		Where("email = ? AND status = ? AND user_id IS NULL", email, model.InvestmentStatusApproved).
		Order("submitted_at ASC").
		Find(&investments).Error
	return investments, err
}

// UpdateStatus 条件更新状态，只有当前状态匹配才会生效
func (r *InvestmentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if !model.CanInvestmentTransitionTo(fromStatus, toStatus) {
		return ErrInvestmentStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Investment{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"reviewed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrInvestmentStatusInvalid
	}

	return nil
}

// Claim 注册认领：status = approved 且 user_id 为空才写入
// 两个注册请求并发时只有一个能更新成功
func (r *InvestmentRepository) Claim(ctx context.Context, tx *gorm.DB, id int64, userID string) error {
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Investment{}).
		Where("id = ? AND status = ? AND user_id IS NULL", id, model.InvestmentStatusApproved).
		Updates(map[string]interface{}{
			"user_id":    userID,
			"claimed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrInvestmentAlreadyClaimed
	}

	return nil
}

func (r *InvestmentRepository) ListByStatus(ctx context.Context, status string) ([]*model.Investment, error) {
	var investments []*model.Investment
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("submitted_at ASC").
		Find(&investments).Error
	return investments, err
}

func (r *InvestmentRepository) ListRecent(ctx context.Context, limit int) ([]*model.Investment, error) {
	var investments []*model.Investment
	err := r.db.WithContext(ctx).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&investments).Error
	return investments, err
}

func (r *InvestmentRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Investment{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
