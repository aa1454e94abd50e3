package repository

import (
	"context"
	"errors"

	"envoearn/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProfileNotFound  = errors.New("用户资料不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Create(ctx context.Context, tx *gorm.DB, profile *model.Profile) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(profile).Error
}

func (r *ProfileRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Profile, error) {
	if tx == nil {
		tx = r.db
	}
	var profile model.Profile
	err := tx.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Profile, error) {
	var profile model.Profile
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// GetByReferralCode 推荐码查用户，不存在返回 nil, nil
func (r *ProfileRepository) GetByReferralCode(ctx context.Context, tx *gorm.DB, code string) (*model.Profile, error) {
	if tx == nil {
		tx = r.db
	}
	var profile model.Profile
	err := tx.WithContext(ctx).Where("referral_code = ?", code).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) ReferralCodeExists(ctx context.Context, tx *gorm.DB, code string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).Model(&model.Profile{}).Where("referral_code = ?", code).Count(&count).Error
	return count > 0, err
}

// Deduct 扣减余额（乐观锁 + 余额条件）
func (r *ProfileRepository) Deduct(ctx context.Context, tx *gorm.DB, id string, amount int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id = ? AND total_earnings >= ? AND version = ?", id, amount, version).
		Updates(map[string]interface{}{
			"total_earnings": gorm.Expr("total_earnings - ?", amount),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		profile, err := r.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if profile.TotalEarnings < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// AddReferral 推荐人计数和奖励累计，同时入账
func (r *ProfileRepository) AddReferral(ctx context.Context, tx *gorm.DB, id string, bonus int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_earnings":       gorm.Expr("total_earnings + ?", bonus),
			"referral_count":       gorm.Expr("referral_count + 1"),
			"referral_bonus_total": gorm.Expr("referral_bonus_total + ?", bonus),
			"version":              gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}

	return nil
}

// SetBalance 管理员直接设置余额，带版本号，避免覆盖掉并发入账
func (r *ProfileRepository) SetBalance(ctx context.Context, tx *gorm.DB, id string, value int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"total_earnings": value,
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	return nil
}

func (r *ProfileRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id, status string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  status,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}

	return nil
}

// ListActiveIDsByPlan 活跃用户按套餐分组
func (r *ProfileRepository) ListActiveIDsByPlan(ctx context.Context, tx *gorm.DB) (map[string][]string, error) {
	if tx == nil {
		tx = r.db
	}
	var rows []struct {
		ID   string
		Plan string
	}
	err := tx.WithContext(ctx).
		Model(&model.Profile{}).
		Select("id, plan").
		Where("status = ?", model.ProfileStatusActive).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byPlan := make(map[string][]string)
	for _, row := range rows {
		byPlan[row.Plan] = append(byPlan[row.Plan], row.ID)
	}
	return byPlan, nil
}

// IncreaseBatch 同一套餐一次 UPDATE 批量入账
func (r *ProfileRepository) IncreaseBatch(ctx context.Context, tx *gorm.DB, ids []string, amount int64) (int64, error) {
	if len(ids) == 0 || amount == 0 {
		return 0, nil
	}
	result := tx.WithContext(ctx).
		Model(&model.Profile{}).
		Where("id IN ? AND status = ?", ids, model.ProfileStatusActive).
		Updates(map[string]interface{}{
			"total_earnings": gorm.Expr("total_earnings + ?", amount),
			"version":        gorm.Expr("version + 1"),
		})
	return result.RowsAffected, result.Error
}

func (r *ProfileRepository) List(ctx context.Context) ([]*model.Profile, error) {
	var profiles []*model.Profile
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&profiles).Error
	return profiles, err
}

// ListByIDs 按 id 批量查，返回 id -> profile
func (r *ProfileRepository) ListByIDs(ctx context.Context, ids []string) (map[string]*model.Profile, error) {
	result := make(map[string]*model.Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var profiles []*model.Profile
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&profiles).Error; err != nil {
		return nil, err
	}
	for _, p := range profiles {
		result[p.ID] = p
	}
	return result, nil
}

// ListReferred 被我推荐的用户
func (r *ProfileRepository) ListReferred(ctx context.Context, referrerID string) ([]*model.Profile, error) {
	var profiles []*model.Profile
	err := r.db.WithContext(ctx).
		Where("referred_by = ?", referrerID).
		Order("created_at DESC").
		Find(&profiles).Error
	return profiles, err
}

func (r *ProfileRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Profile{}).Count(&count).Error
	return count, err
}
