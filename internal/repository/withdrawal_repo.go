package repository

import (
	"context"
	"errors"
	"time"

	"envoearn/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWithdrawalNotFound      = errors.New("提现申请不存在")
	ErrWithdrawalStatusInvalid = errors.New("提现状态不合法")
	ErrWithdrawalAccountNotSet = errors.New("未设置收款账户")
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, withdrawal *model.Withdrawal) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(withdrawal).Error
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Withdrawal, error) {
	if tx == nil {
		tx = r.db
	}
	var withdrawal model.Withdrawal
	err := tx.WithContext(ctx).Where("id = ?", id).First(&withdrawal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &withdrawal, nil
}

func (r *WithdrawalRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Withdrawal, error) {
	var withdrawal model.Withdrawal
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&withdrawal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &withdrawal, nil
}

// UpdateStatus 条件更新，pending 之外的状态不会被改动
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if !model.CanWithdrawalTransitionTo(fromStatus, toStatus) {
		return ErrWithdrawalStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"reviewed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrWithdrawalStatusInvalid
	}

	return nil
}

func (r *WithdrawalRepository) CountPendingByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("user_id = ? AND status = ?", userID, model.WithdrawalStatusPending).
		Count(&count).Error
	return count, err
}

func (r *WithdrawalRepository) ListByUserID(ctx context.Context, userID string) ([]*model.Withdrawal, error) {
	var withdrawals []*model.Withdrawal
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("requested_at DESC").
		Order("id DESC").
		Find(&withdrawals).Error
	return withdrawals, err
}

func (r *WithdrawalRepository) ListByStatus(ctx context.Context, status string) ([]*model.Withdrawal, error) {
	var withdrawals []*model.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("requested_at ASC").
		Find(&withdrawals).Error
	return withdrawals, err
}

func (r *WithdrawalRepository) ListRecent(ctx context.Context, limit int) ([]*model.Withdrawal, error) {
	var withdrawals []*model.Withdrawal
	err := r.db.WithContext(ctx).
		Order("requested_at DESC").
		Limit(limit).
		Find(&withdrawals).Error
	return withdrawals, err
}

func (r *WithdrawalRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Withdrawal{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// SumApproved 已批准提现总额
func (r *WithdrawalRepository) SumApproved(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ?", model.WithdrawalStatusApproved).
		Scan(&total).Error
	return total, err
}

// SumApprovedByUser 每个用户已批准提现合计，对账用
func (r *WithdrawalRepository) SumApprovedByUser(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		UserID string
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Select("user_id, COALESCE(SUM(amount), 0) AS total").
		Where("status = ?", model.WithdrawalStatusApproved).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sums := make(map[string]int64, len(rows))
	for _, row := range rows {
		sums[row.UserID] = row.Total
	}
	return sums, nil
}

type WithdrawalAccountRepository struct {
	db *gorm.DB
}

func NewWithdrawalAccountRepository(db *gorm.DB) *WithdrawalAccountRepository {
	return &WithdrawalAccountRepository{db: db}
}

// Upsert 按 user_id 覆盖保存
func (r *WithdrawalAccountRepository) Upsert(ctx context.Context, tx *gorm.DB, account *model.WithdrawalAccount) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"method", "account_name", "account_number", "updated_at"}),
		}).
		Create(account).Error
}

func (r *WithdrawalAccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.WithdrawalAccount, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.WithdrawalAccount
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalAccountNotSet
		}
		return nil, err
	}
	return &account, nil
}
