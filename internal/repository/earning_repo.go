package repository

import (
	"context"
	"errors"
	"time"

	"envoearn/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEarningRunNotFound = errors.New("收益批次不存在")

// EarningsRepository 收益流水
type EarningsRepository struct {
	db *gorm.DB
}

func NewEarningsRepository(db *gorm.DB) *EarningsRepository {
	return &EarningsRepository{db: db}
}

func (r *EarningsRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.EarningsHistory) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// CreateBatch 批量写流水，幂等键冲突的行直接跳过，返回实际写入行数
func (r *EarningsRepository) CreateBatch(ctx context.Context, tx *gorm.DB, entries []*model.EarningsHistory) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		CreateInBatches(entries, 500)
	return result.RowsAffected, result.Error
}

// ExistingKeys 已经入账过的幂等键
func (r *EarningsRepository) ExistingKeys(ctx context.Context, tx *gorm.DB, keys []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(keys) == 0 {
		return existing, nil
	}
	if tx == nil {
		tx = r.db
	}
	var found []string
	err := tx.WithContext(ctx).
		Model(&model.EarningsHistory{}).
		Where("idempotency_key IN ?", keys).
		Pluck("idempotency_key", &found).Error
	if err != nil {
		return nil, err
	}
	for _, k := range found {
		existing[k] = true
	}
	return existing, nil
}

func (r *EarningsRepository) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.EarningsHistory, error) {
	var entries []*model.EarningsHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// SumByUser 每个用户的流水合计
func (r *EarningsRepository) SumByUser(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		UserID string
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.EarningsHistory{}).
		Select("user_id, COALESCE(SUM(amount), 0) AS total").
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

// EarningRunRepository 每日收益批次
type EarningRunRepository struct {
	db *gorm.DB
}

func NewEarningRunRepository(db *gorm.DB) *EarningRunRepository {
	return &EarningRunRepository{db: db}
}

// GetByDate 不存在返回 nil, nil
func (r *EarningRunRepository) GetByDate(ctx context.Context, tx *gorm.DB, runDate string) (*model.EarningRun, error) {
	if tx == nil {
		tx = r.db
	}
	var run model.EarningRun
	err := tx.WithContext(ctx).Where("run_date = ?", runDate).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *EarningRunRepository) Create(ctx context.Context, tx *gorm.DB, run *model.EarningRun) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(run).Error
}

func (r *EarningRunRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, id int64, users int, amount int64) error {
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.EarningRun{}).
		Where("id = ? AND status = ?", id, model.EarningRunStatusRunning).
		Updates(map[string]interface{}{
			"status":          model.EarningRunStatusCompleted,
			"credited_users":  users,
			"credited_amount": amount,
			"finished_at":     &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEarningRunNotFound
	}
	return nil
}

// DeleteStale 删除上次中断留下的 running 批次
// 批次和入账在同一事务里提交，running 行只会出现在事务外的异常路径
func (r *EarningRunRepository) DeleteStale(ctx context.Context, tx *gorm.DB, runDate string) error {
	return tx.WithContext(ctx).
		Where("run_date = ? AND status = ?", runDate, model.EarningRunStatusRunning).
		Delete(&model.EarningRun{}).Error
}
