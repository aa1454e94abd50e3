package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"envoearn/internal/config"
	"envoearn/internal/infrastructure/lock"
	"envoearn/internal/infrastructure/metrics"
	"envoearn/internal/model"
	"envoearn/internal/repository"
	"envoearn/internal/validation"
	"envoearn/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ============================================================================
// 提现
// ============================================================================
//
// 申请：金额在 [withdrawal_min, withdrawal_max] 内且不超过余额，同一用户同时只能有一笔 pending。
// 审批：扣余额 + 改状态必须一起成功或一起失败（原 approve_withdrawal RPC）。
// 驳回：只改状态，不碰余额。
//
// 【审批的并发场景】管理员双击“批准”
//   click1: 扣 700 -> 状态 approved
//   click2: 扣 700 -> 状态 approved   余额被扣两次！
//
// 【处理方式】
//   1. 按提现单加分布式锁
//   2. 事务内 FOR UPDATE 锁行，再确认状态是 pending
//   3. 扣款带 total_earnings >= amount 和 version 条件
//   4. 状态用 status = pending 条件更新，影响行数为 0 整个事务回滚
//
// ============================================================================

type WithdrawalService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	withdrawalRepo *repository.WithdrawalRepository
	accountRepo    *repository.WithdrawalAccountRepository
	profileRepo    *repository.ProfileRepository
	changes        changeRecorder
}

func NewWithdrawalService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *WithdrawalService {
	return &WithdrawalService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		accountRepo:    repository.NewWithdrawalAccountRepository(db),
		profileRepo:    repository.NewProfileRepository(db),
		changes:        newChangeRecorder(db, cfg.Kafka.Topic.RowChanges),
	}
}

func (s *WithdrawalService) limits() validation.WithdrawalLimits {
	return validation.WithdrawalLimits{Min: s.cfg.Business.WithdrawalMin, Max: s.cfg.Business.WithdrawalMax}
}

type SaveAccountRequest struct {
	Method        string `json:"method" binding:"required"`
	AccountName   string `json:"account_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
}

// SaveWithdrawalAccount 保存收款方式，每个用户一条
func (s *WithdrawalService) SaveWithdrawalAccount(ctx context.Context, userID string, req *SaveAccountRequest) (*model.WithdrawalAccount, error) {
	req.AccountName = strings.TrimSpace(req.AccountName)
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if err := validation.ValidateWithdrawalAccount(req.Method, req.AccountName, req.AccountNumber); err != nil {
		return nil, err
	}

	account := &model.WithdrawalAccount{
		UserID:        userID,
		Method:        req.Method,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
	}
	if err := s.accountRepo.Upsert(ctx, nil, account); err != nil {
		return nil, fmt.Errorf("保存收款账户失败: %w", err)
	}
	return s.accountRepo.GetByUserID(ctx, nil, userID)
}

// GetWithdrawalAccount 未设置返回 nil, nil
func (s *WithdrawalService) GetWithdrawalAccount(ctx context.Context, userID string) (*model.WithdrawalAccount, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if errors.Is(err, repository.ErrWithdrawalAccountNotSet) {
		return nil, nil
	}
	return account, err
}

// RequestWithdrawal 发起提现
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, userID string, amount int64) (*model.Withdrawal, error) {
	requestLock := lock.NewWithdrawalRequestLock(s.redisClient, userID, uuid.NewString())
	if err := requestLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSystemBusy, err)
	}
	defer requestLock.Unlock(ctx)

	var withdrawal *model.Withdrawal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		profile, err := s.profileRepo.GetByID(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrProfileNotFound) {
				return ErrProfileNotFound
			}
			return fmt.Errorf("查询用户失败: %w", err)
		}
		if profile.Status != model.ProfileStatusActive {
			return ErrProfileInactive
		}

		// 金额校验在任何写操作之前
		if err := validation.ValidateWithdrawalAmount(amount, profile.TotalEarnings, s.limits()); err != nil {
			return err
		}

		account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrWithdrawalAccountNotSet) {
				return ErrWithdrawalAccountNotSet
			}
			return fmt.Errorf("查询收款账户失败: %w", err)
		}

		pending, err := s.withdrawalRepo.CountPendingByUser(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("查询待审核提现失败: %w", err)
		}
		if pending > 0 {
			return ErrPendingWithdrawalExists
		}

		withdrawal = &model.Withdrawal{
			WithdrawalNo: idgen.GenerateWithdrawalNo(),
			UserID:       userID,
			Amount:       amount,
			Method:       account.Method,
			AccountInfo:  model.AccountInfo{Name: account.AccountName, Number: account.AccountNumber},
			Status:       model.WithdrawalStatusPending,
		}
		if err := s.withdrawalRepo.Create(ctx, tx, withdrawal); err != nil {
			return fmt.Errorf("创建提现申请失败: %w", err)
		}
		return s.changes.record(ctx, tx, TableWithdrawals, model.ChangeActionInsert, withdrawal.ID, userID, withdrawal)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Withdrawal] 提现申请已提交: withdrawalNo=%s, userID=%s, amount=%d", withdrawal.WithdrawalNo, userID, amount)
	return withdrawal, nil
}

type PendingWithdrawal struct {
	*model.Withdrawal
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Balance  int64  `json:"balance"`
}

// ListPendingWithdrawals 待审核提现，带上申请人姓名和当前余额
func (s *WithdrawalService) ListPendingWithdrawals(ctx context.Context) ([]*PendingWithdrawal, error) {
	withdrawals, err := s.withdrawalRepo.ListByStatus(ctx, model.WithdrawalStatusPending)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(withdrawals))
	for _, w := range withdrawals {
		ids = append(ids, w.UserID)
	}
	profiles, err := s.profileRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*PendingWithdrawal, 0, len(withdrawals))
	for _, w := range withdrawals {
		item := &PendingWithdrawal{Withdrawal: w}
		if p, ok := profiles[w.UserID]; ok {
			item.FullName = p.FullName
			item.Email = p.Email
			item.Balance = p.TotalEarnings
		}
		result = append(result, item)
	}
	return result, nil
}

// ApproveWithdrawal 批准提现：扣余额和改状态在同一事务
func (s *WithdrawalService) ApproveWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error) {
	if !s.cfg.AdminEnabled() {
		return nil, ErrAdminUnavailable
	}

	reviewLock := lock.NewWithdrawalReviewLock(s.redisClient, id, uuid.NewString())
	if err := reviewLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSystemBusy, err)
	}
	defer reviewLock.Unlock(ctx)

	var withdrawal *model.Withdrawal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		withdrawal, err = s.withdrawalRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrWithdrawalNotFound) {
				return ErrWithdrawalNotFound
			}
			return fmt.Errorf("查询提现申请失败: %w", err)
		}
		if withdrawal.Status != model.WithdrawalStatusPending {
			return ErrStatusInvalid
		}

		profile, err := s.profileRepo.GetByIDForUpdate(ctx, tx, withdrawal.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrProfileNotFound) {
				return ErrProfileNotFound
			}
			return fmt.Errorf("查询用户失败: %w", err)
		}

		if err := s.profileRepo.Deduct(ctx, tx, profile.ID, withdrawal.Amount, profile.Version); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return ErrBalanceNotEnough
			}
			if errors.Is(err, repository.ErrOptimisticLock) {
				return ErrConcurrentUpdate
			}
			return fmt.Errorf("扣减余额失败: %w", err)
		}

		if err := s.withdrawalRepo.UpdateStatus(ctx, tx, id, model.WithdrawalStatusPending, model.WithdrawalStatusApproved); err != nil {
			if errors.Is(err, repository.ErrWithdrawalStatusInvalid) {
				return ErrStatusInvalid
			}
			return fmt.Errorf("更新提现状态失败: %w", err)
		}

		withdrawal, err = s.withdrawalRepo.GetByID(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("查询提现申请失败: %w", err)
		}
		updated, err := s.profileRepo.GetByID(ctx, tx, profile.ID)
		if err != nil {
			return fmt.Errorf("查询用户失败: %w", err)
		}

		if err := s.changes.record(ctx, tx, TableWithdrawals, model.ChangeActionUpdate, withdrawal.ID, withdrawal.UserID, withdrawal); err != nil {
			return err
		}
		return s.changes.record(ctx, tx, TableProfiles, model.ChangeActionUpdate, updated.ID, updated.ID, updated)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncWithdrawalReviewed(model.WithdrawalStatusApproved)
	log.Printf("[Withdrawal] 提现已批准: id=%d, userID=%s, amount=%d", id, withdrawal.UserID, withdrawal.Amount)
	return withdrawal, nil
}

// RejectWithdrawal 驳回提现，余额不变
func (s *WithdrawalService) RejectWithdrawal(ctx context.Context, id int64) (*model.Withdrawal, error) {
	if !s.cfg.AdminEnabled() {
		return nil, ErrAdminUnavailable
	}

	var withdrawal *model.Withdrawal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawalRepo.UpdateStatus(ctx, tx, id, model.WithdrawalStatusPending, model.WithdrawalStatusRejected); err != nil {
			if errors.Is(err, repository.ErrWithdrawalStatusInvalid) {
				if _, getErr := s.withdrawalRepo.GetByID(ctx, tx, id); errors.Is(getErr, repository.ErrWithdrawalNotFound) {
					return ErrWithdrawalNotFound
				}
				return ErrStatusInvalid
			}
			return fmt.Errorf("更新提现状态失败: %w", err)
		}

		var err error
		withdrawal, err = s.withdrawalRepo.GetByID(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("查询提现申请失败: %w", err)
		}
		return s.changes.record(ctx, tx, TableWithdrawals, model.ChangeActionUpdate, withdrawal.ID, withdrawal.UserID, withdrawal)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncWithdrawalReviewed(model.WithdrawalStatusRejected)
	log.Printf("[Withdrawal] 提现已驳回: id=%d, userID=%s", id, withdrawal.UserID)
	return withdrawal, nil
}
