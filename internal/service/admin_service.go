package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"envoearn/internal/config"
	"envoearn/internal/model"
	"envoearn/internal/repository"
	"envoearn/internal/validation"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 封禁时长，等同永久
const banDuration = 100 * 365 * 24 * time.Hour

// AdminService 用户管理
type AdminService struct {
	db             *gorm.DB
	cfg            *config.Config
	profileRepo    *repository.ProfileRepository
	authUserRepo   *repository.AuthUserRepository
	earningsRepo   *repository.EarningsRepository
	withdrawalRepo *repository.WithdrawalRepository
	changes        changeRecorder
}

func NewAdminService(db *gorm.DB, cfg *config.Config) *AdminService {
	return &AdminService{
		db:             db,
		cfg:            cfg,
		profileRepo:    repository.NewProfileRepository(db),
		authUserRepo:   repository.NewAuthUserRepository(db),
		earningsRepo:   repository.NewEarningsRepository(db),
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		changes:        newChangeRecorder(db, cfg.Kafka.Topic.RowChanges),
	}
}

func (s *AdminService) ListUsers(ctx context.Context) ([]*model.Profile, error) {
	return s.profileRepo.List(ctx)
}

// UpdateUserBalance 管理员设置余额
// 同时写一条 admin_adjustment 流水记录差额，保证对账等式成立
func (s *AdminService) UpdateUserBalance(ctx context.Context, userID string, value int64) (*model.Profile, error) {
	if !s.cfg.AdminEnabled() {
		return nil, ErrAdminUnavailable
	}
	if err := validation.ValidateBalance(value); err != nil {
		return nil, err
	}

	var profile *model.Profile
	var delta int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		current, err := s.profileRepo.GetByIDForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrProfileNotFound) {
				return ErrProfileNotFound
			}
			return fmt.Errorf("查询用户失败: %w", err)
		}

		delta = value - current.TotalEarnings
		if delta == 0 {
			profile = current
			return nil
		}

		if err := s.profileRepo.SetBalance(ctx, tx, userID, value, current.Version); err != nil {
			if errors.Is(err, repository.ErrOptimisticLock) {
				return ErrConcurrentUpdate
			}
			return fmt.Errorf("更新余额失败: %w", err)
		}

		entry := &model.EarningsHistory{UserID: userID, Type: model.EarningTypeAdminAdjustment, Amount: delta}
		if err := s.earningsRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录调整流水失败: %w", err)
		}

		profile, err = s.profileRepo.GetByID(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("查询用户失败: %w", err)
		}
		if err := s.changes.record(ctx, tx, TableEarningsHistory, model.ChangeActionInsert, entry.ID, userID, entry); err != nil {
			return err
		}
		return s.changes.record(ctx, tx, TableProfiles, model.ChangeActionUpdate, profile.ID, profile.ID, profile)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Admin] 余额已调整: userID=%s, value=%d, delta=%d", userID, value, delta)
	return profile, nil
}

// SetUserStatus 封禁 / 解封，登录账户同步封禁
func (s *AdminService) SetUserStatus(ctx context.Context, userID string, blocked bool) (*model.Profile, error) {
	if !s.cfg.AdminEnabled() {
		return nil, ErrAdminUnavailable
	}

	status := model.ProfileStatusActive
	var bannedUntil *time.Time
	if blocked {
		status = model.ProfileStatusBlocked
		until := time.Now().Add(banDuration)
		bannedUntil = &until
	}

	var profile *model.Profile
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.profileRepo.UpdateStatus(ctx, tx, userID, status); err != nil {
			if errors.Is(err, repository.ErrProfileNotFound) {
				return ErrProfileNotFound
			}
			return fmt.Errorf("更新用户状态失败: %w", err)
		}
		if err := s.authUserRepo.SetBannedUntil(ctx, tx, userID, bannedUntil); err != nil {
			return fmt.Errorf("更新登录账户失败: %w", err)
		}

		var err error
		profile, err = s.profileRepo.GetByID(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("查询用户失败: %w", err)
		}
		return s.changes.record(ctx, tx, TableProfiles, model.ChangeActionUpdate, profile.ID, profile.ID, profile)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Admin] 用户状态已更新: userID=%s, status=%s", userID, status)
	return profile, nil
}

type AccountView struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name,omitempty"`
	Banned       bool       `json:"banned"`
	BannedUntil  *time.Time `json:"banned_until,omitempty"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ListAccounts 登录账户列表
func (s *AdminService) ListAccounts(ctx context.Context) ([]*AccountView, error) {
	users, err := s.authUserRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	profiles, err := s.profileRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]*AccountView, 0, len(users))
	for _, u := range users {
		view := &AccountView{
			ID:           u.ID,
			Email:        u.Email,
			Banned:       u.IsBanned(now),
			BannedUntil:  u.BannedUntil,
			LastSignInAt: u.LastSignInAt,
			CreatedAt:    u.CreatedAt,
		}
		if p, ok := profiles[u.ID]; ok {
			view.FullName = p.FullName
		}
		views = append(views, view)
	}
	return views, nil
}

type BalanceDrift struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Balance   int64  `json:"balance"`
	Expected  int64  `json:"expected"`
	Earned    int64  `json:"earned"`
	Withdrawn int64  `json:"withdrawn"`
	Drift     int64  `json:"drift"`
}

type ReconcileReport struct {
	Checked int             `json:"checked"`
	Drifts  []*BalanceDrift `json:"drifts"`
}

// ReconcileBalances 对账：余额应等于 流水合计 - 已批准提现
func (s *AdminService) ReconcileBalances(ctx context.Context) (*ReconcileReport, error) {
	profiles, err := s.profileRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	earned, err := s.earningsRepo.SumByUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("汇总流水失败: %w", err)
	}
	withdrawn, err := s.withdrawalRepo.SumApprovedByUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("汇总提现失败: %w", err)
	}

	report := &ReconcileReport{Checked: len(profiles), Drifts: []*BalanceDrift{}}
	for _, p := range profiles {
		expected := earned[p.ID] - withdrawn[p.ID]
		if expected == p.TotalEarnings {
			continue
		}
		report.Drifts = append(report.Drifts, &BalanceDrift{
			UserID:    p.ID,
			Email:     p.Email,
			Balance:   p.TotalEarnings,
			Expected:  expected,
			Earned:    earned[p.ID],
			Withdrawn: withdrawn[p.ID],
			Drift:     p.TotalEarnings - expected,
		})
	}

	if len(report.Drifts) > 0 {
		log.Printf("[Admin] 对账发现 %d 个余额不一致", len(report.Drifts))
	}
	return report, nil
}
