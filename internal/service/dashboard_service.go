package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"envoearn/internal/config"
	"envoearn/internal/model"
	"envoearn/internal/repository"

	"gorm.io/gorm"
)

const (
	recentHistoryLimit   = 10
	recentActivityPerSrc = 5
	recentActivityLimit  = 10
)

// DashboardService 用户端与管理端的只读聚合
type DashboardService struct {
	db             *gorm.DB
	cfg            *config.Config
	profileRepo    *repository.ProfileRepository
	investmentRepo *repository.InvestmentRepository
	withdrawalRepo *repository.WithdrawalRepository
	accountRepo    *repository.WithdrawalAccountRepository
	earningsRepo   *repository.EarningsRepository
}

func NewDashboardService(db *gorm.DB, cfg *config.Config) *DashboardService {
	return &DashboardService{
		db:             db,
		cfg:            cfg,
		profileRepo:    repository.NewProfileRepository(db),
		investmentRepo: repository.NewInvestmentRepository(db),
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		accountRepo:    repository.NewWithdrawalAccountRepository(db),
		earningsRepo:   repository.NewEarningsRepository(db),
	}
}

func (s *DashboardService) profile(ctx context.Context, userID string) (*model.Profile, error) {
	profile, err := s.profileRepo.GetByID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return profile, nil
}

type UserDashboard struct {
	Profile      *model.Profile           `json:"profile"`
	DailyEarning int64                    `json:"daily_earning"`
	History      []*model.EarningsHistory `json:"history"`
}

// GetUserDashboard 资料 + 最近 10 条收益流水
func (s *DashboardService) GetUserDashboard(ctx context.Context, userID string) (*UserDashboard, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := s.earningsRepo.ListByUserID(ctx, userID, recentHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("查询收益流水失败: %w", err)
	}
	return &UserDashboard{
		Profile:      profile,
		DailyEarning: s.cfg.Business.DailyEarning(profile.Plan),
		History:      history,
	}, nil
}

type WithdrawPage struct {
	Profile     *model.Profile           `json:"profile"`
	Account     *model.WithdrawalAccount `json:"account"`
	Withdrawals []*model.Withdrawal      `json:"withdrawals"`
	MinAmount   int64                    `json:"min_amount"`
	MaxAmount   int64                    `json:"max_amount"`
}

// GetWithdrawPage 余额、收款账户、提现记录
func (s *DashboardService) GetWithdrawPage(ctx context.Context, userID string) (*WithdrawPage, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err != nil && !errors.Is(err, repository.ErrWithdrawalAccountNotSet) {
		return nil, fmt.Errorf("查询收款账户失败: %w", err)
	}

	withdrawals, err := s.withdrawalRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询提现记录失败: %w", err)
	}

	return &WithdrawPage{
		Profile:     profile,
		Account:     account,
		Withdrawals: withdrawals,
		MinAmount:   s.cfg.Business.WithdrawalMin,
		MaxAmount:   s.cfg.Business.WithdrawalMax,
	}, nil
}

type ReferralPage struct {
	Profile      *model.Profile   `json:"profile"`
	ReferralLink string           `json:"referral_link"`
	BonusPerUser int64            `json:"bonus_per_user"`
	Referred     []*model.Profile `json:"referred"`
}

// GetReferrals 推荐链接和被推荐用户
func (s *DashboardService) GetReferrals(ctx context.Context, userID string) (*ReferralPage, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	referred, err := s.profileRepo.ListReferred(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询推荐用户失败: %w", err)
	}
	return &ReferralPage{
		Profile:      profile,
		ReferralLink: ReferralLink(s.cfg.Backend.URL, profile.ReferralCode),
		BonusPerUser: s.cfg.Business.ReferralBonus,
		Referred:     referred,
	}, nil
}

// ReferralLink 推荐链接指向投资页
func ReferralLink(baseURL, code string) string {
	return fmt.Sprintf("%s/invest?ref=%s", strings.TrimSuffix(baseURL, "/"), code)
}

type Settings struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Plan         string    `json:"plan"`
	Status       string    `json:"status"`
	ReferralCode string    `json:"referral_code"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *DashboardService) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Settings{
		ID:           profile.ID,
		FullName:     profile.FullName,
		Email:        profile.Email,
		Plan:         profile.Plan,
		Status:       profile.Status,
		ReferralCode: profile.ReferralCode,
		CreatedAt:    profile.CreatedAt,
	}, nil
}

type AdminStats struct {
	TotalUsers         int64 `json:"total_users"`
	PendingApprovals   int64 `json:"pending_approvals"`
	PendingWithdrawals int64 `json:"pending_withdrawals"`
	TotalWithdrawn     int64 `json:"total_withdrawn"`
}

// GetAdminStats 管理端首页统计
func (s *DashboardService) GetAdminStats(ctx context.Context) (*AdminStats, error) {
	var stats AdminStats
	var err error

	if stats.TotalUsers, err = s.profileRepo.Count(ctx); err != nil {
		return nil, fmt.Errorf("统计用户数失败: %w", err)
	}
	if stats.PendingApprovals, err = s.investmentRepo.CountByStatus(ctx, model.InvestmentStatusPending); err != nil {
		return nil, fmt.Errorf("统计待审核投资失败: %w", err)
	}
	if stats.PendingWithdrawals, err = s.withdrawalRepo.CountByStatus(ctx, model.WithdrawalStatusPending); err != nil {
		return nil, fmt.Errorf("统计待审核提现失败: %w", err)
	}
	if stats.TotalWithdrawn, err = s.withdrawalRepo.SumApproved(ctx); err != nil {
		return nil, fmt.Errorf("统计已提现金额失败: %w", err)
	}
	return &stats, nil
}

type Activity struct {
	Kind   string    `json:"kind"` // investment | withdrawal
	ID     int64     `json:"id"`
	Name   string    `json:"name"`
	Amount int64     `json:"amount"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// GetRecentActivity 最近 5 笔投资和 5 笔提现合并，按时间倒序取前 10
func (s *DashboardService) GetRecentActivity(ctx context.Context) ([]*Activity, error) {
	investments, err := s.investmentRepo.ListRecent(ctx, recentActivityPerSrc)
	if err != nil {
		return nil, fmt.Errorf("查询最近投资失败: %w", err)
	}
	withdrawals, err := s.withdrawalRepo.ListRecent(ctx, recentActivityPerSrc)
	if err != nil {
		return nil, fmt.Errorf("查询最近提现失败: %w", err)
	}

	userIDs := make([]string, 0, len(withdrawals))
	for _, w := range withdrawals {
		userIDs = append(userIDs, w.UserID)
	}
	profiles, err := s.profileRepo.ListByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	activities := make([]*Activity, 0, len(investments)+len(withdrawals))
	for _, inv := range investments {
		activities = append(activities, &Activity{
			Kind: "investment", ID: inv.ID, Name: inv.UserName,
			Amount: inv.Amount, Status: inv.Status, At: inv.SubmittedAt,
		})
	}
	for _, w := range withdrawals {
		name := w.AccountInfo.Name
		if p, ok := profiles[w.UserID]; ok {
			name = p.FullName
		}
		activities = append(activities, &Activity{
			Kind: "withdrawal", ID: w.ID, Name: name,
			Amount: w.Amount, Status: w.Status, At: w.RequestedAt,
		})
	}

	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].At.After(activities[j].At)
	})
	if len(activities) > recentActivityLimit {
		activities = activities[:recentActivityLimit]
	}
	return activities, nil
}
