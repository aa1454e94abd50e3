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
// 注册认领
// ============================================================================
//
// 只有“已批准且未认领”的投资才能注册账户，同一笔投资只能被认领一次。
//
// 【并发场景】同一邮箱两个注册请求同时到达
//
//   req1: 查到投资 #7 未认领 -> 建账户 -> 认领 #7
//   req2: 查到投资 #7 未认领 -> 建账户 -> 认领 #7    两个账户共用一笔投资！
//
// 【处理方式】
//   1. 按投资 id 加分布式锁，挡住绝大部分并发
//   2. 认领用条件更新 user_id IS NULL，影响行数为 0 即已被抢先
//   3. investments.user_id 唯一索引兜底
//   4. 建登录账户、认领、建资料、发奖励在同一个事务里，失败整体回滚，不会留下孤儿账户
//
// ============================================================================

type RegistrationService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	authUserRepo   *repository.AuthUserRepository
	profileRepo    *repository.ProfileRepository
	investmentRepo *repository.InvestmentRepository
	earningsRepo   *repository.EarningsRepository
	changes        changeRecorder
}

func NewRegistrationService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *RegistrationService {
	return &RegistrationService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		authUserRepo:   repository.NewAuthUserRepository(db),
		profileRepo:    repository.NewProfileRepository(db),
		investmentRepo: repository.NewInvestmentRepository(db),
		earningsRepo:   repository.NewEarningsRepository(db),
		changes:        newChangeRecorder(db, cfg.Kafka.Topic.RowChanges),
	}
}

type RegisterRequest struct {
	FullName        string   `json:"full_name" binding:"required"`
	Email           string   `json:"email" binding:"required"`
	Password        string   `json:"password" binding:"required"`
	ConfirmPassword string   `json:"confirm_password" binding:"required"`
	ReferralCode    string   `json:"referral_code"`
	LocationLat     *float64 `json:"location_lat"`
	LocationLng     *float64 `json:"location_lng"`
}

type Eligibility struct {
	Email        string `json:"email"`
	InvestmentID int64  `json:"investment_id"`
	FullName     string `json:"full_name"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// VerifyRegistrationEligibility 邮箱必须恰好有一笔已批准未认领的投资
func (s *RegistrationService) VerifyRegistrationEligibility(ctx context.Context, email string) (*Eligibility, error) {
	email = strings.TrimSpace(email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}

	investment, err := s.claimableInvestment(ctx, nil, email)
	if err != nil {
		return nil, err
	}
	return &Eligibility{
		Email:        investment.Email,
		InvestmentID: investment.ID,
		FullName:     investment.UserName,
		ReferralCode: investment.ReferralCode,
	}, nil
}

func (s *RegistrationService) claimableInvestment(ctx context.Context, tx *gorm.DB, email string) (*model.Investment, error) {
	investments, err := s.investmentRepo.ListClaimable(ctx, tx, email)
	if err != nil {
		return nil, fmt.Errorf("查询投资失败: %w", err)
	}
	switch len(investments) {
	case 0:
		return nil, ErrNoEligibleInvestment
	case 1:
		return investments[0], nil
	default:
		return nil, ErrAmbiguousInvestment
	}
}

// Register 注册并认领投资，对应原先的 finalize_registration RPC
func (s *RegistrationService) Register(ctx context.Context, req *RegisterRequest) (*model.Profile, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		return nil, &validation.Error{Field: "full_name", Message: "姓名不能为空"}
	}
	if err := validation.ValidateEmail(req.Email); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(req.Password, req.ConfirmPassword); err != nil {
		return nil, err
	}

	investment, err := s.claimableInvestment(ctx, nil, req.Email)
	if err != nil {
		return nil, err
	}

	claimLock := lock.NewInvestmentClaimLock(s.redisClient, investment.ID, uuid.NewString())
	if err := claimLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSystemBusy, err)
	}
	defer claimLock.Unlock(ctx)

	passwordHash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	userID := uuid.NewString()
	var profile *model.Profile

	err = s.db.Transaction(func(tx *gorm.DB) error {
		exists, err := s.authUserRepo.ExistsByEmail(ctx, tx, req.Email)
		if err != nil {
			return fmt.Errorf("查询账户失败: %w", err)
		}
		if exists {
			return ErrEmailRegistered
		}

		// 拿到锁之后重新确认，前一个持锁请求可能刚认领完
		investment, err = s.claimableInvestment(ctx, tx, req.Email)
		if err != nil {
			return err
		}

		if err := s.authUserRepo.Create(ctx, tx, &model.AuthUser{
			ID:           userID,
			Email:        req.Email,
			PasswordHash: passwordHash,
		}); err != nil {
			return fmt.Errorf("创建登录账户失败: %w", err)
		}

		if err := s.investmentRepo.Claim(ctx, tx, investment.ID, userID); err != nil {
			if errors.Is(err, repository.ErrInvestmentAlreadyClaimed) {
				return ErrInvestmentClaimed
			}
			return fmt.Errorf("认领投资失败: %w", err)
		}

		referralCode, err := s.uniqueReferralCode(ctx, tx, req.FullName)
		if err != nil {
			return err
		}

		profile = &model.Profile{
			ID:              userID,
			FullName:        req.FullName,
			Email:           req.Email,
			ReferralCode:    referralCode,
			TotalInvestment: investment.Amount,
			Status:          model.ProfileStatusActive,
			Plan:            s.defaultPlan(),
			LocationLat:     req.LocationLat,
			LocationLng:     req.LocationLng,
		}

		referrer, err := s.resolveReferrer(ctx, tx, firstNonEmpty(req.ReferralCode, investment.ReferralCode))
		if err != nil {
			return err
		}
		if referrer != nil {
			profile.ReferredBy = &referrer.ID
			profile.TotalEarnings = s.cfg.Business.SignupBonus
		}

		if err := s.profileRepo.Create(ctx, tx, profile); err != nil {
			return fmt.Errorf("创建用户资料失败: %w", err)
		}

		if referrer != nil {
			if err := s.applyReferralBonus(ctx, tx, referrer, profile); err != nil {
				return err
			}
		}

		claimed, err := s.investmentRepo.GetByID(ctx, tx, investment.ID)
		if err != nil {
			return fmt.Errorf("查询投资失败: %w", err)
		}
		if err := s.changes.record(ctx, tx, TableInvestments, model.ChangeActionUpdate, claimed.ID, userID, claimed); err != nil {
			return err
		}
		return s.changes.record(ctx, tx, TableProfiles, model.ChangeActionInsert, profile.ID, profile.ID, profile)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("[Registration] 注册成功: userID=%s, email=%s, investmentID=%d, referred=%t",
		userID, req.Email, investment.ID, profile.ReferredBy != nil)

	return profile, nil
}

// resolveReferrer 推荐码无效不影响注册，只是不发奖励
func (s *RegistrationService) resolveReferrer(ctx context.Context, tx *gorm.DB, code string) (*model.Profile, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	referrer, err := s.profileRepo.GetByReferralCode(ctx, tx, code)
	if err != nil {
		return nil, fmt.Errorf("查询推荐人失败: %w", err)
	}
	if referrer == nil {
		log.Printf("[Registration] 推荐码不存在，忽略: code=%s", code)
		return nil, nil
	}
	if referrer.Status != model.ProfileStatusActive {
		log.Printf("[Registration] 推荐人状态为 %s，不发放奖励: referrerID=%s", referrer.Status, referrer.ID)
		return nil, nil
	}
	return referrer, nil
}

// applyReferralBonus 推荐人 +bonus、计数 +1；新用户的注册奖励已在建档时计入余额，这里只补流水
func (s *RegistrationService) applyReferralBonus(ctx context.Context, tx *gorm.DB, referrer, newcomer *model.Profile) error {
	bonus := s.cfg.Business.ReferralBonus
	if err := s.profileRepo.AddReferral(ctx, tx, referrer.ID, bonus); err != nil {
		return fmt.Errorf("发放推荐奖励失败: %w", err)
	}

	referralEntry := &model.EarningsHistory{UserID: referrer.ID, Type: model.EarningTypeReferralBonus, Amount: bonus}
	if err := s.earningsRepo.Create(ctx, tx, referralEntry); err != nil {
		return fmt.Errorf("记录推荐奖励流水失败: %w", err)
	}

	updated, err := s.profileRepo.GetByID(ctx, tx, referrer.ID)
	if err != nil {
		return fmt.Errorf("查询推荐人失败: %w", err)
	}
	if err := s.changes.record(ctx, tx, TableProfiles, model.ChangeActionUpdate, updated.ID, updated.ID, updated); err != nil {
		return err
	}
	if err := s.changes.record(ctx, tx, TableEarningsHistory, model.ChangeActionInsert, referralEntry.ID, referrer.ID, referralEntry); err != nil {
		return err
	}
	metrics.AddEarnings(model.EarningTypeReferralBonus, bonus)

	if newcomer.TotalEarnings <= 0 {
		return nil
	}
	signupEntry := &model.EarningsHistory{UserID: newcomer.ID, Type: model.EarningTypeSignupBonus, Amount: newcomer.TotalEarnings}
	if err := s.earningsRepo.Create(ctx, tx, signupEntry); err != nil {
		return fmt.Errorf("记录注册奖励流水失败: %w", err)
	}
	if err := s.changes.record(ctx, tx, TableEarningsHistory, model.ChangeActionInsert, signupEntry.ID, newcomer.ID, signupEntry); err != nil {
		return err
	}
	metrics.AddEarnings(model.EarningTypeSignupBonus, signupEntry.Amount)
	return nil
}

func (s *RegistrationService) uniqueReferralCode(ctx context.Context, tx *gorm.DB, fullName string) (string, error) {
	for i := 0; i < 5; i++ {
		code := idgen.GenerateReferralCode(fullName)
		exists, err := s.profileRepo.ReferralCodeExists(ctx, tx, code)
		if err != nil {
			return "", fmt.Errorf("检查推荐码失败: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: 推荐码生成冲突", ErrSystemBusy)
}

func (s *RegistrationService) defaultPlan() string {
	if model.IsValidPlan(s.cfg.Business.DefaultPlan) {
		return s.cfg.Business.DefaultPlan
	}
	return model.PlanBasic
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
