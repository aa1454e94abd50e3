package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"envoearn/internal/config"
	"envoearn/internal/model"
	"envoearn/internal/repository"
	"envoearn/internal/validation"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ObjectStore 截图存储
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	Remove(ctx context.Context, keys ...string) error
	PublicURL(key string) string
}

type InvestmentService struct {
	db             *gorm.DB
	store          ObjectStore
	cfg            *config.Config
	investmentRepo *repository.InvestmentRepository
	profileRepo    *repository.ProfileRepository
	changes        changeRecorder
}

// NewInvestmentService store 为 nil 表示对象存储未配置，提交投资会返回 ErrAdminUnavailable
func NewInvestmentService(db *gorm.DB, store ObjectStore, cfg *config.Config) *InvestmentService {
	return &InvestmentService{
		db:             db,
		store:          store,
		cfg:            cfg,
		investmentRepo: repository.NewInvestmentRepository(db),
		profileRepo:    repository.NewProfileRepository(db),
		changes:        newChangeRecorder(db, cfg.Kafka.Topic.RowChanges),
	}
}

type SubmitInvestmentRequest struct {
	FullName      string
	Email         string
	AccountNumber string
	ReferralCode  string
	FileName      string
	FileSize      int64
	ContentType   string
}

// SubmitInvestment 上传付款截图并创建待审核投资
//
// 截图的对象 key 原样存进 screenshot_key，驳回时直接用它删除，不再从 URL 反推
func (s *InvestmentService) SubmitInvestment(ctx context.Context, req *SubmitInvestmentRequest, file io.Reader) (*model.Investment, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)

	if err := validation.ValidateInvestmentSubmission(validation.InvestmentSubmission{
		FullName:      req.FullName,
		Email:         req.Email,
		AccountNumber: req.AccountNumber,
		FileName:      req.FileName,
		FileSize:      req.FileSize,
	}, s.cfg.Storage.MaxUploadBytes); err != nil {
		return nil, err
	}

	if s.store == nil || !s.cfg.AdminEnabled() {
		return nil, ErrAdminUnavailable
	}

	key := ScreenshotKey(req.Email, time.Now(), req.FileName)
	if err := s.store.Upload(ctx, key, file, req.ContentType); err != nil {
		return nil, fmt.Errorf("上传截图失败: %w", err)
	}

	investment := &model.Investment{
		UserName:      req.FullName,
		Email:         req.Email,
		AccountNumber: req.AccountNumber,
		Amount:        s.cfg.Business.InvestmentAmount,
		ReferralCode:  strings.TrimSpace(req.ReferralCode),
		ScreenshotKey: key,
		ScreenshotURL: s.store.PublicURL(key),
		Status:        model.InvestmentStatusPending,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.investmentRepo.Create(ctx, tx, investment); err != nil {
			return fmt.Errorf("保存投资记录失败: %w", err)
		}
		return s.changes.record(ctx, tx, TableInvestments, model.ChangeActionInsert, investment.ID, "", investment)
	})
	if err != nil {
		// 截图已上传，记录没写进去，按原 key 清理
		if rmErr := s.store.Remove(ctx, key); rmErr != nil {
			log.Printf("[Investment] 清理截图失败: key=%s, err=%v", key, rmErr)
		}
		return nil, err
	}

	log.Printf("[Investment] 投资已提交: id=%d, email=%s", investment.ID, investment.Email)
	return investment, nil
}

// ScreenshotKey screenshots/<email>-<毫秒时间戳><扩展名>
func ScreenshotKey(email string, at time.Time, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("screenshots/%s-%d%s", email, at.UnixMilli(), ext)
}

type PaymentStatus struct {
	Email       string     `json:"email"`
	Status      string     `json:"status"`
	Claimed     bool       `json:"claimed"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

// GetPaymentStatus 该邮箱最近一次提交的审核状态
func (s *InvestmentService) GetPaymentStatus(ctx context.Context, email string) (*PaymentStatus, error) {
	email = strings.TrimSpace(email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}

	investment, err := s.investmentRepo.GetLatestByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrInvestmentNotFound) {
			return nil, ErrInvestmentNotFound
		}
		return nil, fmt.Errorf("查询投资失败: %w", err)
	}

	return &PaymentStatus{
		Email:       investment.Email,
		Status:      investment.Status,
		Claimed:     investment.Claimed(),
		SubmittedAt: investment.SubmittedAt,
		ReviewedAt:  investment.ReviewedAt,
	}, nil
}

// LookupReferrer 推荐码对应的推荐人姓名
func (s *InvestmentService) LookupReferrer(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrReferrerNotFound
	}
	referrer, err := s.profileRepo.GetByReferralCode(ctx, nil, code)
	if err != nil {
		return "", fmt.Errorf("查询推荐人失败: %w", err)
	}
	if referrer == nil {
		return "", ErrReferrerNotFound
	}
	return referrer.FullName, nil
}

// ListPendingInvestments 待审核投资，先提交的排前面
func (s *InvestmentService) ListPendingInvestments(ctx context.Context) ([]*model.Investment, error) {
	return s.investmentRepo.ListByStatus(ctx, model.InvestmentStatusPending)
}

// ReviewInvestment 审核投资
//
// 状态只能从 pending 走到 approved / rejected。驳回时删除截图，
// 删除失败只记日志：状态变更才是这次操作的结果，截图残留不影响业务。
func (s *InvestmentService) ReviewInvestment(ctx context.Context, id int64, approve bool) (*model.Investment, error) {
	if !s.cfg.AdminEnabled() {
		return nil, ErrAdminUnavailable
	}

	target := model.InvestmentStatusRejected
	if approve {
		target = model.InvestmentStatusApproved
	}

	var investment *model.Investment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.investmentRepo.UpdateStatus(ctx, tx, id, model.InvestmentStatusPending, target); err != nil {
			if errors.Is(err, repository.ErrInvestmentStatusInvalid) {
				if _, getErr := s.investmentRepo.GetByID(ctx, tx, id); errors.Is(getErr, repository.ErrInvestmentNotFound) {
					return ErrInvestmentNotFound
				}
				return ErrStatusInvalid
			}
			return fmt.Errorf("更新投资状态失败: %w", err)
		}

		var err error
		investment, err = s.investmentRepo.GetByID(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("查询投资失败: %w", err)
		}
		return s.changes.record(ctx, tx, TableInvestments, model.ChangeActionUpdate, investment.ID, "", investment)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Investment] 投资审核完成: id=%d, status=%s", id, target)

	if !approve {
		s.removeScreenshot(ctx, investment)
	}
	return investment, nil
}

func (s *InvestmentService) removeScreenshot(ctx context.Context, investment *model.Investment) {
	if s.store == nil || investment.ScreenshotKey == "" {
		return
	}
	if err := s.store.Remove(ctx, investment.ScreenshotKey); err != nil {
		log.Printf("[Investment] 删除截图失败，忽略: id=%d, key=%s, err=%v", investment.ID, investment.ScreenshotKey, err)
	}
}
