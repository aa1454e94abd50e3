package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"envoearn/internal/config"
	"envoearn/internal/realtime"
	"envoearn/internal/service"
	"envoearn/internal/validation"
	"envoearn/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg          *config.Config
	auth         *service.AuthService
	registration *service.RegistrationService
	investment   *service.InvestmentService
	withdrawal   *service.WithdrawalService
	earnings     *service.EarningsService
	dashboard    *service.DashboardService
	admin        *service.AdminService
	hub          *realtime.Hub
}

// NewHandler 创建处理器实例，store 为 nil 时投资提交不可用
func NewHandler(db *gorm.DB, rdb *redis.Client, store service.ObjectStore, hub *realtime.Hub, cfg *config.Config) *Handler {
	return &Handler{
		cfg:          cfg,
		auth:         service.NewAuthService(db, rdb, cfg),
		registration: service.NewRegistrationService(db, rdb, cfg),
		investment:   service.NewInvestmentService(db, store, cfg),
		withdrawal:   service.NewWithdrawalService(db, rdb, cfg),
		earnings:     service.NewEarningsService(db, rdb, cfg),
		dashboard:    service.NewDashboardService(db, cfg),
		admin:        service.NewAdminService(db, cfg),
		hub:          hub,
	}
}

// errorCodes 服务层错误 -> 业务码
var errorCodes = []struct {
	err  error
	code int
}{
	{service.ErrAdminUnavailable, response.CodeUnavailable},
	{service.ErrSystemBusy, response.CodeUnavailable},
	{service.ErrInvestmentNotFound, response.CodeInvestmentNotFound},
	{service.ErrReferrerNotFound, response.CodeNotFound},
	{service.ErrProfileNotFound, response.CodeNotFound},
	{service.ErrWithdrawalNotFound, response.CodeNotFound},
	{service.ErrNoEligibleInvestment, response.CodeNoEligibleInvestment},
	{service.ErrAmbiguousInvestment, response.CodeAmbiguousInvestment},
	{service.ErrInvestmentClaimed, response.CodeInvestmentClaimed},
	{service.ErrEmailRegistered, response.CodeEmailRegistered},
	{service.ErrStatusInvalid, response.CodeStatusInvalid},
	{service.ErrInvalidCredentials, response.CodeUnauthorized},
	{service.ErrInvalidToken, response.CodeUnauthorized},
	{service.ErrUserBlocked, response.CodeUserBlocked},
	{service.ErrProfileInactive, response.CodeUserBlocked},
	{service.ErrWithdrawalAccountNotSet, response.CodeWithdrawalAccountUnset},
	{service.ErrPendingWithdrawalExists, response.CodePendingWithdrawal},
	{service.ErrBalanceNotEnough, response.CodeBalanceNotEnough},
	{service.ErrConcurrentUpdate, response.CodeConcurrentUpdate},
	{service.ErrRunAlreadyProcessed, response.CodeRunAlreadyProcessed},
	{service.ErrRunInProgress, response.CodeConcurrentUpdate},
	{service.ErrInvalidRunDate, response.CodeParamError},
}

// writeError 校验错误返回字段提示，已知业务错误返回业务码，其余只记日志不外泄细节
func writeError(c *gin.Context, err error) {
	var vErr *validation.Error
	if errors.As(err, &vErr) {
		response.ParamError(c, vErr.Message)
		return
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			response.BusinessError(c, e.code, e.err.Error())
			return
		}
	}
	log.WithError(err).WithField("path", c.FullPath()).Error("[Handler] 请求处理失败")
	response.ServerError(c, "服务器内部错误")
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "id 参数错误")
		return 0, false
	}
	return id, true
}

// ============================================================
// 投资提交（公开）
// ============================================================

// SubmitInvestment 提交投资申请
// POST /api/v1/invest  multipart: full_name, email, account_number, referral_code, screenshot
func (h *Handler) SubmitInvestment(c *gin.Context) {
	fileHeader, err := c.FormFile("screenshot")
	if err != nil {
		response.ParamError(c, "请上传付款截图")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.ParamError(c, "读取截图失败")
		return
	}
	defer file.Close()

	investment, err := h.investment.SubmitInvestment(c.Request.Context(), &service.SubmitInvestmentRequest{
		FullName:      c.PostForm("full_name"),
		Email:         c.PostForm("email"),
		AccountNumber: c.PostForm("account_number"),
		ReferralCode:  c.PostForm("referral_code"),
		FileName:      fileHeader.Filename,
		FileSize:      fileHeader.Size,
		ContentType:   fileHeader.Header.Get("Content-Type"),
	}, file)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"id":     investment.ID,
		"status": investment.Status,
		"amount": investment.Amount,
	})
}

// LookupReferrer 投资页展示推荐人姓名
// GET /api/v1/invest/referrer?ref=xxx
func (h *Handler) LookupReferrer(c *gin.Context) {
	code := c.Query("ref")
	if code == "" {
		response.ParamError(c, "ref 参数不能为空")
		return
	}
	name, err := h.investment.LookupReferrer(c.Request.Context(), code)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"referral_code": code, "full_name": name})
}

// GetPaymentStatus GET /api/v1/payment-status?email=xxx
func (h *Handler) GetPaymentStatus(c *gin.Context) {
	status, err := h.investment.GetPaymentStatus(c.Request.Context(), c.Query("email"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, status)
}

// ============================================================
// 注册 / 登录
// ============================================================

// VerifyEligibility GET /api/v1/register/eligibility?email=xxx
func (h *Handler) VerifyEligibility(c *gin.Context) {
	eligibility, err := h.registration.VerifyRegistrationEligibility(c.Request.Context(), c.Query("email"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, eligibility)
}

// Register 注册成功后直接返回令牌
// POST /api/v1/register
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	profile, err := h.registration.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	session, err := h.auth.IssueUserToken(profile.ID, profile.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"profile":    profile,
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
	})
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login POST /api/v1/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, session)
}

// Logout 用户和管理员共用
func (h *Handler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), currentClaims(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已退出登录"})
}

// ============================================================
// 用户端
// ============================================================

func (h *Handler) userID(c *gin.Context) string {
	if claims := currentClaims(c); claims != nil {
		return claims.Subject
	}
	return ""
}

// GetDashboard GET /api/v1/dashboard
func (h *Handler) GetDashboard(c *gin.Context) {
	dash, err := h.dashboard.GetUserDashboard(c.Request.Context(), h.userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, dash)
}

// GetWithdrawPage GET /api/v1/dashboard/withdraw
func (h *Handler) GetWithdrawPage(c *gin.Context) {
	page, err := h.dashboard.GetWithdrawPage(c.Request.Context(), h.userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, page)
}

// SaveWithdrawalAccount PUT /api/v1/dashboard/withdraw/account
func (h *Handler) SaveWithdrawalAccount(c *gin.Context) {
	var req service.SaveAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	account, err := h.withdrawal.SaveWithdrawalAccount(c.Request.Context(), h.userID(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, account)
}

type WithdrawRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// RequestWithdrawal POST /api/v1/dashboard/withdraw
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	withdrawal, err := h.withdrawal.RequestWithdrawal(c.Request.Context(), h.userID(c), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// GetReferrals GET /api/v1/dashboard/referrals
func (h *Handler) GetReferrals(c *gin.Context) {
	page, err := h.dashboard.GetReferrals(c.Request.Context(), h.userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, page)
}

// GetSettings GET /api/v1/dashboard/settings
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.dashboard.GetSettings(c.Request.Context(), h.userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, settings)
}

// ============================================================
// 管理端
// ============================================================

type AdminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// AdminLogin POST /api/v1/admin/login
func (h *Handler) AdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	session, err := h.auth.AdminLogin(c.Request.Context(), req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, session)
}

// AdminDashboard 统计 + 最近动态
// GET /api/v1/admin/dashboard
func (h *Handler) AdminDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.dashboard.GetAdminStats(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	activity, err := h.dashboard.GetRecentActivity(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"stats": stats, "recent_activity": activity})
}

// ListUsers GET /api/v1/admin/users
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.admin.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, users)
}

type UpdateBalanceRequest struct {
	TotalEarnings *int64 `json:"total_earnings" binding:"required"`
}

// UpdateUserBalance PUT /api/v1/admin/users/:id/balance
func (h *Handler) UpdateUserBalance(c *gin.Context) {
	var req UpdateBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	profile, err := h.admin.UpdateUserBalance(c.Request.Context(), c.Param("id"), *req.TotalEarnings)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, profile)
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active blocked"`
}

// UpdateUserStatus PUT /api/v1/admin/users/:id/status
func (h *Handler) UpdateUserStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	profile, err := h.admin.SetUserStatus(c.Request.Context(), c.Param("id"), req.Status == "blocked")
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, profile)
}

// ListAccounts GET /api/v1/admin/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.admin.ListAccounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, accounts)
}

// ListApprovals GET /api/v1/admin/approvals
func (h *Handler) ListApprovals(c *gin.Context) {
	investments, err := h.investment.ListPendingInvestments(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, investments)
}

// ApproveInvestment POST /api/v1/admin/approvals/:id/approve
func (h *Handler) ApproveInvestment(c *gin.Context) {
	h.reviewInvestment(c, true)
}

// RejectInvestment POST /api/v1/admin/approvals/:id/reject
func (h *Handler) RejectInvestment(c *gin.Context) {
	h.reviewInvestment(c, false)
}

func (h *Handler) reviewInvestment(c *gin.Context, approve bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	investment, err := h.investment.ReviewInvestment(c.Request.Context(), id, approve)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, investment)
}

// ListWithdrawals GET /api/v1/admin/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	withdrawals, err := h.withdrawal.ListPendingWithdrawals(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawals)
}

// ApproveWithdrawal POST /api/v1/admin/withdrawals/:id/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	withdrawal, err := h.withdrawal.ApproveWithdrawal(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// RejectWithdrawal POST /api/v1/admin/withdrawals/:id/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	withdrawal, err := h.withdrawal.RejectWithdrawal(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// Reconcile GET /api/v1/admin/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.admin.ReconcileBalances(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}

type RunEarningsRequest struct {
	RunDate string `json:"run_date"`
}

// RunEarnings 管理员手动触发，run_date 为空取今天
// POST /api/v1/admin/earnings/run
func (h *Handler) RunEarnings(c *gin.Context) {
	var req RunEarningsRequest
	// chunked 请求 ContentLength 为 -1，不能按长度判断有没有 body；空 body 读到 EOF 视为未传
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}
	h.runEarnings(c, req.RunDate)
}

// CronDailyEarnings POST /internal/cron/daily-earnings?date=YYYY-MM-DD
func (h *Handler) CronDailyEarnings(c *gin.Context) {
	h.runEarnings(c, c.Query("date"))
}

func (h *Handler) runEarnings(c *gin.Context, runDate string) {
	run, err := h.earnings.RunDailyEarnings(c.Request.Context(), strings.TrimSpace(runDate))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, run)
}

// ============================================================
// 实时推送
// ============================================================

// Realtime 管理员令牌订阅全部，用户令牌只收自己的行
// GET /api/v1/realtime?token=xxx&tables=profiles,withdrawals
func (h *Handler) Realtime(c *gin.Context) {
	if h.hub == nil {
		response.Abort(c, http.StatusServiceUnavailable, response.CodeUnavailable, "实时推送未启用")
		return
	}

	ctx := c.Request.Context()
	token := bearerToken(c)

	var tables []string
	if raw := c.Query("tables"); raw != "" {
		tables = strings.Split(raw, ",")
	}

	if claims, err := h.auth.ParseAdminToken(ctx, token); err == nil {
		h.hub.ServeWS(c.Writer, c.Request, claims.Subject, true, tables)
		return
	}
	claims, err := h.auth.ParseUserToken(ctx, token)
	if err != nil {
		abortAuth(c, err)
		return
	}
	h.hub.ServeWS(c.Writer, c.Request, claims.Subject, false, tables)
}
