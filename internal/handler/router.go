package handler

import (
	"net/http"

	"envoearn/internal/config"
	"envoearn/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// SetupRouter 配置路由，返回包了 CORS 的 http.Handler
func SetupRouter(h *Handler, cfg *config.Config) http.Handler {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware())

	// 公开写接口和登录限流：每个 IP 每秒 2 次，突发 10 次
	writeLimit := RateLimitMiddleware(NewIPRateLimiter(rate.Limit(2), 10))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/internal/cron/daily-earnings", CronKeyMiddleware(cfg), h.CronDailyEarnings)

	// API 路由组
	api := r.Group("/api/v1", APIKeyMiddleware(cfg))
	{
		// 投资提交
		api.POST("/invest", writeLimit, h.SubmitInvestment)
		api.GET("/invest/referrer", h.LookupReferrer)
		api.GET("/payment-status", h.GetPaymentStatus)

		// 注册登录
		api.GET("/register/eligibility", h.VerifyEligibility)
		api.POST("/register", writeLimit, h.Register)
		api.POST("/login", writeLimit, h.Login)

		api.GET("/realtime", h.Realtime)

		// 用户端
		dashboard := api.Group("/dashboard", UserAuthMiddleware(h.auth))
		{
			dashboard.GET("", h.GetDashboard)
			dashboard.GET("/withdraw", h.GetWithdrawPage)
			dashboard.PUT("/withdraw/account", h.SaveWithdrawalAccount)
			dashboard.POST("/withdraw", h.RequestWithdrawal)
			dashboard.GET("/referrals", h.GetReferrals)
			dashboard.GET("/settings", h.GetSettings)
			dashboard.POST("/logout", h.Logout)
		}

		api.POST("/admin/login", writeLimit, h.AdminLogin)

		// 管理端
		admin := api.Group("/admin", AdminAuthMiddleware(h.auth))
		{
			admin.POST("/logout", h.Logout)
			admin.GET("/dashboard", h.AdminDashboard)

			admin.GET("/users", h.ListUsers)
			admin.PUT("/users/:id/balance", h.UpdateUserBalance)
			admin.PUT("/users/:id/status", h.UpdateUserStatus)
			admin.GET("/accounts", h.ListAccounts)

			admin.GET("/approvals", h.ListApprovals)
			admin.POST("/approvals/:id/approve", h.ApproveInvestment)
			admin.POST("/approvals/:id/reject", h.RejectInvestment)

			admin.GET("/withdrawals", h.ListWithdrawals)
			admin.POST("/withdrawals/:id/approve", h.ApproveWithdrawal)
			admin.POST("/withdrawals/:id/reject", h.RejectWithdrawal)

			admin.GET("/reconcile", h.Reconcile)
			admin.POST("/earnings/run", h.RunEarnings)
		}
	}

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization", "apikey", "X-Request-ID"},
		AllowCredentials: false,
	}).Handler(r)
}
