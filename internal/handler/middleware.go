package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"envoearn/internal/config"
	"envoearn/internal/infrastructure/metrics"
	"envoearn/internal/service"
	"envoearn/pkg/response"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const claimsKey = "claims"

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		// 处理请求
		c.Next()

		log.WithFields(log.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
			"method":  c.Request.Method,
			"path":    path,
		}).Info("[HTTP]")
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("[PANIC] %v", err)
				response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// MetricsMiddleware 按路由模板统计请求数和耗时
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// APIKeyMiddleware /api/v1 下的请求必须带 anon_key 或 service_key
// 浏览器建立 websocket 时无法自定义请求头，允许放在 query 里
func APIKeyMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Backend.AnonKey == "" && cfg.Backend.ServiceKey == "" {
			c.Next()
			return
		}

		key := c.GetHeader("apikey")
		if key == "" {
			key = c.Query("apikey")
		}
		if key == "" || !(secureEqual(key, cfg.Backend.AnonKey) || secureEqual(key, cfg.Backend.ServiceKey)) {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "缺少或无效的 apikey")
			return
		}
		c.Next()
	}
}

// UserAuthMiddleware 校验用户令牌，claims 放进 gin.Context
func UserAuthMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.ParseUserToken(c.Request.Context(), bearerToken(c))
		if err != nil {
			abortAuth(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// AdminAuthMiddleware 每个管理接口都重新校验管理员令牌
func AdminAuthMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.ParseAdminToken(c.Request.Context(), bearerToken(c))
		if err != nil {
			abortAuth(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// CronKeyMiddleware 外部调度器触发每日收益，未配置 cron_key 时接口关闭
func CronKeyMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Business.CronKey == "" {
			response.Abort(c, http.StatusServiceUnavailable, response.CodeUnavailable, "定时触发未启用")
			return
		}
		if !secureEqual(c.GetHeader("X-CRON-KEY"), cfg.Business.CronKey) {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "无效的 cron key")
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware 按客户端 IP 限流
func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			response.Abort(c, http.StatusTooManyRequests, response.CodeTooManyReqs, "请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter 每个 IP 一个令牌桶，长时间不活跃的桶会被清理
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	lastGC   time.Time
}

func NewIPRateLimiter(limit rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastGC) > l.idle {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idle {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}

func abortAuth(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAdminUnavailable):
		response.Abort(c, http.StatusServiceUnavailable, response.CodeUnavailable, err.Error())
	case errors.Is(err, service.ErrInvalidToken):
		response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
	default:
		log.WithError(err).Error("[Auth] 令牌校验失败")
		response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "服务器内部错误")
	}
}

func currentClaims(c *gin.Context) *service.Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*service.Claims); ok {
			return claims
		}
	}
	return nil
}

func secureEqual(a, b string) bool {
	if b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
