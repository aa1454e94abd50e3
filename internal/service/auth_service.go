package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"envoearn/internal/config"
	"envoearn/internal/model"
	"envoearn/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims 会话令牌
// 普通用户用 auth.jwt_secret 签名，管理员用 service_key 签名，两类令牌不能互换
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type AuthService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	authUserRepo *repository.AuthUserRepository
	profileRepo  *repository.ProfileRepository
}

func NewAuthService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *AuthService {
	return &AuthService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		authUserRepo: repository.NewAuthUserRepository(db),
		profileRepo:  repository.NewProfileRepository(db),
	}
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id,omitempty"`
}

// Login 邮箱密码登录
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = strings.TrimSpace(email)
	user, err := s.authUserRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAuthUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.IsBanned(time.Now()) {
		return nil, ErrUserBlocked
	}

	profile, err := s.profileRepo.GetByID(ctx, nil, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("查询用户资料失败: %w", err)
	}
	if profile.Status == model.ProfileStatusBlocked {
		return nil, ErrUserBlocked
	}

	if err := s.authUserRepo.TouchSignIn(ctx, user.ID); err != nil {
		log.Printf("[Auth] 更新登录时间失败: userID=%s, err=%v", user.ID, err)
	}

	token, expiresAt, err := s.issue(RoleUser, user.ID, user.Email, s.cfg.Auth.TokenTTL(), []byte(s.cfg.Auth.JWTSecret))
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: expiresAt, UserID: user.ID}, nil
}

// IssueUserToken 注册成功后直接发令牌，省一次登录
func (s *AuthService) IssueUserToken(userID, email string) (*LoginResponse, error) {
	token, expiresAt, err := s.issue(RoleUser, userID, email, s.cfg.Auth.TokenTTL(), []byte(s.cfg.Auth.JWTSecret))
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: expiresAt, UserID: userID}, nil
}

// AdminLogin 管理员口令登录
// 口令只和配置里的 bcrypt 哈希比对，令牌有过期时间，每个管理接口都会重新校验
func (s *AuthService) AdminLogin(ctx context.Context, password string) (*LoginResponse, error) {
	if !s.cfg.AdminEnabled() || s.cfg.Admin.PasswordHash == "" {
		return nil, ErrAdminUnavailable
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Admin.PasswordHash), []byte(password)); err != nil {
		log.Println("[Auth] 管理员口令错误")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.issue(RoleAdmin, RoleAdmin, "", s.cfg.Admin.SessionTTL(), []byte(s.cfg.Backend.ServiceKey))
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: expiresAt}, nil
}

func (s *AuthService) issue(role, subject, email string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("签发令牌失败: %w", err)
	}
	return token, expiresAt, nil
}

// ParseUserToken 校验普通用户令牌
func (s *AuthService) ParseUserToken(ctx context.Context, token string) (*Claims, error) {
	return s.parse(ctx, token, RoleUser, []byte(s.cfg.Auth.JWTSecret))
}

// ParseAdminToken 校验管理员令牌，service_key 缺失时所有管理员令牌失效
func (s *AuthService) ParseAdminToken(ctx context.Context, token string) (*Claims, error) {
	if !s.cfg.AdminEnabled() {
		return nil, ErrAdminUnavailable
	}
	return s.parse(ctx, token, RoleAdmin, []byte(s.cfg.Backend.ServiceKey))
}

func (s *AuthService) parse(ctx context.Context, raw, role string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != role {
		return nil, ErrInvalidToken
	}

	revoked, err := s.redisClient.Exists(ctx, revokedKey(claims.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("查询令牌状态失败: %w", err)
	}
	if revoked > 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout 注销令牌，黑名单保留到令牌自然过期
func (s *AuthService) Logout(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.redisClient.Set(ctx, revokedKey(claims.ID), 1, ttl).Err()
}

func revokedKey(jti string) string {
	return "auth:revoked:" + jti
}

// HashPassword bcrypt 哈希，生成管理员口令配置时也用它
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("密码哈希失败: %w", err)
	}
	return string(hash), nil
}
