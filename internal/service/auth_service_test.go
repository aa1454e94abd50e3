package service

import (
	"context"
	"testing"

	"envoearn/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registeredUser 走完整注册流程，密码为 secret1
func registeredUser(t *testing.T, env *testEnv, email string) *model.Profile {
	t.Helper()
	approvedInvestment(t, env, "User", email, "")
	profile, err := NewRegistrationService(env.db, env.rdb, env.cfg).Register(context.Background(), registerReq("User", email, ""))
	require.NoError(t, err)
	return profile
}

func TestLogin_IssuesUserToken(t *testing.T) {
	env := setupEnv(t)
	svc := NewAuthService(env.db, env.rdb, env.cfg)
	ctx := context.Background()
	profile := registeredUser(t, env, "a@x.com")

	resp, err := svc.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, resp.UserID)

	claims, err := svc.ParseUserToken(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, claims.Subject)
	assert.Equal(t, RoleUser, claims.Role)
	assert.Equal(t, "a@x.com", claims.Email)

	var user model.AuthUser
	require.NoError(t, env.db.Where("email = ?", "a@x.com").First(&user).Error)
	assert.NotNil(t, user.LastSignInAt)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := setupEnv(t)
	svc := NewAuthService(env.db, env.rdb, env.cfg)
	registeredUser(t, env, "a@x.com")

	_, err := svc.Login(context.Background(), "a@x.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogout_RevokesToken(t *testing.T) {
	env := setupEnv(t)
	svc := NewAuthService(env.db, env.rdb, env.cfg)
	ctx := context.Background()
	registeredUser(t, env, "a@x.com")

	resp, err := svc.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	claims, err := svc.ParseUserToken(ctx, resp.Token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, claims))
	assert.True(t, env.mr.Exists(revokedKey(claims.ID)))

	_, err = svc.ParseUserToken(ctx, resp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminLogin(t *testing.T) {
	env := setupEnv(t)
	svc := NewAuthService(env.db, env.rdb, env.cfg)
	ctx := context.Background()

	_, err := svc.AdminLogin(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := svc.AdminLogin(ctx, adminPassword)
	require.NoError(t, err)

	claims, err := svc.ParseAdminToken(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)

	// service_key 移除后旧令牌全部失效
	env.cfg.Backend.ServiceKey = ""
	_, err = svc.ParseAdminToken(ctx, resp.Token)
	assert.ErrorIs(t, err, ErrAdminUnavailable)
	_, err = svc.AdminLogin(ctx, adminPassword)
	assert.ErrorIs(t, err, ErrAdminUnavailable)
}

func TestTokens_NotInterchangeable(t *testing.T) {
	env := setupEnv(t)
	svc := NewAuthService(env.db, env.rdb, env.cfg)
	ctx := context.Background()

	user, err := svc.IssueUserToken("u1", "u1@x.com")
	require.NoError(t, err)
	admin, err := svc.AdminLogin(ctx, adminPassword)
	require.NoError(t, err)

	_, err = svc.ParseAdminToken(ctx, user.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.ParseUserToken(ctx, admin.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.ParseUserToken(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
