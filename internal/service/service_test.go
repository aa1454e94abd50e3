package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"envoearn/internal/config"
	"envoearn/internal/infrastructure/database"
	"envoearn/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const adminPassword = "admin-pass"

type testEnv struct {
	db    *gorm.DB
	rdb   *redis.Client
	mr    *miniredis.Miniredis
	cfg   *config.Config
	store *memStore
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "service.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		Kafka:   config.KafkaConfig{Topic: config.KafkaTopicConfig{RowChanges: "row_changes"}},
		Backend: config.BackendConfig{URL: "http://localhost:8080", AnonKey: "anon", ServiceKey: "service-key"},
		Storage: config.StorageConfig{Bucket: "investments", MaxUploadBytes: 5 << 20},
		Auth:    config.AuthConfig{JWTSecret: "user-secret", TokenTTLHours: 1},
		Admin:   config.AdminConfig{PasswordHash: string(hash), SessionTTLMinutes: 10},
		Business: config.BusinessConfig{
			InvestmentAmount: 6000,
			ReferralBonus:    200,
			SignupBonus:      200,
			WithdrawalMin:    600,
			WithdrawalMax:    1600,
			DefaultPlan:      model.PlanBasic,
			PlanEarnings: map[string]int64{
				model.PlanFree:     0,
				model.PlanBasic:    100,
				model.PlanStandard: 250,
				model.PlanPremium:  600,
			},
			MaxRetryCount: 5,
			Timezone:      "UTC",
		},
	}

	return &testEnv{db: db, rdb: rdb, mr: mr, cfg: cfg, store: newMemStore()}
}

// memStore 内存对象存储
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	removed   []string
	uploadErr error
	removeErr error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Upload(_ context.Context, key string, body io.Reader, _ string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, keys...)
	if m.removeErr != nil {
		return m.removeErr
	}
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

func (m *memStore) PublicURL(key string) string {
	return "http://localhost:8080/storage/v1/object/public/investments/" + key
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

var errBoom = errors.New("boom")

func submitInvestment(t *testing.T, env *testEnv, name, email, ref string) *model.Investment {
	t.Helper()
	svc := NewInvestmentService(env.db, env.store, env.cfg)
	inv, err := svc.SubmitInvestment(context.Background(), &SubmitInvestmentRequest{
		FullName:      name,
		Email:         email,
		AccountNumber: "03001234567",
		ReferralCode:  ref,
		FileName:      "proof.png",
		FileSize:      4,
		ContentType:   "image/png",
	}, bytes.NewReader([]byte("png!")))
	require.NoError(t, err)
	return inv
}

func approvedInvestment(t *testing.T, env *testEnv, name, email, ref string) *model.Investment {
	t.Helper()
	inv := submitInvestment(t, env, name, email, ref)
	svc := NewInvestmentService(env.db, env.store, env.cfg)
	approved, err := svc.ReviewInvestment(context.Background(), inv.ID, true)
	require.NoError(t, err)
	return approved
}

func createProfile(t *testing.T, env *testEnv, id, plan string, balance int64) *model.Profile {
	t.Helper()
	p := &model.Profile{
		ID:            id,
		FullName:      "User " + id,
		Email:         id + "@x.com",
		ReferralCode:  "code" + id,
		TotalEarnings: balance,
		Status:        model.ProfileStatusActive,
		Plan:          plan,
	}
	require.NoError(t, env.db.Create(p).Error)
	// 初始余额记一条调整流水，对账等式从一开始就成立
	if balance != 0 {
		require.NoError(t, env.db.Create(&model.EarningsHistory{
			UserID: id, Type: model.EarningTypeAdminAdjustment, Amount: balance,
		}).Error)
	}
	return p
}

func getProfile(t *testing.T, env *testEnv, id string) *model.Profile {
	t.Helper()
	var p model.Profile
	require.NoError(t, env.db.Where("id = ?", id).First(&p).Error)
	return &p
}

func countRows(t *testing.T, env *testEnv, m any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := env.db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
