package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port                int      `mapstructure:"port"`
	ReadTimeoutSeconds  int      `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `mapstructure:"write_timeout_seconds"`
	AllowedOrigins      []string `mapstructure:"allowed_origins"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	GroupID string           `mapstructure:"group_id"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	RowChanges string `mapstructure:"row_changes"`
}

// BackendConfig 对外暴露的后端地址与两类密钥
//
// anon_key 是公开密钥，所有 /api/v1 请求都要带上；
// service_key 是特权密钥，只在服务端使用。缺失时管理员写操作统一返回“管理客户端不可用”。
type BackendConfig struct {
	URL        string `mapstructure:"url"`
	AnonKey    string `mapstructure:"anon_key"`
	ServiceKey string `mapstructure:"service_key"`
}

type StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

type AdminConfig struct {
	PasswordHash      string `mapstructure:"password_hash"` // bcrypt 哈希，不保存明文
	SessionTTLMinutes int    `mapstructure:"session_ttl_minutes"`
}

type BusinessConfig struct {
	InvestmentAmount int64            `mapstructure:"investment_amount"`
	ReferralBonus    int64            `mapstructure:"referral_bonus"`
	SignupBonus      int64            `mapstructure:"signup_bonus"`
	WithdrawalMin    int64            `mapstructure:"withdrawal_min"`
	WithdrawalMax    int64            `mapstructure:"withdrawal_max"`
	DefaultPlan      string           `mapstructure:"default_plan"`
	PlanEarnings     map[string]int64 `mapstructure:"plan_earnings"`
	MaxRetryCount    int              `mapstructure:"max_retry_count"`
	EarningsCron     string           `mapstructure:"earnings_cron"`
	CronKey          string           `mapstructure:"cron_key"`
	Timezone         string           `mapstructure:"timezone"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

// Load 按 .env -> yaml -> 环境变量 的顺序加载配置
//
// 环境变量前缀为 ENVOEARN_，层级用下划线连接，例如 ENVOEARN_BACKEND_SERVICE_KEY。
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ENVOEARN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 15)
	v.SetDefault("kafka.group_id", "envoearn-realtime")
	v.SetDefault("kafka.topic.row_changes", "row_changes")
	v.SetDefault("storage.bucket", "investments")
	v.SetDefault("storage.max_upload_bytes", 5<<20)
	v.SetDefault("auth.token_ttl_hours", 168)
	v.SetDefault("admin.session_ttl_minutes", 120)
	v.SetDefault("business.investment_amount", 6000)
	v.SetDefault("business.referral_bonus", 200)
	v.SetDefault("business.signup_bonus", 200)
	v.SetDefault("business.withdrawal_min", 600)
	v.SetDefault("business.withdrawal_max", 1600)
	v.SetDefault("business.default_plan", "basic")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.earnings_cron", "0 0 * * *")
	v.SetDefault("business.timezone", "Asia/Karachi")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate 启动前校验必填项
//
// service_key 允许为空：特权写操作会降级为 ErrAdminUnavailable，而不是启动失败。
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url 不能为空"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret 不能为空"))
	}
	if c.Business.WithdrawalMin <= 0 || c.Business.WithdrawalMax < c.Business.WithdrawalMin {
		errs = append(errs, fmt.Errorf("提现区间不合法: [%d, %d]", c.Business.WithdrawalMin, c.Business.WithdrawalMax))
	}
	if c.Business.InvestmentAmount <= 0 {
		errs = append(errs, errors.New("business.investment_amount 必须大于0"))
	}
	if _, err := time.LoadLocation(c.Business.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("business.timezone 不合法: %w", err))
	}
	return errors.Join(errs...)
}

// AdminEnabled 是否配置了特权密钥
func (c *Config) AdminEnabled() bool {
	return c.Backend.ServiceKey != ""
}

// Location 业务日所在时区，每日收益按该时区切日
func (b BusinessConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DailyEarning 返回套餐对应的每日收益，未配置的套餐为 0
func (b BusinessConfig) DailyEarning(plan string) int64 {
	return b.PlanEarnings[plan]
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

func (a AdminConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLMinutes) * time.Minute
}
