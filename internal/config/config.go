package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/kelseyhightower/envconfig"

	chatservice "github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/internal/storage"
	"github.com/zhouzirui/companion/backend/internal/storage/memory"
	"github.com/zhouzirui/companion/backend/internal/storage/sqlite"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig   `envconfig:"SERVER"`
	Store    StoreConfig    `envconfig:"STORE"`
	Persist  PersistConfig  `envconfig:"PERSIST"`
	Chat     ChatConfig     `envconfig:"CHAT"`
	AI       AIConfig       `envconfig:"ARK"`
	Supabase SupabaseConfig `envconfig:"SUPABASE"`
	Auth     AuthConfig     `envconfig:"AUTH"`
	Log      LogConfig      `envconfig:"LOG"`
}

// Load 从环境变量加载配置并校验。
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查取值是否合法。
func (c *Config) Validate() error {
	if _, err := c.Server.ListenAddr(); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Store,
		validation.Field(&c.Store.Driver, validation.Required, validation.In(DriverSQLite, DriverMemory)),
		validation.Field(&c.Store.Path, validation.When(c.Store.Driver == DriverSQLite, validation.Required)),
	); err != nil {
		return fmt.Errorf("invalid STORE config: %w", err)
	}
	if err := validation.ValidateStruct(&c.Persist,
		// Min 会跳过零值，需要 Required 拒绝 0。
		validation.Field(&c.Persist.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Persist.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.Persist.BaseBackoff, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Persist.MaxInterval, validation.Required, validation.Min(c.Persist.BaseBackoff)),
		validation.Field(&c.Persist.EnqueueTimeout, validation.Required, validation.Min(time.Millisecond)),
	); err != nil {
		return fmt.Errorf("invalid PERSIST config: %w", err)
	}
	if err := validation.ValidateStruct(&c.Chat,
		validation.Field(&c.Chat.DefaultLanguage, validation.Required),
		validation.Field(&c.Chat.DefaultTitle, validation.Required),
	); err != nil {
		return fmt.Errorf("invalid CHAT config: %w", err)
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// CORSOrigins 为逗号分隔的来源列表，为空表示允许任意来源。
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// ListenAddr 解析服务器监听地址。
func (c ServerConfig) ListenAddr() (string, error) {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid SERVER_PORT value: %q", c.Port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	return ":" + port, nil
}

// 可选的本地存储驱动。
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// StoreConfig 描述本地键值存储。
type StoreConfig struct {
	Driver string `envconfig:"DRIVER" default:"sqlite"`
	// 不加 envconfig 标签，否则会回退读取 $PATH。
	Path string `default:"./data/companion.db"`
}

// Open 按驱动打开本地存储。
func (c StoreConfig) Open() (storage.Store, error) {
	switch c.Driver {
	case DriverMemory:
		return memory.New(nil), nil
	case DriverSQLite, "":
		return sqlite.Open(c.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
}

// PersistConfig 控制后台写入队列。
type PersistConfig struct {
	QueueSize      int           `envconfig:"QUEUE_SIZE" default:"256"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	BaseBackoff    time.Duration `envconfig:"BASE_BACKOFF" default:"50ms"`
	MaxInterval    time.Duration `envconfig:"MAX_INTERVAL" default:"2s"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"200ms"`
	RepairOnLoad   bool          `envconfig:"REPAIR_ON_LOAD" default:"true"`
}

// ChatConfig 描述会话默认值。
type ChatConfig struct {
	DefaultLanguage string `envconfig:"DEFAULT_LANGUAGE" default:"en"`
	DefaultTitle    string `envconfig:"DEFAULT_TITLE" default:"New Chat"`
}

// SessionConfig 转换为聊天会话配置。
func (c *Config) SessionConfig() chatservice.Config {
	return chatservice.Config{
		DefaultLanguage: c.Chat.DefaultLanguage,
		DefaultTitle:    c.Chat.DefaultTitle,
		RepairOnLoad:    c.Persist.RepairOnLoad,
		Persist: chatservice.PersistConfig{
			QueueSize:      c.Persist.QueueSize,
			MaxAttempts:    c.Persist.MaxAttempts,
			BaseBackoff:    c.Persist.BaseBackoff,
			MaxInterval:    c.Persist.MaxInterval,
			EnqueueTimeout: c.Persist.EnqueueTimeout,
		},
	}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string   `envconfig:"API_KEY"`
	AccessKey      string   `envconfig:"ACCESS_KEY"`
	SecretKey      string   `envconfig:"SECRET_KEY"`
	Model          string   `envconfig:"MODEL"`
	BaseURL        string   `envconfig:"BASE_URL" default:"https://ark.cn-beijing.volces.com/api/v3"`
	Region         string   `envconfig:"REGION" default:"cn-beijing"`
	Temperature    *float64 `envconfig:"TEMPERATURE"`
	TopP           *float64 `envconfig:"TOP_P"`
	MaxTokens      *int     `envconfig:"MAX_TOKENS"`
	StreamResponse bool     `envconfig:"STREAM" default:"true"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

// SupabaseConfig 描述远端认证与数据库。
type SupabaseConfig struct {
	URL     string `envconfig:"URL"`
	AnonKey string `envconfig:"ANON_KEY"`
	// JWKSURL 为空时从 URL 推导。
	JWKSURL string `envconfig:"JWKS_URL"`
	DBURL   string `envconfig:"DB_URL"`
}

// AuthEnabled 表示是否可以调用远端认证接口。
func (c SupabaseConfig) AuthEnabled() bool {
	return c.URL != "" && c.AnonKey != ""
}

// JWKSEndpoint 返回公钥地址。
func (c SupabaseConfig) JWKSEndpoint() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	if c.URL == "" {
		return ""
	}
	return strings.TrimRight(c.URL, "/") + "/auth/v1/.well-known/jwks.json"
}

// AuthConfig 描述本地开发时的认证旁路。
type AuthConfig struct {
	// DevUserID 非空且未配置 Supabase 时，所有请求以该用户身份执行。
	DevUserID string `envconfig:"DEV_USER_ID"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Pretty bool   `envconfig:"PRETTY"`
}
