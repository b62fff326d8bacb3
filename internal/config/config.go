package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合客户端与本地联调后端的配置项。
type Config struct {
	Server   ServerConfig
	Client   ClientConfig
	Storage  StorageConfig
	Log      LogConfig
	Operator OperatorConfig
	AI       AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	operator, err := loadOperatorConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Client:   client,
		Storage:  loadStorageConfig(),
		Log:      logCfg,
		Operator: operator,
		AI:       ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ClientConfig describes how the chat client reaches the backend.
type ClientConfig struct {
	// SiteOrigin stands in for the page origin; API and WS origins default to it.
	SiteOrigin     string
	APIOrigin      string
	WSOrigin       string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Greeting       string
	FailureNotice  string
}

const (
	defaultGreeting      = "Salom! Savollaringizni yozing: narx, yetkazib berish, mahsulotlar va hokazo."
	defaultFailureNotice = "Ulanishda xatolik. Keyinroq urinib ko‘ring."
)

func loadClientConfig() (ClientConfig, error) {
	pollInterval, err := parseDurationEnv("WEBCHAT_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	if pollInterval <= 0 {
		return ClientConfig{}, fmt.Errorf("invalid WEBCHAT_POLL_INTERVAL value %q: must be positive", os.Getenv("WEBCHAT_POLL_INTERVAL"))
	}

	timeout, err := parseDurationEnv("WEBCHAT_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		SiteOrigin:     getEnvOrDefault("WEBCHAT_SITE_ORIGIN", "http://127.0.0.1:8000"),
		APIOrigin:      strings.TrimSpace(os.Getenv("WEBCHAT_API_ORIGIN")),
		WSOrigin:       strings.TrimSpace(os.Getenv("WEBCHAT_WS_ORIGIN")),
		PollInterval:   pollInterval,
		RequestTimeout: timeout,
		Greeting:       getEnvOrDefault("WEBCHAT_GREETING", defaultGreeting),
		FailureNotice:  getEnvOrDefault("WEBCHAT_FAILURE_NOTICE", defaultFailureNotice),
	}, nil
}

// StorageConfig locates the durable client profile.
type StorageConfig struct {
	// ProfilePath is the SQLite file holding the visitor id. Empty keeps the
	// profile in memory only.
	ProfilePath string
}

func loadStorageConfig() StorageConfig {
	if raw, ok := os.LookupEnv("WEBCHAT_PROFILE_PATH"); ok {
		return StorageConfig{ProfilePath: strings.TrimSpace(raw)}
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return StorageConfig{}
	}
	return StorageConfig{ProfilePath: filepath.Join(dir, "sp-webchat", "profile.db")}
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Pretty: pretty,
	}, nil
}

// OperatorConfig covers the operator side of the local backend.
type OperatorConfig struct {
	// APIKey guards /api/receive-answer when set.
	APIKey    string
	AutoReply bool
}

func loadOperatorConfig() (OperatorConfig, error) {
	autoReply, err := parseBoolEnv("WEBCHAT_AUTOREPLY", false)
	if err != nil {
		return OperatorConfig{}, err
	}
	return OperatorConfig{
		APIKey:    strings.TrimSpace(os.Getenv("WEBCHAT_API_KEY")),
		AutoReply: autoReply,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		val := 0.2
		temperature = &val
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens == nil {
		val := 256
		maxTokens = &val
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv accepts Go durations ("2s", "1500ms") or a bare number of
// seconds.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
