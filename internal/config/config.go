package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 聚合客户端与开发服务器的配置项。
type Config struct {
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Backend  BackendConfig  `yaml:"backend"`
	Store    StoreConfig    `yaml:"store"`
	Shadow   ShadowConfig   `yaml:"shadow"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig 描述 REST API 客户端配置。
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

// RealtimeConfig 描述消息推送与轮询配置。
type RealtimeConfig struct {
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// BackendConfig 描述托管后端（状态、通话）的连接信息。
type BackendConfig struct {
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`
}

// Enabled 表示是否提供了托管后端地址与密钥。
func (c BackendConfig) Enabled() bool {
	return c.URL != "" && c.AnonKey != ""
}

// StoreConfig 描述本地持久化存储。Path 为空时使用内存存储。
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ShadowConfig 描述本地编辑影子记录的清理策略。
type ShadowConfig struct {
	SweepCron string        `yaml:"sweep_cron"`
	MaxAge    time.Duration `yaml:"max_age"`
}

// ServerConfig 描述开发服务器监听配置。
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AccessLog bool   `yaml:"access_log"`
	SeedDemo  bool   `yaml:"seed_demo"`
}

// LogConfig 描述日志级别。
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:3000/api",
			Timeout: 15 * time.Second,
			RPS:     10,
			Burst:   20,
		},
		Realtime: RealtimeConfig{PollInterval: 5 * time.Second},
		Store:    StoreConfig{Path: defaultStorePath()},
		Shadow:   ShadowConfig{SweepCron: "0 3 * * *", MaxAge: 7 * 24 * time.Hour},
		Server:   ServerConfig{Addr: ":3000", AccessLog: true},
		Log:      LogConfig{Level: "info"},
	}
}

// Load 从默认值、可选的 YAML 文件（MESSENGER_CONFIG）和环境变量依次加载配置。
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("MESSENGER_CONFIG")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.API.BaseURL = strings.TrimRight(getEnvOrDefault("MESSENGER_BASE_URL", c.API.BaseURL), "/")

	timeout, err := parseDurationEnv("MESSENGER_TIMEOUT", c.API.Timeout)
	if err != nil {
		return err
	}
	c.API.Timeout = timeout

	rps, err := parseOptionalFloatEnv("MESSENGER_RPS")
	if err != nil {
		return err
	}
	if rps != nil {
		c.API.RPS = *rps
	}

	burst, err := parseOptionalIntEnv("MESSENGER_BURST")
	if err != nil {
		return err
	}
	if burst != nil {
		c.API.Burst = *burst
	}

	c.Realtime.URL = getEnvOrDefault("MESSENGER_REALTIME_URL", c.Realtime.URL)
	poll, err := parseDurationEnv("MESSENGER_POLL_INTERVAL", c.Realtime.PollInterval)
	if err != nil {
		return err
	}
	c.Realtime.PollInterval = poll

	c.Backend.URL = strings.TrimRight(getEnvOrDefault("MESSENGER_BACKEND_URL", c.Backend.URL), "/")
	c.Backend.AnonKey = getEnvOrDefault("MESSENGER_BACKEND_ANON_KEY", c.Backend.AnonKey)

	c.Store.Path = getEnvOrDefault("MESSENGER_STORE_PATH", c.Store.Path)
	if inMemory, err := parseBoolEnv("MESSENGER_STORE_IN_MEMORY", false); err != nil {
		return err
	} else if inMemory {
		c.Store.Path = ""
	}

	c.Shadow.SweepCron = getEnvOrDefault("MESSENGER_SHADOW_SWEEP_CRON", c.Shadow.SweepCron)
	maxAge, err := parseDurationEnv("MESSENGER_SHADOW_MAX_AGE", c.Shadow.MaxAge)
	if err != nil {
		return err
	}
	c.Shadow.MaxAge = maxAge

	addr, err := resolveAddr(getEnvOrDefault("PORT", c.Server.Addr))
	if err != nil {
		return err
	}
	c.Server.Addr = addr

	accessLog, err := parseBoolEnv("MESSENGER_ACCESS_LOG", c.Server.AccessLog)
	if err != nil {
		return err
	}
	c.Server.AccessLog = accessLog

	seed, err := parseBoolEnv("MESSENGER_SEED_DEMO", c.Server.SeedDemo)
	if err != nil {
		return err
	}
	c.Server.SeedDemo = seed

	c.Log.Level = getEnvOrDefault("MESSENGER_LOG_LEVEL", c.Log.Level)
	return nil
}

// Validate 检查配置的完整性。
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid api base url: %q", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api timeout must be positive"))
	}
	if c.Realtime.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive"))
	}
	if c.Shadow.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("shadow max age must be positive"))
	}
	if (c.Backend.URL == "") != (c.Backend.AnonKey == "") {
		errs = append(errs, fmt.Errorf("backend url and anon key must be set together"))
	}
	return errors.Join(errs...)
}

// resolveAddr 允许直接传入 ":8080"、"127.0.0.1:8080" 或端口号。
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if strings.Contains(port, ":") {
		return port, nil
	}
	if port == "" || strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".messenger"
	}
	return dir + string(os.PathSeparator) + "messenger"
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

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
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
