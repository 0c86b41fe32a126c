package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config stores the bridge configuration.
// Values come from environment variables (via .env file) with simple defaults.
type Config struct {
	// 后端上报配置
	APIBaseURL string // e.g. "https://example.com"
	APIKey     string // X-Bridge-API-Key 请求头
	EventCode  string // 本次安装的事件标识，缺省时随机生成
	Source     string // 上报来源标识，默认 "serato"

	// Serato session 文件监听配置
	SeratoDir      string
	PollIntervalMs int // 轮询间隔，有效范围 200-10000

	// 甲板状态机配置
	LiveThresholdSeconds   int // 连续播放多久判定为正在播放
	PauseGraceSeconds      int // 暂停容忍窗口
	NowPlayingPauseSeconds int // 当前甲板推子归零后的切换等待
	UseFaderDetection      bool
	MasterDeckPriority     bool

	// 本地状态服务
	StatusAddr string // 为空则不启动状态服务

	// Redis 配置（可选，用于重放缓冲持久化）
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// 日志配置
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	eventCode := getEnv("EVENT_CODE", "")
	if eventCode == "" {
		// 没有配置事件标识时生成一个，保证多次上报归属同一安装
		eventCode = uuid.NewString()
	}

	cfg := &Config{
		APIBaseURL: getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		APIKey:     os.Getenv("BRIDGE_API_KEY"), // 密钥不给默认值
		EventCode:  eventCode,
		Source:     getEnv("BRIDGE_SOURCE", "serato"),

		SeratoDir:      getEnv("SERATO_DIR", defaultSeratoDir()),
		PollIntervalMs: getEnvInt("POLL_INTERVAL_MS", 1000),

		LiveThresholdSeconds:   getEnvInt("LIVE_THRESHOLD_SECONDS", 15),
		PauseGraceSeconds:      getEnvInt("PAUSE_GRACE_SECONDS", 3),
		NowPlayingPauseSeconds: getEnvInt("NOW_PLAYING_PAUSE_SECONDS", 10),
		UseFaderDetection:      getEnvBool("USE_FADER_DETECTION", false),
		MasterDeckPriority:     getEnvBool("MASTER_DECK_PRIORITY", false),

		StatusAddr: getEnv("STATUS_ADDR", ":8090"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}

	// 轮询间隔限制在有效范围内
	if cfg.PollIntervalMs < 200 {
		cfg.PollIntervalMs = 200
	}
	if cfg.PollIntervalMs > 10000 {
		cfg.PollIntervalMs = 10000
	}

	return cfg
}

// PollInterval returns the session polling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// defaultSeratoDir returns the conventional Serato session log location.
func defaultSeratoDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/Music/_Serato_/History/Sessions"
}
