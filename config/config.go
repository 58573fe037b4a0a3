package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"radiotiker/core/audio"

	"github.com/joho/godotenv"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreFile  = "file"
	StoreMinio = "minio"
	StoreMySQL = "mysql"
)

// DefaultPlayableTypes is used when PLAYABLE_CONTENT_TYPES is unset.
var DefaultPlayableTypes = audio.PlayableTypes

// Config stores the application configuration for both the relay and the agent.
type Config struct {
	ListenAddr   string
	DataDir      string
	StoreBackend string

	AgentFreshness time.Duration
	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	ProbeCacheTTL  time.Duration
	RelayUserAgent string
	PlayableTypes  []string

	FFmpegPath          string
	TranscodeBitrate    string // e.g., "192k"
	TranscodeSampleRate int
	TranscodeChannels   int

	// Redis配置
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	MinioPrefix    string

	// MySQL配置
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// 日志配置
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	// 代理配置
	AgentServerURL     string
	AgentUserID        string
	AgentLibraryPath   string
	AgentPort          int
	AgentPublicBaseURL string
	AgentExtensions    []string
	AgentBatchSize     int
	AgentAnnounceEvery time.Duration
	AgentWatch         bool
	AgentProbeDuration bool
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
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load does not override variables that are already set.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() *Config {
	return &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		DataDir:      getEnv("DATA_DIR", filepath.Join("data", "user-libraries")),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreFile)),

		AgentFreshness: time.Duration(getEnvInt("AGENT_FRESHNESS_SECONDS", 600)) * time.Second,
		ProbeTimeout:   time.Duration(getEnvInt("PROBE_TIMEOUT_MS", 3000)) * time.Millisecond,
		ConnectTimeout: time.Duration(getEnvInt("UPSTREAM_CONNECT_TIMEOUT_MS", 5000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("UPSTREAM_READ_TIMEOUT_SECONDS", 300)) * time.Second,
		ProbeCacheTTL:  time.Duration(getEnvInt("PROBE_CACHE_TTL_SECONDS", 60)) * time.Second,
		RelayUserAgent: getEnv("RELAY_USER_AGENT", "RadioTiker-Relay/0.5"),
		PlayableTypes:  getEnvList("PLAYABLE_CONTENT_TYPES", DefaultPlayableTypes),

		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		TranscodeBitrate:    getEnv("TRANSCODE_BITRATE", "192k"),
		TranscodeSampleRate: getEnvInt("TRANSCODE_SAMPLE_RATE", 44100),
		TranscodeChannels:   getEnvInt("TRANSCODE_CHANNELS", 2),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "radiotiker"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioPrefix:    getEnv("MINIO_PREFIX", "user-libraries/"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no default for the password
		DBName:     getEnv("DB_NAME", "radiotiker"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),

		AgentServerURL:     getEnv("AGENT_SERVER_URL", "http://127.0.0.1:8080"),
		AgentUserID:        getEnv("AGENT_USER_ID", ""),
		AgentLibraryPath:   getEnv("AGENT_LIBRARY_PATH", "./Music"),
		AgentPort:          getEnvInt("AGENT_PORT", 8765),
		AgentPublicBaseURL: getEnv("AGENT_PUBLIC_BASE_URL", ""),
		AgentExtensions:    getEnvList("VALID_AUDIO_EXTENSIONS", []string{".mp3", ".flac", ".wav", ".m4a", ".ogg", ".opus"}),
		AgentBatchSize:     getEnvInt("AGENT_BATCH_SIZE", 500),
		AgentAnnounceEvery: time.Duration(getEnvInt("AGENT_ANNOUNCE_INTERVAL_SECONDS", 60)) * time.Second,
		AgentWatch:         getEnvBool("AGENT_WATCH", false),
		AgentProbeDuration: getEnvBool("AGENT_PROBE_DURATION", false),
	}
}
