package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	AppPort  string
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	LiveKit  LiveKitConfig
	SMTP     SMTPConfig
	Push     PushConfig
	Call     CallConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret        string
	RefreshSecret string
	ExpireHours   int
	RefreshDays   int
}

type LiveKitConfig struct {
	Host       string
	PublicHost string
	APIKey     string
	APISecret  string
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type PushConfig struct {
	FirebaseCredentialsPath string
	FirebaseProjectID       string
}

// CallConfig holds the coordinator timings. Defaults match the documented
// state machine; overridable mainly for staging environments.
type CallConfig struct {
	RingTimeoutSeconds   int // ringing older than this is swept to missed
	StaleRingSeconds     int // ringing involving the caller invalidated on a new initiate
	OngoingTimeoutHours  int // ongoing older than this is closed as failed
	ReconnectWindowHours int // ongoing calls recoverable after page reload
	SweepIntervalSeconds int
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "huddle"),
			Password: getEnv("DB_PASSWORD", "huddle_secret"),
			Name:     getEnv("DB_NAME", "huddle_db"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		JWT: JWTConfig{
			Secret:        getEnv("JWT_SECRET", "secret"),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", "refresh_secret"),
			ExpireHours:   1,
			RefreshDays:   90,
		},
		LiveKit: LiveKitConfig{
			Host:       getEnv("LIVEKIT_HOST", "localhost:7880"),
			PublicHost: getEnv("LIVEKIT_PUBLIC_HOST", ""),
			APIKey:     getEnv("LIVEKIT_API_KEY", "devkey"),
			APISecret:  getEnv("LIVEKIT_API_SECRET", "secret"),
		},
		SMTP: SMTPConfig{
			Host: getEnv("SMTP_HOST", "smtp.mail.ru"),
			Port: getEnvInt("SMTP_PORT", 465),
			User: getEnv("SMTP_USER", ""),
			Pass: getEnv("SMTP_PASS", ""),
			From: getEnv("SMTP_FROM", ""),
		},
		Push: PushConfig{
			FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		},
		Call: CallConfig{
			RingTimeoutSeconds:   getEnvInt("CALL_RING_TIMEOUT_SECONDS", 30),
			StaleRingSeconds:     getEnvInt("CALL_STALE_RING_SECONDS", 60),
			OngoingTimeoutHours:  getEnvInt("CALL_ONGOING_TIMEOUT_HOURS", 6),
			ReconnectWindowHours: getEnvInt("CALL_RECONNECT_WINDOW_HOURS", 2),
			SweepIntervalSeconds: getEnvInt("CALL_SWEEP_INTERVAL_SECONDS", 15),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
