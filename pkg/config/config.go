package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env           string
	Port          int
	APIPrefix     string
	PublicBaseURL string
	HTTP          HTTPConfig

	// Location is the campus time zone used in messages sent to people.
	Location *time.Location

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Notifications NotificationsConfig
	Push          PushConfig
	WhatsApp      WhatsAppConfig
	Letters       LettersConfig
	Workflow      WorkflowConfig
}

// HTTPConfig bounds server-side request handling. WhatsApp-bearing actions
// block on gateway retries, so the write timeout is deliberately long.
type HTTPConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// NotificationsConfig tunes the in-app notification log.
type NotificationsConfig struct {
	UnreadCacheTTL time.Duration
}

// PushConfig configures VAPID web push delivery.
type PushConfig struct {
	Enabled         bool
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             time.Duration
	SendTimeout     time.Duration
	PruneWorkers    int
}

// WhatsAppConfig configures the outbound messaging gateway and the dispatch pipeline.
type WhatsAppConfig struct {
	Enabled            bool
	BaseURL            string
	Token              string
	Instance           string
	RequestTimeout     time.Duration
	MaxAttempts        int
	RetryBackoff       time.Duration
	TextDelay          time.Duration
	ProbeTimeout       time.Duration
	PipelineTimeout    time.Duration
	CheckNumber        bool
	DefaultCountryCode string
}

// LettersConfig controls generated PDF storage and public download links.
type LettersConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
	Institution     string
}

// WorkflowConfig holds approver routing rules.
type WorkflowConfig struct {
	FirstYearDepartment string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *fs.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.PublicBaseURL = strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/")
	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("load TIMEZONE: %w", err)
	}
	cfg.Location = loc
	cfg.HTTP = HTTPConfig{
		ReadTimeout:  parseDuration(v.GetString("HTTP_READ_TIMEOUT"), 15*time.Second),
		WriteTimeout: parseDuration(v.GetString("HTTP_WRITE_TIMEOUT"), 90*time.Second),
	}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Notifications = NotificationsConfig{
		UnreadCacheTTL: parseDuration(v.GetString("NOTIFICATIONS_UNREAD_CACHE_TTL"), time.Minute),
	}

	cfg.Push = PushConfig{
		Enabled:         v.GetBool("ENABLE_PUSH"),
		VAPIDPublicKey:  v.GetString("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: v.GetString("VAPID_PRIVATE_KEY"),
		Subject:         v.GetString("VAPID_SUBJECT"),
		TTL:             parseDuration(v.GetString("PUSH_TTL"), 24*time.Hour),
		SendTimeout:     parseDuration(v.GetString("PUSH_SEND_TIMEOUT"), 10*time.Second),
		PruneWorkers:    v.GetInt("PUSH_PRUNE_WORKERS"),
	}

	cfg.WhatsApp = WhatsAppConfig{
		Enabled:            v.GetBool("ENABLE_WHATSAPP"),
		BaseURL:            strings.TrimRight(v.GetString("WHATSAPP_BASE_URL"), "/"),
		Token:              v.GetString("WHATSAPP_TOKEN"),
		Instance:           v.GetString("WHATSAPP_INSTANCE"),
		RequestTimeout:     parseDuration(v.GetString("WHATSAPP_REQUEST_TIMEOUT"), 20*time.Second),
		MaxAttempts:        v.GetInt("WHATSAPP_MAX_ATTEMPTS"),
		RetryBackoff:       parseDuration(v.GetString("WHATSAPP_RETRY_BACKOFF"), 800*time.Millisecond),
		TextDelay:          parseDuration(v.GetString("WHATSAPP_TEXT_DELAY"), 1200*time.Millisecond),
		ProbeTimeout:       parseDuration(v.GetString("WHATSAPP_PROBE_TIMEOUT"), 4*time.Second),
		PipelineTimeout:    parseDuration(v.GetString("WHATSAPP_PIPELINE_TIMEOUT"), 60*time.Second),
		CheckNumber:        v.GetBool("WHATSAPP_CHECK_NUMBER"),
		DefaultCountryCode: v.GetString("WHATSAPP_DEFAULT_COUNTRY_CODE"),
	}

	cfg.Letters = LettersConfig{
		StorageDir:      v.GetString("LETTERS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("LETTERS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("LETTERS_SIGNED_URL_TTL"), 7*24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("LETTERS_CLEANUP_INTERVAL"), 6*time.Hour),
		Institution:     v.GetString("INSTITUTION_NAME"),
	}

	cfg.Workflow = WorkflowConfig{
		FirstYearDepartment: v.GetString("FIRST_YEAR_DEPARTMENT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("TIMEZONE", "Asia/Kolkata")
	v.SetDefault("HTTP_READ_TIMEOUT", "15s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "90s")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "campus-portal")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("NOTIFICATIONS_UNREAD_CACHE_TTL", "1m")

	v.SetDefault("ENABLE_PUSH", false)
	v.SetDefault("VAPID_PUBLIC_KEY", "")
	v.SetDefault("VAPID_PRIVATE_KEY", "")
	v.SetDefault("VAPID_SUBJECT", "mailto:admin@example.edu")
	v.SetDefault("PUSH_TTL", "24h")
	v.SetDefault("PUSH_SEND_TIMEOUT", "10s")
	v.SetDefault("PUSH_PRUNE_WORKERS", 1)

	v.SetDefault("ENABLE_WHATSAPP", false)
	v.SetDefault("WHATSAPP_BASE_URL", "")
	v.SetDefault("WHATSAPP_TOKEN", "")
	v.SetDefault("WHATSAPP_INSTANCE", "")
	v.SetDefault("WHATSAPP_REQUEST_TIMEOUT", "20s")
	v.SetDefault("WHATSAPP_MAX_ATTEMPTS", 3)
	v.SetDefault("WHATSAPP_RETRY_BACKOFF", "800ms")
	v.SetDefault("WHATSAPP_TEXT_DELAY", "1200ms")
	v.SetDefault("WHATSAPP_PROBE_TIMEOUT", "4s")
	v.SetDefault("WHATSAPP_PIPELINE_TIMEOUT", "60s")
	v.SetDefault("WHATSAPP_CHECK_NUMBER", false)
	v.SetDefault("WHATSAPP_DEFAULT_COUNTRY_CODE", "91")

	v.SetDefault("LETTERS_STORAGE_DIR", "./letters")
	v.SetDefault("LETTERS_SIGNED_URL_SECRET", "dev_letters_secret")
	v.SetDefault("LETTERS_SIGNED_URL_TTL", "168h")
	v.SetDefault("LETTERS_CLEANUP_INTERVAL", "6h")
	v.SetDefault("INSTITUTION_NAME", "Campus Academics Office")

	v.SetDefault("FIRST_YEAR_DEPARTMENT", "FIRST_YEAR")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
