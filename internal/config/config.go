package config // package config loads application configuration from environment variables

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; nested structs group optional subsystems.
type Config struct {
	Env          string // application environment (e.g. "dev", "prod")
	Port         string // HTTP port to listen on
	StoreBackend string // "mysql" or "memory"

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret       string   // secret used to sign session tokens
	SessionTTLHours int      // session lifetime in hours
	SessionCookie   string   // name of the session cookie
	CookieSecure    bool     // mark the session cookie Secure
	BcryptCost      int      // bcrypt cost for password hashing
	AdminEmails     []string // emails promoted to admin at registration

	LedgerMaxAttempts int // attempts per ledger unit of work on conflicts

	AMQPURL          string // RabbitMQ URL; empty disables event publishing
	AuditConsumer    bool   // run the audit consumer inside this process
	AuditLogFile     string // file the audit consumer appends to

	Log       LogConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
}

// LogConfig configures the zap logger and its rotating file sink.
type LogConfig struct {
	Level      string
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Load reads configuration values from the environment (and from a .env
// file when present) and returns a Config.  Required variables are
// enforced by must(); missing values cause the program to exit with a
// fatal log message.
func Load() Config {
	// A missing .env file is fine: production passes real env vars.
	_ = godotenv.Load()

	cfg := Config{
		Env:               envStr("APP_ENV", "dev"),
		Port:              must("APP_PORT"),
		StoreBackend:      strings.ToLower(envStr("STORE_BACKEND", BackendMySQL)),
		JWTSecret:         must("JWT_SECRET"),
		SessionTTLHours:   envInt("SESSION_TTL_HOURS", 24*7),
		SessionCookie:     envStr("SESSION_COOKIE", "g4b_session"),
		CookieSecure:      envBool("COOKIE_SECURE", false),
		BcryptCost:        envInt("BCRYPT_COST", 12),
		AdminEmails:       envList("ADMIN_EMAILS"),
		LedgerMaxAttempts: envInt("LEDGER_MAX_ATTEMPTS", 3),
		AMQPURL:           envStr("RABBITMQ_URL", envStr("AMQP_URL", "")),
		AuditConsumer:     envBool("AUDIT_CONSUMER_ENABLED", false),
		AuditLogFile:      envStr("AUDIT_LOG_FILE", "logs/ledger-audit.log"),
		Log: LogConfig{
			Level:      envStr("LOG_LEVEL", "info"),
			Filename:   envStr("LOG_FILE", "logs/app.log"),
			MaxSize:    envInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 5),
			MaxAge:     envInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   envBool("LOG_COMPRESS", true),
		},
		Redis:     LoadRedisConfig(),
		Cache:     LoadCacheConfig(),
		RateLimit: LoadRateLimitConfig(),
	}
	switch cfg.StoreBackend {
	case BackendMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = envStr("DB_PASS", "")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
	case BackendMemory:
	default:
		log.Fatalf("invalid STORE_BACKEND %q (want mysql or memory)", cfg.StoreBackend)
	}
	return cfg
}

// IsAdminEmail reports whether email is listed in ADMIN_EMAILS.
func (c Config) IsAdminEmail(email string) bool {
	for _, a := range c.AdminEmails {
		if strings.EqualFold(a, email) {
			return true
		}
	}
	return false
}
