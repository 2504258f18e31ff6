package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port string

	DBUrl          string
	DBMaxOpenConns int
	DBLockWait     time.Duration
	DBTxTimeout    time.Duration

	LedgerTimezone   string
	LoanAdminFeeRate decimal.Decimal

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	RedisAddr      string
	RedisPassword  string
	IdempotencyTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	SchedulerInterval time.Duration
	SchedulerWorkers  int

	LogLevel  string
	LogPretty bool
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment and defaults")
	}

	return Config{
		Port: getEnv("PORT", "8080"),

		DBUrl:          getEnv("DB_URL", ""),
		DBMaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 25),
		DBLockWait:     getDuration("DB_LOCK_WAIT", 5*time.Second),
		DBTxTimeout:    getDuration("DB_TX_TIMEOUT", 10*time.Second),

		LedgerTimezone:   getEnv("LEDGER_TIMEZONE", "Asia/Aden"),
		LoanAdminFeeRate: getDecimal("LOAN_ADMIN_FEE_RATE", decimal.RequireFromString("0.02")),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 20),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		KafkaBrokers: getList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ledger.events"),

		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerWorkers:  getInt("SCHEDULER_WORKERS", 4),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getBool("LOG_PRETTY", false),
	}
}

// Location resolves LedgerTimezone, falling back to a fixed UTC+3 zone when the tz
// database is unavailable.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.LedgerTimezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", c.LedgerTimezone).Msg("Unknown ledger timezone, using UTC+3")
		return time.FixedZone("AST", 3*60*60)
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v, err := decimal.NewFromString(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
