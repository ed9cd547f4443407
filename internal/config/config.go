package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"dessertmap/pkg/redeemcode"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	JWTSecret   string
	LogLevel    string
	LogPretty   bool

	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	KafkaTopic    string

	JaegerEndpoint string

	CodeLength      int
	CodeMaxAttempts int
	LockTimeout     time.Duration
	QRPayloadPrefix string

	RedeemRateLimit int
	MetricsUser     string
	MetricsPassword string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found")
	}

	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getBool("LOG_PRETTY", false),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:  getList("KAFKA_BROKERS"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "coupon-events"),

		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),

		CodeLength:      getInt("COUPON_CODE_LENGTH", redeemcode.DefaultLength),
		CodeMaxAttempts: getInt("COUPON_CODE_MAX_ATTEMPTS", 5),
		LockTimeout:     getDuration("COUPON_LOCK_TIMEOUT", 3*time.Second),
		QRPayloadPrefix: getEnv("QR_PAYLOAD_PREFIX", "dessertmap://voucher/"),

		RedeemRateLimit: getInt("REDEEM_RATE_LIMIT", 60),
		MetricsUser:     os.Getenv("METRICS_USER"),
		MetricsPassword: os.Getenv("METRICS_PASSWORD"),
		CORSOrigins:     getListOr("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.CodeLength < redeemcode.MinLength || c.CodeLength > redeemcode.MaxLength {
		errs = append(errs, fmt.Errorf("COUPON_CODE_LENGTH must be within [%d, %d]", redeemcode.MinLength, redeemcode.MaxLength))
	}
	if c.CodeMaxAttempts < 1 {
		errs = append(errs, errors.New("COUPON_CODE_MAX_ATTEMPTS must be positive"))
	}
	if c.LockTimeout < time.Millisecond {
		errs = append(errs, errors.New("COUPON_LOCK_TIMEOUT must be at least 1ms"))
	}
	if c.RedeemRateLimit < 1 {
		errs = append(errs, errors.New("REDEEM_RATE_LIMIT must be positive"))
	}
	if (c.MetricsUser == "") != (c.MetricsPassword == "") {
		errs = append(errs, errors.New("METRICS_USER and METRICS_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Некорректные числа и длительности логируются и заменяются значением по умолчанию.
func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid bool, using default")
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return def
	}
	return d
}

func getList(key string) []string {
	return getListOr(key, nil)
}

func getListOr(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
