package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Gateway  GatewayConfig
	Checkout CheckoutConfig
	Auth     AuthConfig
	Features FeatureFlags
	LogLevel string
}

type ServerConfig struct {
	Port         int
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
	MaxLifetime  time.Duration
	QueryTimeout time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
	DedupTTL time.Duration
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

type KafkaConfig struct {
	Brokers            []string
	OrdersTopic        string
	NotificationsTopic string
	ConsumerGroup      string
}

// GatewayConfig holds the payment provider credentials. An empty AccessToken is
// allowed at startup; gateway operations then fail with a configuration error.
type GatewayConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	RateLimit   float64
	Burst       int
}

// CheckoutConfig builds the URLs handed to the hosted checkout page. Without
// PublicBaseURL they are derived from the request; X-Forwarded-Proto and
// X-Forwarded-Host count only when TrustForwardedHeaders is set.
type CheckoutConfig struct {
	PublicBaseURL         string
	SuccessPath           string
	FailurePath           string
	PendingPath           string
	WebhookPath           string
	TrustForwardedHeaders bool
}

type AuthConfig struct {
	AdminJWTSecret string
	AdminRole      string
}

type FeatureFlags struct {
	EnableOrderCaching         bool
	EnableOrderEvents          bool
	EnableWebhookDedup         bool
	EnableNotificationConsumer bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8082),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "acme"),
			Password:     getEnvString("DB_PASSWORD", "acme"),
			Name:         getEnvString("DB_NAME", "acme_checkout"),
			SSLMode:      getEnvString("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME", 300)) * time.Second,
			QueryTimeout: time.Duration(getEnvInt("DB_QUERY_TIMEOUT", 5)) * time.Second,
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      time.Duration(getEnvInt("REDIS_ORDER_TTL", 300)) * time.Second,
			DedupTTL: time.Duration(getEnvInt("REDIS_DEDUP_TTL", 86400)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:            getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic:        getEnvString("KAFKA_ORDERS_TOPIC", "orders"),
			NotificationsTopic: getEnvString("KAFKA_NOTIFICATIONS_TOPIC", "payment-notifications"),
			ConsumerGroup:      getEnvString("KAFKA_CONSUMER_GROUP", "checkout-service"),
		},
		Gateway: GatewayConfig{
			BaseURL:     getEnvString("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
			AccessToken: getEnvString("GATEWAY_ACCESS_TOKEN", ""),
			Timeout:     time.Duration(getEnvInt("GATEWAY_TIMEOUT", 10)) * time.Second,
			RateLimit:   getEnvFloat("GATEWAY_RATE_LIMIT", 10),
			Burst:       getEnvInt("GATEWAY_RATE_BURST", 20),
		},
		Checkout: CheckoutConfig{
			PublicBaseURL:         strings.TrimRight(getEnvString("PUBLIC_BASE_URL", ""), "/"),
			SuccessPath:           getEnvString("CHECKOUT_SUCCESS_PATH", "/payment-success"),
			FailurePath:           getEnvString("CHECKOUT_FAILURE_PATH", "/payment-failure"),
			PendingPath:           getEnvString("CHECKOUT_PENDING_PATH", "/payment-pending"),
			WebhookPath:           getEnvString("CHECKOUT_WEBHOOK_PATH", "/api/payments/webhook"),
			TrustForwardedHeaders: getEnvBool("TRUST_FORWARDED_HEADERS", false),
		},
		Auth: AuthConfig{
			AdminJWTSecret: getEnvString("ADMIN_JWT_SECRET", ""),
			AdminRole:      getEnvString("ADMIN_ROLE", "admin"),
		},
		Features: FeatureFlags{
			EnableOrderCaching:         getEnvBool("ENABLE_ORDER_CACHING", true),
			EnableOrderEvents:          getEnvBool("ENABLE_ORDER_EVENTS", true),
			EnableWebhookDedup:         getEnvBool("ENABLE_WEBHOOK_DEDUP", true),
			EnableNotificationConsumer: getEnvBool("ENABLE_NOTIFICATION_CONSUMER", false),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
