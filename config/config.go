package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env         string `env:"ENV" envDefault:"production"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	Redis       RedisConfig
	Providers   ProvidersConfig
	Permissions PermissionsConfig
	Storage     StorageConfig
	Audit       AuditConfig
}

type ServerConfig struct {
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// BaseOrigin is the only absolute origin accepted as a post-login
	// redirect target, e.g. https://portal.osda.example.
	BaseOrigin            string `env:"SERVER_BASE_ORIGIN" envDefault:"http://localhost:8080"`
	LandingPath           string `env:"SERVER_LANDING_PATH" envDefault:"/app/dashboard"`
	ProfileCompletionPath string `env:"SERVER_PROFILE_COMPLETION_PATH" envDefault:"/complete-profile"`
	CookieSecure          bool   `env:"SERVER_COOKIE_SECURE" envDefault:"true"`
}

// DatabaseConfig configures the account store. Backend memory keeps
// accounts in process and is meant for local development.
type DatabaseConfig struct {
	Backend  string `env:"DB_BACKEND" envDefault:"postgres"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"osda"`
	Password string `env:"DB_PASSWORD" envDefault:"password"`
	DBName   string `env:"DB_NAME" envDefault:"osda_portal"`
	UseSSL   bool   `env:"DB_USE_SSL" envDefault:"false"`
}

type AuthConfig struct {
	JWTSecret          string        `env:"JWT_SECRET"`
	Issuer             string        `env:"JWT_ISSUER" envDefault:"osda-portal"`
	TokenLeeway        time.Duration `env:"JWT_LEEWAY" envDefault:"5s"`
	PendingTTL         time.Duration `env:"AUTH_PENDING_TTL" envDefault:"30m"`
	LoginRatePerSecond float64       `env:"AUTH_LOGIN_RATE" envDefault:"2"`
	LoginBurst         int           `env:"AUTH_LOGIN_BURST" envDefault:"10"`
	BcryptCost         int           `env:"AUTH_BCRYPT_COST" envDefault:"10"`
}

// RedisConfig configures the pending federated identity store. An empty
// address keeps pending identities in process memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type ProvidersConfig struct {
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	KeycloakIssuer       string `env:"KEYCLOAK_ISSUER"`
	KeycloakClientID     string `env:"KEYCLOAK_CLIENT_ID"`
	KeycloakClientSecret string `env:"KEYCLOAK_CLIENT_SECRET"`
	KeycloakRedirectURL  string `env:"KEYCLOAK_REDIRECT_URL"`

	// KeycloakPublicAuthURL replaces the discovered authorization endpoint
	// when the issuer is only reachable on an internal network.
	KeycloakPublicAuthURL string `env:"KEYCLOAK_PUBLIC_AUTH_URL"`
}

// PermissionsConfig selects where the role to permission table is read from.
// Source is one of builtin, file or storage.
type PermissionsConfig struct {
	Source          string        `env:"PERMISSIONS_SOURCE" envDefault:"builtin"`
	File            string        `env:"PERMISSIONS_FILE"`
	ObjectKey       string        `env:"PERMISSIONS_OBJECT_KEY" envDefault:"permissions/current.json"`
	RefreshInterval time.Duration `env:"PERMISSIONS_REFRESH_INTERVAL" envDefault:"0s"`
}

type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" envDefault:"minio"`
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET" envDefault:"osda-config"`
	UseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

type GCSConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	ProjectID       string `env:"GCS_PROJECT_ID"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

// AuditConfig selects the audit sink. Backend is one of log, rabbitmq or pubsub.
type AuditConfig struct {
	Backend  string `env:"AUDIT_BACKEND" envDefault:"log"`
	Channel  string `env:"AUDIT_CHANNEL" envDefault:"osda.auth.audit"`
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string `env:"RABBITMQ_URL"`
	QueueDurable    bool   `env:"RABBITMQ_QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"RABBITMQ_QUEUE_AUTO_DELETE" envDefault:"false"`
	PrefetchCount   int    `env:"RABBITMQ_PREFETCH" envDefault:"10"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile    string `env:"PUBSUB_CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"PUBSUB_SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the service runs in local development mode.
func (c Config) IsDev() bool {
	return c.Env == "dev"
}
