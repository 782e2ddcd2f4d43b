package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	LogLevel            string
	DatabaseURL         string
	RedisURL            string
	FrontendURLEndsWith string
	DevPassword         string
	HealthAdminKey      string

	Asaas    AsaasConfig
	D4Sign   D4SignConfig
	Signing  SigningConfig
	Receita  string // RECEITAWS_BASE_URL
	Policies PolicyConfig
}

type AsaasConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string // HMAC secret; when empty, WebhookToken is compared instead
	WebhookToken  string
	BillingType   string
	DueDays       int
}

type D4SignConfig struct {
	BaseURL          string
	TokenAPI         string
	CryptKey         string
	SafeUUID         string
	FolderUUID       string
	HMACKey          string
	HMACMode         string // "body" or "uuid"
	AutoSign         bool
	InternalSigners  []InternalSigner
	CertificateEmail string
	DownloadRetries  int
	RetryDelay       time.Duration
}

// InternalSigner is one entry of D4SIGN_INTERNAL_SIGNERS ("email:act").
type InternalSigner struct {
	Email string
	Act   string
}

type SigningConfig struct {
	WorkerInterval time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

type PolicyConfig struct {
	NumberPrefix string
}

// IsProduction reports APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ASAAS_BASE_URL", "https://api.asaas.com/v3")
	v.SetDefault("ASAAS_BILLING_TYPE", "UNDEFINED")
	v.SetDefault("ASAAS_DUE_DAYS", 3)
	v.SetDefault("D4SIGN_BASE_URL", "https://secure.d4sign.com.br/api/v1")
	v.SetDefault("D4SIGN_HMAC_MODE", "body")
	v.SetDefault("D4SIGN_AUTO_SIGN", false)
	v.SetDefault("D4SIGN_DOWNLOAD_RETRIES", 3)
	v.SetDefault("D4SIGN_DOWNLOAD_RETRY_DELAY", "2s")
	v.SetDefault("RECEITAWS_BASE_URL", "https://www.receitaws.com.br/v1")
	v.SetDefault("SIGNING_WORKER_INTERVAL", "5s")
	v.SetDefault("SIGNING_MAX_ATTEMPTS", 8)
	v.SetDefault("SIGNING_BACKOFF_BASE", "30s")
	v.SetDefault("SIGNING_BACKOFF_MAX", "30m")
	v.SetDefault("POLICY_NUMBER_PREFIX", "FIN")

	return &Config{
		Env:                 v.GetString("APP_ENV"),
		Port:                v.GetString("PORT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		RedisURL:            v.GetString("REDIS_URL"),
		FrontendURLEndsWith: v.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         v.GetString("DEV_PASSWORD"),
		HealthAdminKey:      v.GetString("HEALTH_ADMIN_KEY"),
		Asaas: AsaasConfig{
			BaseURL:       v.GetString("ASAAS_BASE_URL"),
			APIKey:        v.GetString("ASAAS_API_KEY"),
			WebhookSecret: v.GetString("ASAAS_WEBHOOK_SECRET"),
			WebhookToken:  v.GetString("ASAAS_WEBHOOK_TOKEN"),
			BillingType:   v.GetString("ASAAS_BILLING_TYPE"),
			DueDays:       v.GetInt("ASAAS_DUE_DAYS"),
		},
		D4Sign: D4SignConfig{
			BaseURL:          v.GetString("D4SIGN_BASE_URL"),
			TokenAPI:         v.GetString("D4SIGN_TOKEN_API"),
			CryptKey:         v.GetString("D4SIGN_CRYPT_KEY"),
			SafeUUID:         v.GetString("D4SIGN_SAFE_UUID"),
			FolderUUID:       v.GetString("D4SIGN_FOLDER_UUID"),
			HMACKey:          v.GetString("D4SIGN_HMAC_KEY"),
			HMACMode:         strings.ToLower(v.GetString("D4SIGN_HMAC_MODE")),
			AutoSign:         v.GetBool("D4SIGN_AUTO_SIGN"),
			InternalSigners:  ParseInternalSigners(v.GetString("D4SIGN_INTERNAL_SIGNERS")),
			CertificateEmail: v.GetString("D4SIGN_CERTIFICATE_EMAIL"),
			DownloadRetries:  v.GetInt("D4SIGN_DOWNLOAD_RETRIES"),
			RetryDelay:       v.GetDuration("D4SIGN_DOWNLOAD_RETRY_DELAY"),
		},
		Signing: SigningConfig{
			WorkerInterval: v.GetDuration("SIGNING_WORKER_INTERVAL"),
			MaxAttempts:    v.GetInt("SIGNING_MAX_ATTEMPTS"),
			BackoffBase:    v.GetDuration("SIGNING_BACKOFF_BASE"),
			BackoffMax:     v.GetDuration("SIGNING_BACKOFF_MAX"),
		},
		Receita:  v.GetString("RECEITAWS_BASE_URL"),
		Policies: PolicyConfig{NumberPrefix: v.GetString("POLICY_NUMBER_PREFIX")},
	}, nil
}

// ParseInternalSigners reads "a@x.com:4,b@x.com:1". A missing act defaults to "4" (approve).
func ParseInternalSigners(raw string) []InternalSigner {
	var out []InternalSigner
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		email, act, _ := strings.Cut(item, ":")
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		act = strings.TrimSpace(act)
		if act == "" {
			act = "4"
		}
		out = append(out, InternalSigner{Email: email, Act: act})
	}
	return out
}
