// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetEnv() string
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetWebhookAppToken() string
}

// QueueConfig provides settings for the asynq queue transport.
type QueueConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// BitrixConfig provides settings for the Bitrix24 REST client, including
// the Redis connection the token source reads from.
type BitrixConfig interface {
	GetBitrixDomain() string
	GetBitrixAccessToken() string
	GetBitrixTokenRedisKey() string
	GetBitrixCallTimeout() time.Duration
	GetBitrixRateLimit() float64
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// TokenRefreshConfig provides settings for the OAuth token refresher.
type TokenRefreshConfig interface {
	GetBitrixClientID() string
	GetBitrixClientSecret() string
	GetBitrixRefreshToken() string
	GetBitrixTokenRedisKey() string
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SyncConfig provides the CRM entity and field identifiers the
// reconciliation engines operate on.
type SyncConfig interface {
	GetCaseTypeID() int
	GetResidenceTypeID() int
	GetWorkPermitTypeID() int
	GetLegalizationTypeID() int

	GetResidenceLinkField() string
	GetResidenceDatesField() string
	GetResidenceDateField() string
	GetWorkPermitLinkField() string
	GetWorkPermitDatesField() string
	GetWorkPermitDateField() string
	GetLegalizationLinkField() string

	GetMirrorMappingFile() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env      string
	HTTPAddr string

	CORSAllowAll    bool
	CORSOrigins     []string
	WebhookAppToken string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	BitrixDomain        string
	BitrixAccessToken   string
	BitrixTokenRedisKey string
	BitrixCallTimeout   time.Duration
	BitrixRateLimit     float64

	BitrixClientID     string
	BitrixClientSecret string
	BitrixRefreshToken string

	CaseTypeID         int
	ResidenceTypeID    int
	WorkPermitTypeID   int
	LegalizationTypeID int

	ResidenceLinkField    string
	ResidenceDatesField   string
	ResidenceDateField    string
	WorkPermitLinkField   string
	WorkPermitDatesField  string
	WorkPermitDateField   string
	LegalizationLinkField string

	MirrorMappingFile string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// HTTPConfig implementation
func (c *Config) GetEnv() string             { return c.Env }
func (c *Config) GetHTTPAddr() string        { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool      { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string   { return c.CORSOrigins }
func (c *Config) GetWebhookAppToken() string { return c.WebhookAppToken }

// QueueConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// BitrixConfig implementation
func (c *Config) GetBitrixDomain() string             { return c.BitrixDomain }
func (c *Config) GetBitrixAccessToken() string        { return c.BitrixAccessToken }
func (c *Config) GetBitrixTokenRedisKey() string      { return c.BitrixTokenRedisKey }
func (c *Config) GetBitrixCallTimeout() time.Duration { return c.BitrixCallTimeout }
func (c *Config) GetBitrixRateLimit() float64         { return c.BitrixRateLimit }

// TokenRefreshConfig implementation
func (c *Config) GetBitrixClientID() string     { return c.BitrixClientID }
func (c *Config) GetBitrixClientSecret() string { return c.BitrixClientSecret }
func (c *Config) GetBitrixRefreshToken() string { return c.BitrixRefreshToken }

// SyncConfig implementation
func (c *Config) GetCaseTypeID() int         { return c.CaseTypeID }
func (c *Config) GetResidenceTypeID() int    { return c.ResidenceTypeID }
func (c *Config) GetWorkPermitTypeID() int   { return c.WorkPermitTypeID }
func (c *Config) GetLegalizationTypeID() int { return c.LegalizationTypeID }

func (c *Config) GetResidenceLinkField() string    { return c.ResidenceLinkField }
func (c *Config) GetResidenceDatesField() string   { return c.ResidenceDatesField }
func (c *Config) GetResidenceDateField() string    { return c.ResidenceDateField }
func (c *Config) GetWorkPermitLinkField() string   { return c.WorkPermitLinkField }
func (c *Config) GetWorkPermitDatesField() string  { return c.WorkPermitDatesField }
func (c *Config) GetWorkPermitDateField() string   { return c.WorkPermitDateField }
func (c *Config) GetLegalizationLinkField() string { return c.LegalizationLinkField }

func (c *Config) GetMirrorMappingFile() string { return c.MirrorMappingFile }

// Load reads configuration from environment variables.
// Entity and field identifiers default to the production CRM layout so a
// deployment only has to set domain, credentials and Redis.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		CORSAllowAll:    strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true"),
		CORSOrigins:     splitCSV(getEnv("CORS_ORIGINS", "")),
		WebhookAppToken: getEnv("B24_APP_TOKEN", ""),

		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE_NAME", "b24-case-sync"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),

		BitrixDomain:        getEnv("B24_DOMAIN", ""),
		BitrixAccessToken:   getEnv("B24_ACCESS_TOKEN", ""),
		BitrixTokenRedisKey: getEnv("B24_TOKEN_REDIS_KEY", "b24:access-token"),
		BitrixCallTimeout:   mustDuration(getEnv("B24_CALL_TIMEOUT", "30s")),
		BitrixRateLimit:     mustFloat(getEnv("B24_RATE_LIMIT", "2")),

		BitrixClientID:     getEnv("B24_CLIENT_ID", ""),
		BitrixClientSecret: getEnv("B24_CLIENT_SECRET", ""),
		BitrixRefreshToken: getEnv("B24_REFRESH_TOKEN", ""),

		CaseTypeID:         mustInt(getEnv("B24_CASE_TYPE_ID", "1106")),
		ResidenceTypeID:    mustInt(getEnv("B24_RESIDENCE_TYPE_ID", "1042")),
		WorkPermitTypeID:   mustInt(getEnv("B24_WORK_PERMIT_TYPE_ID", "1046")),
		LegalizationTypeID: mustInt(getEnv("B24_LEGALIZATION_TYPE_ID", "1110")),

		ResidenceLinkField:    getEnv("FIELD_CASE_RESIDENCE_LINKS", "ufCrm38_1768737959"),
		ResidenceDatesField:   getEnv("FIELD_CASE_RESIDENCE_DATES", "ufCrm38_1768738011252"),
		ResidenceDateField:    getEnv("FIELD_RESIDENCE_VALID_UNTIL", "ufCrm10_1763581700754"),
		WorkPermitLinkField:   getEnv("FIELD_CASE_WORK_PERMIT_LINKS", "ufCrm38_1768738112"),
		WorkPermitDatesField:  getEnv("FIELD_CASE_WORK_PERMIT_DATES", "ufCrm38_1768738327769"),
		WorkPermitDateField:   getEnv("FIELD_WORK_PERMIT_VALID_UNTIL", "ufCrm12_1764516949310"),
		LegalizationLinkField: getEnv("FIELD_CASE_LEGALIZATION_LINKS", "ufCrm38_1768738413"),

		MirrorMappingFile: getEnv("MIRROR_MAPPING_FILE", ""),
	}

	if cfg.BitrixDomain == "" {
		return nil, fmt.Errorf("B24_DOMAIN is required")
	}
	if cfg.AsynqConcurrency < 1 {
		cfg.AsynqConcurrency = 10
	}
	if cfg.BitrixCallTimeout <= 0 {
		cfg.BitrixCallTimeout = 30 * time.Second
	}
	if cfg.BitrixRateLimit <= 0 {
		cfg.BitrixRateLimit = 2
	}
	if !cfg.CORSAllowAll && len(cfg.CORSOrigins) == 0 {
		// Webhooks are server-to-server; browsers have no business here.
		cfg.CORSOrigins = []string{"https://" + cfg.BitrixDomain}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
