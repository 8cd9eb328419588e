package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"CM_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CM_DB_MAX_CONNS" default:"8"`

	// ClassifierRuleset selects the transaction classification rule table.
	// "v1" is the collector rule set, "v2" adds the web-layer markers.
	ClassifierRuleset string `envconfig:"CLASSIFIER_RULESET" default:"v1"`

	SnapshotRefreshInterval time.Duration `envconfig:"SNAPSHOT_REFRESH_INTERVAL" default:"60s"`

	SearchDefaultLimit int `envconfig:"SEARCH_DEFAULT_LIMIT" default:"50"`
	SearchMaxLimit     int `envconfig:"SEARCH_MAX_LIMIT" default:"500"`
	TrendingMinSupport int `envconfig:"TRENDING_MIN_SUPPORT" default:"5"`
	TagSuggestionLimit int `envconfig:"TAG_SUGGESTION_LIMIT" default:"20"`
	TrendingTagLimit   int `envconfig:"TRENDING_TAG_LIMIT" default:"50"`
	TagMaxLimit        int `envconfig:"TAG_MAX_LIMIT" default:"200"`

	// IngestToken guards the write-side HTTP endpoints. When empty the
	// POST endpoints are disabled entirely.
	IngestToken string `envconfig:"INGEST_TOKEN" default:""`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("CM_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CM_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CM_DB_MIN_CONNS (%d) cannot exceed CM_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch strings.TrimSpace(strings.ToLower(c.ClassifierRuleset)) {
	case "v1", "v2":
	default:
		return fmt.Errorf("CLASSIFIER_RULESET must be v1 or v2")
	}
	if c.SnapshotRefreshInterval < time.Second {
		return fmt.Errorf("SNAPSHOT_REFRESH_INTERVAL must be >= 1s")
	}
	if c.SearchDefaultLimit < 1 {
		return fmt.Errorf("SEARCH_DEFAULT_LIMIT must be >= 1")
	}
	if c.SearchMaxLimit < c.SearchDefaultLimit {
		return fmt.Errorf("SEARCH_MAX_LIMIT (%d) cannot be below SEARCH_DEFAULT_LIMIT (%d)", c.SearchMaxLimit, c.SearchDefaultLimit)
	}
	if c.TrendingMinSupport < 1 {
		return fmt.Errorf("TRENDING_MIN_SUPPORT must be >= 1")
	}
	if c.TagSuggestionLimit < 1 {
		return fmt.Errorf("TAG_SUGGESTION_LIMIT must be >= 1")
	}
	if c.TrendingTagLimit < 1 {
		return fmt.Errorf("TRENDING_TAG_LIMIT must be >= 1")
	}
	if c.TagMaxLimit < c.TrendingTagLimit || c.TagMaxLimit < c.TagSuggestionLimit {
		return fmt.Errorf("TAG_MAX_LIMIT (%d) cannot be below TRENDING_TAG_LIMIT or TAG_SUGGESTION_LIMIT", c.TagMaxLimit)
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
