package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"vibin_matcher/models"
	"vibin_matcher/services"
)

// Store and geo index backends
const (
	StoreDynamo   = "dynamo"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
	IndexBleve    = "bleve"
	IndexMemory   = "memory"
	defaultDotEnv = ".env"
)

// Config holds every setting the server and CLI read from the environment.
type Config struct {
	Port  string `env:"PORT" envDefault:"8080"`
	Debug bool   `env:"DEBUG" envDefault:"false"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamo"`
	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"vibin.db"`

	UsersTable           string `env:"TABLE_USERS" envDefault:"Users"`
	SwipesTable          string `env:"TABLE_SWIPES" envDefault:"Swipes"`
	MatchesTable         string `env:"TABLE_MATCHES" envDefault:"Matches"`
	RecommendationsTable string `env:"TABLE_RECOMMENDATIONS" envDefault:"Recommendations"`

	// Stream ARNs; when empty and the store is DynamoDB, triggers only run
	// through the event webhooks.
	UsersStreamARN           string        `env:"USERS_STREAM_ARN"`
	RecommendationsStreamARN string        `env:"RECOMMENDATIONS_STREAM_ARN"`
	StreamPollInterval       time.Duration `env:"STREAM_POLL_INTERVAL" envDefault:"1s"`

	GeoIndexBackend string `env:"GEO_INDEX_BACKEND" envDefault:"bleve"`
	GeoIndexPath    string `env:"GEO_INDEX_PATH"` // empty keeps the bleve index in memory

	S3BucketName string `env:"S3_BUCKET_NAME"`

	BatchCeiling                int           `env:"RECOMMENDATION_BATCH_CEILING" envDefault:"100"`
	LowWaterMark                int           `env:"RECOMMENDATION_LOW_WATER_MARK" envDefault:"15"`
	UnlimitedRadiusKm           float64       `env:"UNLIMITED_RADIUS_KM" envDefault:"10000"`
	CandidatePageSize           int           `env:"CANDIDATE_PAGE_SIZE" envDefault:"50"`
	RecomputeLeaseEnabled       bool          `env:"RECOMPUTE_LEASE_ENABLED" envDefault:"true"`
	RecomputeLeaseTTL           time.Duration `env:"RECOMPUTE_LEASE_TTL" envDefault:"2m"`
	RecomputeOnVisibilityChange bool          `env:"RECOMPUTE_ON_VISIBILITY_CHANGE" envDefault:"false"`
	EventTimeout                time.Duration `env:"EVENT_TIMEOUT" envDefault:"30s"`

	DefaultDistanceRadius   string `env:"DEFAULT_DISTANCE_RADIUS" envDefault:"unlimited"`
	DefaultGender           string `env:"DEFAULT_GENDER" envDefault:"none"`
	DefaultGenderPreference string `env:"DEFAULT_GENDER_PREFERENCE" envDefault:"all"`
	DefaultShowMe           bool   `env:"DEFAULT_SHOW_ME" envDefault:"true"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads a .env file when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(defaultDotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", defaultDotEnv, err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown backends and non-positive limits
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreDynamo, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.GeoIndexBackend {
	case IndexBleve, IndexMemory:
	default:
		return fmt.Errorf("unknown GEO_INDEX_BACKEND %q", c.GeoIndexBackend)
	}
	if c.BatchCeiling <= 0 {
		return fmt.Errorf("RECOMMENDATION_BATCH_CEILING must be positive, got %d", c.BatchCeiling)
	}
	if c.CandidatePageSize <= 0 {
		return fmt.Errorf("CANDIDATE_PAGE_SIZE must be positive, got %d", c.CandidatePageSize)
	}
	if c.UnlimitedRadiusKm <= 0 {
		return fmt.Errorf("UNLIMITED_RADIUS_KM must be positive, got %g", c.UnlimitedRadiusKm)
	}
	return nil
}

func (c *Config) Tables() services.Tables {
	return services.Tables{
		Users:           c.UsersTable,
		Swipes:          c.SwipesTable,
		Matches:         c.MatchesTable,
		Recommendations: c.RecommendationsTable,
	}
}

// DefaultSettings are written to profiles that never chose their own
func (c *Config) DefaultSettings() models.UserSettings {
	return models.UserSettings{
		DistanceRadius:   c.DefaultDistanceRadius,
		Gender:           c.DefaultGender,
		GenderPreference: c.DefaultGenderPreference,
		ShowMe:           c.DefaultShowMe,
	}
}

func (c *Config) RecommendationOptions() services.RecommendationOptions {
	return services.RecommendationOptions{
		BatchCeiling:      c.BatchCeiling,
		UnlimitedRadiusKm: c.UnlimitedRadiusKm,
		CandidatePageSize: c.CandidatePageSize,
		LeaseEnabled:      c.RecomputeLeaseEnabled,
		LeaseTTL:          c.RecomputeLeaseTTL,
	}
}

func (c *Config) TriggerOptions() services.TriggerOptions {
	return services.TriggerOptions{
		LowWaterMark:                c.LowWaterMark,
		RecomputeOnVisibilityChange: c.RecomputeOnVisibilityChange,
	}
}
