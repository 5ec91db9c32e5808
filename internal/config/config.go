package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Matching    MatchingConfig    `yaml:"matching"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Attribution AttributionConfig `yaml:"attribution"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	Retention   RetentionConfig   `yaml:"retention"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port           int     `yaml:"port"`
	APIKey         string  `yaml:"api_key"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	EmbeddingDim       int     `yaml:"embedding_dim"`
	WorkerCount        int     `yaml:"worker_count"`
}

// MatchingConfig tunes the matcher. Thresholds are cosine distances,
// not similarities: lower means closer.
type MatchingConfig struct {
	AcceptThreshold    float64       `yaml:"accept_threshold"`
	Margin             float64       `yaml:"margin"`
	DuplicateThreshold float64       `yaml:"duplicate_threshold"`
	QualityFloor       float64       `yaml:"quality_floor"`
	PerIdentityCap     int           `yaml:"per_identity_cap"`
	OrgIdentityCap     int           `yaml:"org_identity_cap"`
	OpTimeout          time.Duration `yaml:"op_timeout"`
	RPCTimeout         time.Duration `yaml:"rpc_timeout"`
}

type DedupConfig struct {
	Window           time.Duration `yaml:"window"`
	SessionThreshold float64       `yaml:"session_threshold"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

type AttributionConfig struct {
	Lookback         time.Duration `yaml:"lookback"`
	Cooldown         time.Duration `yaml:"cooldown"`
	AllowNewIdentity bool          `yaml:"allow_new_identity"`
}

type AnalyticsConfig struct {
	DefaultTimezone string `yaml:"default_timezone"`
}

type RetentionConfig struct {
	EventTTL      time.Duration `yaml:"event_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = 20
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 40
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 512
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 6
	}
	if cfg.Matching.AcceptThreshold == 0 {
		cfg.Matching.AcceptThreshold = 0.3
	}
	if cfg.Matching.Margin == 0 {
		cfg.Matching.Margin = 0.05
	}
	if cfg.Matching.DuplicateThreshold == 0 {
		cfg.Matching.DuplicateThreshold = 0.08
	}
	if cfg.Matching.QualityFloor == 0 {
		cfg.Matching.QualityFloor = 0.5
	}
	if cfg.Matching.PerIdentityCap == 0 {
		cfg.Matching.PerIdentityCap = 5
	}
	if cfg.Matching.OrgIdentityCap == 0 {
		cfg.Matching.OrgIdentityCap = 50000
	}
	if cfg.Matching.OpTimeout == 0 {
		cfg.Matching.OpTimeout = 5 * time.Second
	}
	if cfg.Matching.RPCTimeout == 0 {
		cfg.Matching.RPCTimeout = 10 * time.Second
	}
	if cfg.Dedup.Window == 0 {
		cfg.Dedup.Window = 8 * time.Second
	}
	if cfg.Dedup.SessionThreshold == 0 {
		cfg.Dedup.SessionThreshold = 0.45
	}
	if cfg.Dedup.SweepInterval == 0 {
		cfg.Dedup.SweepInterval = 2 * time.Second
	}
	if cfg.Attribution.Lookback == 0 {
		cfg.Attribution.Lookback = 48 * time.Hour
	}
	if cfg.Attribution.Cooldown == 0 {
		cfg.Attribution.Cooldown = 24 * time.Hour
	}
	if cfg.Analytics.DefaultTimezone == "" {
		cfg.Analytics.DefaultTimezone = "UTC"
	}
	if cfg.Retention.EventTTL == 0 {
		cfg.Retention.EventTTL = 90 * 24 * time.Hour
	}
	if cfg.Retention.SweepInterval == 0 {
		cfg.Retention.SweepInterval = time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADMATCH_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ADMATCH_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ADMATCH_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ADMATCH_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ADMATCH_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ADMATCH_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ADMATCH_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ADMATCH_DB_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.Migrate = b
		}
	}
	if v := os.Getenv("ADMATCH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ADMATCH_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ADMATCH_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ADMATCH_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ADMATCH_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ADMATCH_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("ADMATCH_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("ADMATCH_ACCEPT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.AcceptThreshold = f
		}
	}
	if v := os.Getenv("ADMATCH_ORG_IDENTITY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.OrgIdentityCap = n
		}
	}
}
