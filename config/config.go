package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Video    VideoConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // used to build local media URLs
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	RecordStore string // postgres | memory
	URL         string // if set, used as-is
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are issued by the identity service.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// StorageConfig selects and configures the object publisher.
type StorageConfig struct {
	Driver          string // s3 | minio | local
	Region          string
	Endpoint        string // optional; S3-compatible endpoint or MinIO host:port
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	SignedURLTTL    time.Duration
	LocalDir        string
}

// Profile is one rendition target.
type Profile struct {
	Width       int
	Height      int
	BitrateKbps int
}

// String renders the profile as WIDTHxHEIGHT@KBPSk.
func (p Profile) String() string {
	return fmt.Sprintf("%dx%d@%dk", p.Width, p.Height, p.BitrateKbps)
}

// VideoConfig holds ingestion limits and transcoding settings.
type VideoConfig struct {
	MaxUploadBytes     int64
	MaxDurationSeconds int
	High               Profile
	Medium             Profile
	Low                Profile
	TranscodeTimeout   time.Duration
	ProbeTimeout       time.Duration
	FFmpegPath         string
	FFprobePath        string
	StagingDir         string
}

// WorkerConfig controls how background jobs are dispatched.
type WorkerConfig struct {
	QueueDriver      string // memory | redis
	Concurrency      int
	QueueSize        int
	OrphanSweepEvery time.Duration
	OrphanSweepBatch int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	high, err := ParseProfile(getEnv("RENDITION_HIGH", "1920x1080@4000k"))
	if err != nil {
		return nil, fmt.Errorf("RENDITION_HIGH: %w", err)
	}
	medium, err := ParseProfile(getEnv("RENDITION_MEDIUM", "1280x720@2000k"))
	if err != nil {
		return nil, fmt.Errorf("RENDITION_MEDIUM: %w", err)
	}
	low, err := ParseProfile(getEnv("RENDITION_LOW", "854x480@1000k"))
	if err != nil {
		return nil, fmt.Errorf("RENDITION_LOW: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 120),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 120),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		Database: DatabaseConfig{
			RecordStore: strings.ToLower(getEnv("RECORD_STORE", "postgres")),
			URL:         getEnv("DATABASE_URL", ""),
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			DBName:      getEnv("DB_NAME", "safetrain"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        getEnv("STORAGE_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("STORAGE_BUCKET", "safetrain-videos"),
			UseSSL:          getEnvBool("STORAGE_USE_SSL", true),
			SignedURLTTL:    getEnvDuration("SIGNED_URL_TTL", time.Hour),
			LocalDir:        getEnv("LOCAL_MEDIA_DIR", "./media"),
		},
		Video: VideoConfig{
			MaxUploadBytes:     getEnvInt64("MAX_UPLOAD_BYTES", 500<<20),
			MaxDurationSeconds: getEnvInt("MAX_DURATION_SECONDS", 3600),
			High:               high,
			Medium:             medium,
			Low:                low,
			TranscodeTimeout:   getEnvDuration("TRANSCODE_TIMEOUT", 30*time.Minute),
			ProbeTimeout:       getEnvDuration("PROBE_TIMEOUT", 30*time.Second),
			FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:        getEnv("FFPROBE_PATH", "ffprobe"),
			StagingDir:         getEnv("STAGING_DIR", os.TempDir()),
		},
		Worker: WorkerConfig{
			QueueDriver:      strings.ToLower(getEnv("QUEUE_DRIVER", "memory")),
			Concurrency:      getEnvInt("WORKER_CONCURRENCY", 2),
			QueueSize:        getEnvInt("WORKER_QUEUE_SIZE", 32),
			OrphanSweepEvery: getEnvDuration("ORPHAN_SWEEP_INTERVAL", 10*time.Minute),
			OrphanSweepBatch: getEnvInt("ORPHAN_SWEEP_BATCH", 100),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Video.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Video.MaxDurationSeconds <= 0 {
		errs = append(errs, errors.New("MAX_DURATION_SECONDS must be positive"))
	}
	if c.Video.TranscodeTimeout <= 0 {
		errs = append(errs, errors.New("TRANSCODE_TIMEOUT must be positive"))
	}
	if c.Worker.Concurrency <= 0 || c.Worker.QueueSize <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY and WORKER_QUEUE_SIZE must be positive"))
	}
	switch c.Storage.Driver {
	case "s3", "minio", "local":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	switch c.Worker.QueueDriver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_DRIVER %q", c.Worker.QueueDriver))
	}
	switch c.Database.RecordStore {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown RECORD_STORE %q", c.Database.RecordStore))
	}
	// Server and worker are separate processes; each would get its own memory store.
	if c.Worker.QueueDriver == "redis" && c.Database.RecordStore == "memory" {
		errs = append(errs, errors.New("QUEUE_DRIVER=redis requires RECORD_STORE=postgres"))
	}
	return errors.Join(errs...)
}

// ParseProfile parses WIDTHxHEIGHT@KBPSk, e.g. 1280x720@2000k.
func ParseProfile(s string) (Profile, error) {
	size, rate, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok {
		return Profile{}, fmt.Errorf("invalid profile %q: want WIDTHxHEIGHT@KBPSk", s)
	}
	w, h, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return Profile{}, fmt.Errorf("invalid profile size %q", size)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Profile{}, fmt.Errorf("invalid profile width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Profile{}, fmt.Errorf("invalid profile height %q", h)
	}
	kbps, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(rate), "k"))
	if err != nil || kbps <= 0 {
		return Profile{}, fmt.Errorf("invalid profile bitrate %q", rate)
	}
	return Profile{Width: width, Height: height, BitrateKbps: kbps}, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
