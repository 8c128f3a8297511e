package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                   int           `yaml:"port"`
	DataDir                string        `yaml:"data_dir"`
	StagingDir             string        `yaml:"staging_dir"`
	OutputDir              string        `yaml:"output_dir"`
	LogDir                 string        `yaml:"log_dir"`
	FFmpegPath             string        `yaml:"ffmpeg_path"`
	MaxFileSizeMB          int64         `yaml:"max_file_size_mb"`
	AllowedVideoExtensions []string      `yaml:"allowed_video_extensions"`
	DefaultFormat          string        `yaml:"default_format"`
	DefaultBitrate         string        `yaml:"default_bitrate"`
	TranscodeTimeout       time.Duration `yaml:"transcode_timeout"`
	MaxConcurrentJobs      int           `yaml:"max_concurrent_jobs"`
	DownloadBaseURL        string        `yaml:"download_base_url"`
	StoreBackend           string        `yaml:"store_backend"`
	RetentionHours         int           `yaml:"retention_hours"`
	RateLimitPerMinute     int           `yaml:"rate_limit_per_minute"`
	TrustProxy             bool          `yaml:"trust_proxy"`
	Debug                  bool          `yaml:"debug"`
}

const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
)

func Default() *Config {
	return &Config{
		Port:                   7890,
		DataDir:                "./data",
		MaxFileSizeMB:          500,
		AllowedVideoExtensions: []string{"mp4", "avi", "mov", "wmv", "flv", "mkv", "webm"},
		DefaultFormat:          "mp3",
		DefaultBitrate:         "192k",
		TranscodeTimeout:       30 * time.Minute,
		MaxConcurrentJobs:      2,
		DownloadBaseURL:        "/download",
		StoreBackend:           StoreSQLite,
		RetentionHours:         168,
		RateLimitPerMinute:     10,
	}
}

// Load layers defaults, an optional YAML file named by CONFIG_FILE and the
// environment, in that order. A .env file in the working directory is read
// first and never overrides variables that are already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}

	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	var err error

	if c.Port, err = envInt("PORT", c.Port); err != nil {
		return err
	}
	if c.MaxFileSizeMB, err = envInt64("MAX_FILE_SIZE_MB", c.MaxFileSizeMB); err != nil {
		return err
	}
	if c.MaxConcurrentJobs, err = envInt("MAX_CONCURRENT_JOBS", c.MaxConcurrentJobs); err != nil {
		return err
	}
	if c.RetentionHours, err = envInt("RETENTION_HOURS", c.RetentionHours); err != nil {
		return err
	}
	if c.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute); err != nil {
		return err
	}
	if v := os.Getenv("TRANSCODE_TIMEOUT"); v != "" {
		if c.TranscodeTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid TRANSCODE_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		if c.Debug, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("invalid DEBUG: %w", err)
		}
	}
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		if c.TrustProxy, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("invalid TRUST_PROXY: %w", err)
		}
	}
	if v := os.Getenv("ALLOWED_VIDEO_EXTENSIONS"); v != "" {
		c.AllowedVideoExtensions = splitList(v)
	}

	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.StagingDir = getEnv("STAGING_DIR", c.StagingDir)
	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.DefaultFormat = getEnv("DEFAULT_FORMAT", c.DefaultFormat)
	c.DefaultBitrate = getEnv("DEFAULT_BITRATE", c.DefaultBitrate)
	c.DownloadBaseURL = getEnv("DOWNLOAD_BASE_URL", c.DownloadBaseURL)
	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	return nil
}

func (c *Config) fillDerived() {
	if c.StagingDir == "" {
		c.StagingDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.DataDir, "converted")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
		if resolved, err := exec.LookPath("ffmpeg"); err == nil {
			c.FFmpegPath = resolved
		}
	}
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.DownloadBaseURL = strings.TrimRight(c.DownloadBaseURL, "/")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	if c.MaxFileSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE_MB must be positive"))
	}
	if c.TranscodeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TRANSCODE_TIMEOUT must be positive"))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_JOBS must be positive"))
	}
	if c.RetentionHours <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_HOURS must be positive"))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative"))
	}
	if len(c.AllowedVideoExtensions) == 0 {
		errs = append(errs, fmt.Errorf("ALLOWED_VIDEO_EXTENSIONS must not be empty"))
	}
	if c.StoreBackend != StoreSQLite && c.StoreBackend != StoreJSON {
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	return errors.Join(errs...)
}

// EnsureDirectories creates every storage directory. It is safe to call
// more than once.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.StagingDir, c.OutputDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
