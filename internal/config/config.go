package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the media server
type Config struct {
	// Server settings
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Data directories. The cache dirs are optional and default to
	// subdirectories of DataDir.
	DataDir           string `yaml:"data_dir"`
	TranscodeCacheDir string `yaml:"transcode_cache_dir"`
	ImageDir          string `yaml:"image_dir"`
	FFmpegDir         string `yaml:"ffmpeg_dir"`

	// TMDb API
	TMDbAPIKey string `yaml:"tmdb_api_key"`

	// Media backends
	Backends []Backend `yaml:"backends"`
}

// Backend is a named, rooted directory containing source video files
type Backend struct {
	Name    string `yaml:"name"`
	RootDir string `yaml:"root_dir"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Host:    "127.0.0.1",
		Port:    8000,
		DataDir: filepath.Join(homeDir, ".streambox"),
	}
}

// Load reads configuration from file or environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPaths := []string{
		"config.yaml",
		"config.yml",
		filepath.Join(os.Getenv("HOME"), ".streambox", "config.yaml"),
		"/etc/streambox/config.yaml",
	}

	var configFile string
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			configFile = path
			break
		}
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override with environment variables
	if host := os.Getenv("STREAMBOX_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("STREAMBOX_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid STREAMBOX_PORT: %w", err)
		}
		cfg.Port = p
	}
	if dataDir := os.Getenv("STREAMBOX_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if tmdbKey := os.Getenv("TMDB_API_KEY"); tmdbKey != "" {
		cfg.TMDbAPIKey = tmdbKey
	}

	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	// Ensure directories exist
	for _, dir := range []string{cfg.DataDir, cfg.GetTranscodeCacheDir(), cfg.GetImageDir(), cfg.GetFFmpegDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// GetTranscodeCacheDir returns the directory holding transcoded HLS segments
func (c *Config) GetTranscodeCacheDir() string {
	if c.TranscodeCacheDir != "" {
		return c.TranscodeCacheDir
	}
	return filepath.Join(c.DataDir, "transcode_cache")
}

// GetImageDir returns the directory for cached artwork
func (c *Config) GetImageDir() string {
	if c.ImageDir != "" {
		return c.ImageDir
	}
	return filepath.Join(c.DataDir, "image_cache")
}

// GetFFmpegDir returns the directory holding managed ffmpeg binaries
func (c *Config) GetFFmpegDir() string {
	if c.FFmpegDir != "" {
		return c.FFmpegDir
	}
	return filepath.Join(c.DataDir, "ffmpeg")
}

// FFmpegPath returns the ffmpeg binary to use, preferring a managed
// binary in the ffmpeg dir over one on PATH
func (c *Config) FFmpegPath() string {
	managed := filepath.Join(c.GetFFmpegDir(), "ffmpeg")
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return "ffmpeg"
}

// FFprobePath returns the ffprobe binary to use
func (c *Config) FFprobePath() string {
	managed := filepath.Join(c.GetFFmpegDir(), "ffprobe")
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return "ffprobe"
}

// GetBackendByName returns the backend with the given name, or nil
func (c *Config) GetBackendByName(name string) *Backend {
	for i := range c.Backends {
		if c.Backends[i].Name == name {
			return &c.Backends[i]
		}
	}
	return nil
}
