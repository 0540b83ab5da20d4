package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr     = "127.0.0.1:7331"
	defaultThumbnailRatio = 0.15
	defaultArtDebounce    = 300 * time.Millisecond
	defaultDBFile         = "nowplaying/state.db"
)

// fileConfig mirrors the optional YAML file named by NP_CONFIG
type fileConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	DBPath         string        `yaml:"db_path"`
	ThumbnailRatio float64       `yaml:"thumbnail_ratio"`
	ArtDebounce    time.Duration `yaml:"art_debounce"`
}

// AppConfig holds application configuration
type AppConfig struct {
	logger         *zap.Logger
	listenAddr     string
	dbPath         string
	thumbnailRatio float64
	artDebounce    time.Duration
}

// NewAppConfig creates a new application configuration instance.
// Precedence: environment variables, then the YAML file, then defaults.
func NewAppConfig(logger *zap.Logger) (*AppConfig, error) {
	cfg := &AppConfig{
		logger:         logger,
		listenAddr:     defaultListenAddr,
		dbPath:         defaultDBPath(),
		thumbnailRatio: defaultThumbnailRatio,
		artDebounce:    defaultArtDebounce,
	}

	if path := os.Getenv("NP_CONFIG"); path != "" {
		if err := cfg.loadFile(expandPath(path)); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	cfg.dbPath = expandPath(cfg.dbPath)

	logger.Info("Configuration loaded",
		zap.String("listenAddr", cfg.listenAddr),
		zap.String("dbPath", cfg.dbPath),
		zap.Float64("thumbnailRatio", cfg.thumbnailRatio),
		zap.Duration("artDebounce", cfg.artDebounce))

	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		c.listenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.dbPath = fc.DBPath
	}
	if fc.ThumbnailRatio != 0 {
		c.thumbnailRatio = fc.ThumbnailRatio
	}
	if fc.ArtDebounce != 0 {
		c.artDebounce = fc.ArtDebounce
	}
	return c.validate()
}

func (c *AppConfig) loadEnv() error {
	if v := os.Getenv("NP_LISTEN_ADDR"); v != "" {
		c.listenAddr = v
	}
	if v := os.Getenv("NP_DB_PATH"); v != "" {
		c.dbPath = v
	}
	if v := os.Getenv("NP_THUMBNAIL_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid NP_THUMBNAIL_RATIO %q: %w", v, err)
		}
		c.thumbnailRatio = ratio
	}
	if v := os.Getenv("NP_ART_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NP_ART_DEBOUNCE %q: %w", v, err)
		}
		c.artDebounce = d
	}
	return c.validate()
}

func (c *AppConfig) validate() error {
	if c.thumbnailRatio <= 0 || c.thumbnailRatio > 1 {
		return fmt.Errorf("thumbnail ratio must be in (0, 1], got %v", c.thumbnailRatio)
	}
	if c.artDebounce < 0 {
		return fmt.Errorf("art debounce must not be negative, got %v", c.artDebounce)
	}
	return nil
}

func defaultDBPath() string {
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, defaultDBFile)
	}
	return filepath.Join("~", ".local", "state", defaultDBFile)
}

// expandPath expands environment variables and a leading ~
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}

// GetListenAddr returns the address of the overlay API
func (c *AppConfig) GetListenAddr() string {
	return c.listenAddr
}

// GetDBPath returns the path of the preference database
func (c *AppConfig) GetDBPath() string {
	return c.dbPath
}

// GetThumbnailRatio returns the thumbnail height as a share of screen height
func (c *AppConfig) GetThumbnailRatio() float64 {
	return c.thumbnailRatio
}

// GetArtDebounce returns the quiet period before artwork is fetched
func (c *AppConfig) GetArtDebounce() time.Duration {
	return c.artDebounce
}
