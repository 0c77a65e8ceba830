package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Entities   EntitiesConfig   `mapstructure:"entities"`
	Events     EventsConfig     `mapstructure:"events"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	APIPrefix   string `mapstructure:"api_prefix"`
	BodyLimitMB int    `mapstructure:"body_limit_mb"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.IsSQLite() {
		if d.Name == ":memory:" {
			return d.Name
		}
		return filepath.Join(d.Path, d.Name+".db")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	UploadPath    string `mapstructure:"upload_path"`
	PublicPath    string `mapstructure:"public_path"`
	ImagePath     string `mapstructure:"image_path"`
	MaxFileSizeMB int64  `mapstructure:"max_file_size_mb"`
}

type PaginationConfig struct {
	DefaultPerPage int `mapstructure:"default_per_page"`
	MaxPerPage     int `mapstructure:"max_per_page"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type EntitiesConfig struct {
	Path string `mapstructure:"path"`
}

type EventsConfig struct {
	Log      bool            `mapstructure:"log"`
	Store    bool            `mapstructure:"store"`
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

// WebhookConfig describes one outbound event subscription.
type WebhookConfig struct {
	URL       string            `mapstructure:"url"`
	Method    string            `mapstructure:"method"`
	Kinds     []string          `mapstructure:"kinds"`
	Entity    string            `mapstructure:"entity"`
	Condition string            `mapstructure:"condition"`
	Headers   map[string]string `mapstructure:"headers"`
	TimeoutMS int               `mapstructure:"timeout_ms"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// Load reads app.yaml (or the explicit file, when given) and overlays environment variables.
// A missing config file is not an error when no explicit file was requested.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("app")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_prefix", "/api/admin")
	v.SetDefault("server.body_limit_mb", 32)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "entities")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.upload_path", "./data/uploads")
	v.SetDefault("storage.public_path", "/storage/uploads")
	v.SetDefault("storage.image_path", "./data/images")
	v.SetDefault("storage.max_file_size_mb", 10)
	v.SetDefault("pagination.default_per_page", 25)
	v.SetDefault("pagination.max_per_page", 100)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret", "changeme-secret")
	v.SetDefault("entities.path", "./entities.yaml")
	v.SetDefault("events.log", true)
	v.SetDefault("events.store", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// normalize clamps values that would break pagination or routing.
func (c *Config) normalize() {
	if c.Pagination.DefaultPerPage < 1 {
		c.Pagination.DefaultPerPage = 25
	}
	if c.Pagination.MaxPerPage < c.Pagination.DefaultPerPage {
		c.Pagination.MaxPerPage = c.Pagination.DefaultPerPage
	}
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		c.Server.APIPrefix = "/" + c.Server.APIPrefix
	}
	c.Server.APIPrefix = strings.TrimSuffix(c.Server.APIPrefix, "/")
}
