// Package config loads the service configuration from defaults, an optional
// YAML file and DELTA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dmorcellet/delta-downloads/internal/downloadcfg"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	ListenAddr      string   `mapstructure:"listen_addr" yaml:"listen_addr"`
	APIToken        string   `mapstructure:"api_token" yaml:"api_token"`
	DownloadDir     string   `mapstructure:"download_dir" yaml:"download_dir"`
	CollisionPolicy string   `mapstructure:"collision_policy" yaml:"collision_policy"`
	MinFreeBytes    int64    `mapstructure:"min_free_bytes" yaml:"min_free_bytes"`
	SQLitePath      string   `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	HTTP            HTTP     `mapstructure:"http" yaml:"http"`
	Store           Store    `mapstructure:"store" yaml:"store"`
	Postgres        Postgres `mapstructure:"postgres" yaml:"postgres"`
	Log             Log      `mapstructure:"log" yaml:"log"`
}

type HTTP struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BufferSize int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	UserAgent  string        `mapstructure:"user_agent" yaml:"user_agent"`
}

type Store struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
}

type Postgres struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	DB       string `mapstructure:"db" yaml:"db"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

type Log struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Load reads path when it is not empty, then applies environment overrides
// such as DELTA_LISTEN_ADDR or DELTA_POSTGRES_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set Defaults
	v.SetDefault("listen_addr", ":9090")
	v.SetDefault("api_token", "")
	v.SetDefault("download_dir", "./downloads")
	v.SetDefault("collision_policy", string(downloadcfg.CollisionRename))
	v.SetDefault("min_free_bytes", 0)
	v.SetDefault("sqlite_path", "delta.db")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.buffer_size", 32<<10)
	v.SetDefault("http.user_agent", "delta-downloads")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.db", "delta")
	v.SetDefault("postgres.user", "delta")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Support Environment Variables
	v.SetEnvPrefix("DELTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.MinFreeBytes < 0 {
		return errors.New("min_free_bytes must not be negative")
	}

	c.CollisionPolicy = string(downloadcfg.ParseCollisionPolicy(c.CollisionPolicy))
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.BufferSize <= 0 {
		c.HTTP.BufferSize = 32 << 10
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "./downloads"
	}
	return nil
}

// Policy returns the configured collision policy.
func (c *Config) Policy() downloadcfg.CollisionPolicy {
	return downloadcfg.ParseCollisionPolicy(c.CollisionPolicy)
}

// PostgresDSN builds a connection URL from the postgres settings.
// Credentials and db name are URL-encoded.
func (c *Config) PostgresDSN() string {
	p := c.Postgres
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, p.Port),
		Path:   "/" + p.DB,
	}
	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
