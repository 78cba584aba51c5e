package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all configuration for the application
type Config struct {
	Env      string
	LogLevel string

	GitHub   GitHubConfig
	Database DatabaseConfig

	// RefreshThreshold is how old a source's last sync may be before a
	// dashboard request triggers a re-sync
	RefreshThreshold time.Duration
	// RefreshInterval is how often the server refreshes in the background;
	// zero disables the background loop
	RefreshInterval time.Duration
	// LaunchMonth is the first month of the blog; months are tracked from here
	LaunchMonth time.Time

	ListenAddr        string
	DashboardUser     string
	DashboardPassword string
}

// GitHubConfig holds the remote hosting API settings
type GitHubConfig struct {
	APIURL          string
	User            string
	Token           string
	Owner           string
	SiteRepo        string
	DraftsRepo      string
	SiteRef         string
	RosterPath      string
	PostsPath       string
	RateLimit       float64
	RetryMaxElapsed time.Duration
}

// DatabaseConfig holds the local store settings
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	return &Config{}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvProduction)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GITHUB_API_URL", "https://api.github.com/")
	v.SetDefault("GITHUB_OWNER", "18F")
	v.SetDefault("SITE_REPO", "18f.gsa.gov")
	v.SetDefault("DRAFTS_REPO", "blog-drafts")
	v.SetDefault("SITE_REF", "staging")
	v.SetDefault("ROSTER_PATH", "_data/authors.yml")
	v.SetDefault("POSTS_PATH", "_posts")
	v.SetDefault("GITHUB_RATE_LIMIT", 10.0)
	v.SetDefault("GITHUB_RETRY_MAX_ELAPSED", "30s")
	v.SetDefault("LAUNCH_MONTH", "2014-03")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_DB", "blogdash")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("PORT", "5000")
	v.SetDefault("REFRESH_INTERVAL", "1h")
}

// Load loads configuration from an optional env file and the environment.
// An empty path skips the file.
func (c *Config) Load(path string) error {
	v := viper.GetViper()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	c.Env = strings.ToLower(v.GetString("ENV"))
	c.LogLevel = v.GetString("LOG_LEVEL")

	c.GitHub = GitHubConfig{
		APIURL:     v.GetString("GITHUB_API_URL"),
		User:       v.GetString("GITHUB_USER"),
		Token:      v.GetString("GITHUB_TOKEN"),
		Owner:      v.GetString("GITHUB_OWNER"),
		SiteRepo:   v.GetString("SITE_REPO"),
		DraftsRepo: v.GetString("DRAFTS_REPO"),
		SiteRef:    v.GetString("SITE_REF"),
		RosterPath: v.GetString("ROSTER_PATH"),
		PostsPath:  v.GetString("POSTS_PATH"),
		RateLimit:  v.GetFloat64("GITHUB_RATE_LIMIT"),
	}
	if c.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}

	var err error
	c.GitHub.RetryMaxElapsed, err = time.ParseDuration(v.GetString("GITHUB_RETRY_MAX_ELAPSED"))
	if err != nil {
		return fmt.Errorf("invalid GITHUB_RETRY_MAX_ELAPSED: %w", err)
	}

	// 15 minutes keeps development responsive; production refreshes daily
	c.RefreshThreshold = 24 * time.Hour
	if c.Env == EnvDevelopment {
		c.RefreshThreshold = 15 * time.Minute
	}
	if raw := v.GetString("REFRESH_THRESHOLD"); raw != "" {
		c.RefreshThreshold, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid REFRESH_THRESHOLD: %w", err)
		}
	}

	c.RefreshInterval, err = time.ParseDuration(v.GetString("REFRESH_INTERVAL"))
	if err != nil {
		return fmt.Errorf("invalid REFRESH_INTERVAL: %w", err)
	}

	c.LaunchMonth, err = time.Parse("2006-01", v.GetString("LAUNCH_MONTH"))
	if err != nil {
		return fmt.Errorf("invalid LAUNCH_MONTH format, expected YYYY-MM: %w", err)
	}

	if err := c.loadDatabase(v); err != nil {
		return err
	}

	c.ListenAddr = v.GetString("LISTEN_ADDR")
	if c.ListenAddr == "" {
		c.ListenAddr = ":" + v.GetString("PORT")
	}
	c.DashboardUser = v.GetString("DASHBOARD_USER")
	c.DashboardPassword = v.GetString("DASHBOARD_PASSWORD")

	return nil
}

func (c *Config) loadDatabase(v *viper.Viper) error {
	c.Database = DatabaseConfig{
		Driver:       v.GetString("DB_DRIVER"),
		URL:          v.GetString("DATABASE_URL"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	var err error
	c.Database.ConnMaxLifetime, err = time.ParseDuration(v.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		return fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			c.Database.URL = fmt.Sprintf(
				"user=%s password=%s dbname=%s port=%s host=%s sslmode=disable",
				v.GetString("POSTGRES_USER"),
				v.GetString("POSTGRES_PASSWORD"),
				v.GetString("POSTGRES_DB"),
				v.GetString("POSTGRES_PORT"),
				v.GetString("POSTGRES_HOST"),
			)
		}
	case "sqlite3":
		if c.Database.URL == "" {
			c.Database.URL = "blogdash.db"
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	return nil
}

// Development reports whether the app runs in development mode
func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}
