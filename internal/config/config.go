package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Output   OutputConfig
	Accounts AccountsConfig
	Redis    RedisConfig
	Database DatabaseConfig
	SMTP     SMTPConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	// PageDelay is the pause after every successfully extracted Target.
	PageDelay      time.Duration
	SettleDelay    time.Duration
	AnchorTimeout  time.Duration
	ResultsTimeout time.Duration
	HumanDelayMin  time.Duration
	HumanDelayMax  time.Duration
	BaseURL        string
	CookieName     string
	LockoutCodes   []int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	UserAgent      string
}

type OutputConfig struct {
	Dir      string
	Filename string
}

type AccountsConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int32
}

type SMTPConfig struct {
	Server   string
	Port     int
	Address  string
	Password string
	To       []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "127.0.0.1"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			PageDelay:      getDurationOrDefault("SCRAPER_PAGE_DELAY", 3*time.Second),
			SettleDelay:    getDurationOrDefault("SCRAPER_SETTLE_DELAY", 2*time.Second),
			AnchorTimeout:  getDurationOrDefault("SCRAPER_ANCHOR_TIMEOUT", 5*time.Second),
			ResultsTimeout: getDurationOrDefault("SCRAPER_RESULTS_TIMEOUT", 10*time.Second),
			HumanDelayMin:  getDurationOrDefault("SCRAPER_HUMAN_DELAY_MIN", time.Second),
			HumanDelayMax:  getDurationOrDefault("SCRAPER_HUMAN_DELAY_MAX", 2*time.Second),
			BaseURL:        getEnvOrDefault("SCRAPER_BASE_URL", "https://www.linkedin.com"),
			CookieName:     getEnvOrDefault("SCRAPER_COOKIE_NAME", "li_at"),
			LockoutCodes:   getIntSliceOrDefault("SCRAPER_LOCKOUT_CODES", []int{999, 429}),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1366),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 768),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
		},
		Output: OutputConfig{
			Dir:      getEnvOrDefault("OUTPUT_DIR", "results"),
			Filename: getEnvOrDefault("OUTPUT_FILENAME", "results.csv"),
		},
		Accounts: AccountsConfig{
			Path: getEnvOrDefault("ACCOUNTS_PATH", "config.json"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:scrape_tasks"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "company_scraper"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 4)),
		},
		SMTP: SMTPConfig{
			Server:   getEnvOrDefault("SMTP_SERVER", ""),
			Port:     getIntOrDefault("SMTP_PORT", 587),
			Address:  getEnvOrDefault("SMTP_ADDRESS", ""),
			Password: getEnvOrDefault("SMTP_PASSWORD", ""),
			To:       getStringSliceOrDefault("SMTP_TO", []string{}),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.PageDelay < 0 {
		return fmt.Errorf("SCRAPER_PAGE_DELAY cannot be negative")
	}

	if c.Scraper.HumanDelayMin > c.Scraper.HumanDelayMax {
		return fmt.Errorf("SCRAPER_HUMAN_DELAY_MIN cannot be greater than SCRAPER_HUMAN_DELAY_MAX")
	}

	if len(c.Scraper.LockoutCodes) == 0 {
		return fmt.Errorf("SCRAPER_LOCKOUT_CODES must list at least one status code")
	}

	if c.Output.Dir == "" || c.Output.Filename == "" {
		return fmt.Errorf("OUTPUT_DIR and OUTPUT_FILENAME are required")
	}

	if c.Accounts.Path == "" {
		return fmt.Errorf("ACCOUNTS_PATH is required")
	}

	return nil
}

// RedisEnabled reports whether progress should also be mirrored to Redis.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != ""
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Server != "" && c.SMTP.Address != "" && len(c.SMTP.To) > 0
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getIntSliceOrDefault(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []int
	for _, part := range strings.Split(value, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		out = append(out, i)
	}
	return out
}
