package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MaxDelay is the upper bound accepted for the pause between requests.
const MaxDelay = 10 * time.Second

type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Scraper  ScraperConfig  `yaml:"scraper" mapstructure:"scraper"`
	Browser  BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	Host            string        `yaml:"host" mapstructure:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	ResultTTL       time.Duration `yaml:"result_ttl" mapstructure:"result_ttl"`
	QueueSize       int           `yaml:"queue_size" mapstructure:"queue_size"`
}

// ScraperConfig controls how pages and images are fetched.
type ScraperConfig struct {
	BaseURL            string        `yaml:"base_url" mapstructure:"base_url"`
	Delay              time.Duration `yaml:"delay" mapstructure:"delay"`
	Timeout            time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ImageTimeout       time.Duration `yaml:"image_timeout" mapstructure:"image_timeout"`
	MaxPages           int           `yaml:"max_pages" mapstructure:"max_pages"`
	UserAgent          string        `yaml:"user_agent" mapstructure:"user_agent"`
	Cookie             string        `yaml:"cookie" mapstructure:"cookie"`
	AcceptLanguage     string        `yaml:"accept_language" mapstructure:"accept_language"`
	Warmup             bool          `yaml:"warmup" mapstructure:"warmup"`
	CloudflareBypass   bool          `yaml:"cloudflare_bypass" mapstructure:"cloudflare_bypass"`
	InventoryFallback  bool          `yaml:"inventory_fallback" mapstructure:"inventory_fallback"`
	InventoryThreshold int           `yaml:"inventory_threshold" mapstructure:"inventory_threshold"`
	UseBrowser         bool          `yaml:"use_browser" mapstructure:"use_browser"`
}

type BrowserConfig struct {
	Headless       bool          `yaml:"headless" mapstructure:"headless"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" mapstructure:"viewport_height"`
	TimezoneID     string        `yaml:"timezone_id" mapstructure:"timezone_id"`
	Locale         string        `yaml:"locale" mapstructure:"locale"`
}

// RedisConfig enables the event stream when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Stream   string `yaml:"stream" mapstructure:"stream"`
}

// DatabaseConfig enables the Postgres export when URL is set.
type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

type OutputConfig struct {
	Dir  string `yaml:"dir" mapstructure:"dir"`
	XLSX bool   `yaml:"xlsx" mapstructure:"xlsx"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultUserAgent mimics a desktop Chrome.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Load reads .env, config.yaml and KLEINANZEIGEN_* environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the working directory and ./config.
func LoadFile(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("KLEINANZEIGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by older deployments of the scraper.
	if err := v.BindEnv("scraper.user_agent", "KLEINANZEIGEN_UA", "KLEINANZEIGEN_SCRAPER_USER_AGENT"); err != nil {
		return nil, eris.Wrap(err, "config: bind user agent")
	}
	if err := v.BindEnv("scraper.cookie", "KLEINANZEIGEN_COOKIE", "KLEINANZEIGEN_SCRAPER_COOKIE"); err != nil {
		return nil, eris.Wrap(err, "config: bind cookie")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.result_ttl", time.Hour)
	v.SetDefault("server.queue_size", 16)

	v.SetDefault("scraper.base_url", "https://www.kleinanzeigen.de")
	v.SetDefault("scraper.delay", time.Second)
	v.SetDefault("scraper.timeout", 20*time.Second)
	v.SetDefault("scraper.image_timeout", 30*time.Second)
	v.SetDefault("scraper.max_pages", 50)
	v.SetDefault("scraper.user_agent", DefaultUserAgent)
	v.SetDefault("scraper.cookie", "")
	v.SetDefault("scraper.accept_language", "de-DE,de;q=0.9,en;q=0.8")
	v.SetDefault("scraper.warmup", true)
	v.SetDefault("scraper.cloudflare_bypass", true)
	v.SetDefault("scraper.inventory_fallback", true)
	v.SetDefault("scraper.inventory_threshold", 30)
	v.SetDefault("scraper.use_browser", false)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", 30*time.Second)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.timezone_id", "Europe/Berlin")
	v.SetDefault("browser.locale", "de-DE")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "stream:kleinanzeigen")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 4)

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.xlsx", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func (c *Config) Validate() error {
	if c.Scraper.Delay < 0 || c.Scraper.Delay > MaxDelay {
		return eris.Errorf("scraper.delay must be between 0s and %s, got %s", MaxDelay, c.Scraper.Delay)
	}

	if c.Scraper.Timeout <= 0 {
		return eris.New("scraper.timeout must be positive")
	}

	if c.Scraper.ImageTimeout <= 0 {
		return eris.New("scraper.image_timeout must be positive")
	}

	if c.Scraper.MaxPages < 1 {
		return eris.New("scraper.max_pages must be at least 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return eris.Errorf("server.port %d out of range", c.Server.Port)
	}

	if c.Server.QueueSize < 1 {
		return eris.New("server.queue_size must be at least 1")
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return eris.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}

	return nil
}

// InitLogger installs a global zap logger built from cfg.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
