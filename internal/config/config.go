package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Browser deployment modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// IDPlaceholder is substituted with the dynamic id in site templates.
const IDPlaceholder = "{id}"

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Browser     BrowserConfig     `yaml:"browser"`
	Render      RenderConfig      `yaml:"render"`
	Queue       QueueConfig       `yaml:"queue"`
	Site        SiteConfig        `yaml:"site"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPHost string `yaml:"http_host"`
	HTTPPort string `yaml:"http_port"`
	// Prefork must be false: a forked child would own its own queue and
	// browser session.
	Prefork         bool          `yaml:"prefork"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Window is the fixed browser window rectangle every session is sized to.
type Window struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type BrowserConfig struct {
	// Mode selects the shared remote WebDriver backend or a local Chrome.
	Mode           string        `yaml:"mode"`
	RemoteURL      string        `yaml:"remote_url"`
	BrowserName    string        `yaml:"browser_name"`
	ReadyInterval  time.Duration `yaml:"ready_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Window         Window        `yaml:"window"`

	ChromePath      string `yaml:"chrome_path"`
	ChromeNoSandbox bool   `yaml:"chrome_no_sandbox"`
	UserDataDir     string `yaml:"user_data_dir"`
}

type RenderConfig struct {
	CardTimeout    time.Duration `yaml:"card_timeout"`
	ElementTimeout time.Duration `yaml:"element_timeout"`
	ImagesTimeout  time.Duration `yaml:"images_timeout"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
}

type QueueConfig struct {
	MaxDepth   int           `yaml:"max_depth"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// SiteConfig is the markup-specific data the render pipeline is driven by.
// Templates may contain {id}.
type SiteConfig struct {
	URLTemplate          string `yaml:"url_template"`
	CardSelector         string `yaml:"card_selector"`
	AvatarSelector       string `yaml:"avatar_selector"`
	NotFoundSelector     string `yaml:"not_found_selector"`
	GallerySelector      string `yaml:"gallery_selector"`
	GalleryImageSelector string `yaml:"gallery_image_selector"`
	// ImagesRootSelector scopes the background-image scan; empty means the
	// whole document.
	ImagesRootSelector    string   `yaml:"images_root_selector"`
	SingleGallerySelector string   `yaml:"single_gallery_selector"`
	ViewerReadySelector   string   `yaml:"viewer_ready_selector"`
	ActionSelector        string   `yaml:"action_selector"`
	ActiveClasses         []string `yaml:"active_classes"`
	HideSelectors         []string `yaml:"hide_selectors"`
	UnbackgroundSelectors []string `yaml:"unbackground_selectors"`
	OverlaySelector       string   `yaml:"overlay_selector"`
	OverlayCSS            string   `yaml:"overlay_css"`
	BodyScale             float64  `yaml:"body_scale"`
}

type RateLimiterConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Max       int           `yaml:"max"`
	Interval  time.Duration `yaml:"interval"`
	RedisHost string        `yaml:"redis_host"`
	RedisDB   int           `yaml:"redis_db"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// envOverrides are read from DYNSHOT_* variables after the file is parsed.
type envOverrides struct {
	BrowserMode string `envconfig:"BROWSER_MODE"`
	RemoteURL   string `envconfig:"REMOTE_URL"`
	GRPCAddr    string `envconfig:"GRPC_ADDR"`
	HTTPPort    string `envconfig:"HTTP_PORT"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	RedisHost   string `envconfig:"REDIS_HOST"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads the file named by CONFIG_PATH (default config.yaml). A missing
// default file is not an error; defaults and environment overrides apply.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := Default()
			applyEnv(&cfg)
			validate(cfg)
			return cfg
		}
	}
	return LoadFrom(path)
}

// LoadFrom parses the YAML file at path. It panics on unreadable files and
// invalid values; the service cannot start with a broken configuration.
func LoadFrom(path string) Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	validate(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	var env envOverrides
	if err := envconfig.Process("dynshot", &env); err != nil {
		panic(fmt.Sprintf("config: environment: %v", err))
	}
	if env.BrowserMode != "" {
		cfg.Browser.Mode = strings.ToLower(env.BrowserMode)
	}
	if env.RemoteURL != "" {
		cfg.Browser.RemoteURL = env.RemoteURL
	}
	if env.GRPCAddr != "" {
		cfg.Server.GRPCAddr = env.GRPCAddr
	}
	if env.HTTPPort != "" {
		cfg.Server.HTTPPort = env.HTTPPort
	}
	if env.LogLevel != "" {
		cfg.Logger.Level = env.LogLevel
	}
	if env.RedisHost != "" {
		cfg.RateLimiter.RedisHost = env.RedisHost
	}
}

func applyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.GRPCAddr == "" {
		s.GRPCAddr = "0.0.0.0:3000"
	}
	if s.HTTPPort == "" {
		s.HTTPPort = ":8080"
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 5 * time.Second
	}

	l := &cfg.Logger
	if l.Level == "" {
		l.Level = "info"
	}
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 10
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 3
	}
	if l.MaxAgeDays == 0 {
		l.MaxAgeDays = 7
	}

	b := &cfg.Browser
	if b.Mode == "" {
		b.Mode = ModeRemote
	}
	b.Mode = strings.ToLower(b.Mode)
	if b.RemoteURL == "" {
		b.RemoteURL = "http://selenium:4444/wd/hub"
	}
	if b.BrowserName == "" {
		b.BrowserName = "firefox"
	}
	if b.ReadyInterval == 0 {
		b.ReadyInterval = time.Second
	}
	if b.RequestTimeout == 0 {
		b.RequestTimeout = 30 * time.Second
	}
	if b.PollInterval == 0 {
		b.PollInterval = 100 * time.Millisecond
	}
	if b.Window.Width == 0 && b.Window.Height == 0 {
		b.Window = Window{X: 0, Y: 0, Width: 1024, Height: 768}
	}

	r := &cfg.Render
	if r.CardTimeout == 0 {
		r.CardTimeout = 5000 * time.Millisecond
	}
	if r.ElementTimeout == 0 {
		r.ElementTimeout = 2000 * time.Millisecond
	}
	if r.ImagesTimeout == 0 {
		r.ImagesTimeout = 10 * time.Second
	}
	if r.CloseTimeout == 0 {
		r.CloseTimeout = 10 * time.Second
	}

	q := &cfg.Queue
	if q.MaxDepth == 0 {
		q.MaxDepth = 64
	}
	if q.JobTimeout == 0 {
		q.JobTimeout = 60 * time.Second
	}

	defaultSite(&cfg.Site)

	rl := &cfg.RateLimiter
	if rl.Max == 0 {
		rl.Max = 30
	}
	if rl.Interval == 0 {
		rl.Interval = time.Minute
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "dynshot"
	}
}

func defaultSite(s *SiteConfig) {
	if s.URLTemplate == "" {
		s.URLTemplate = "https://t.bilibili.com/{id}?tab=3"
	}
	if s.CardSelector == "" {
		s.CardSelector = `.card[data-did="{id}"]`
	}
	if s.AvatarSelector == "" {
		s.AvatarSelector = "#dynamicId_{id}"
	}
	if s.NotFoundSelector == "" {
		s.NotFoundSelector = ".error-container, .error-wrap"
	}
	if s.GallerySelector == "" {
		s.GallerySelector = ".imagesbox"
	}
	if s.GalleryImageSelector == "" {
		s.GalleryImageSelector = ".imagesbox img"
	}
	if s.SingleGallerySelector == "" {
		s.SingleGallerySelector = ".imagesbox .one-img"
	}
	if s.ViewerReadySelector == "" {
		s.ViewerReadySelector = ".imagesbox .boost-wrap img"
	}
	if s.ActionSelector == "" {
		s.ActionSelector = ".button-bar .single-button"
	}
	if s.ActiveClasses == nil {
		s.ActiveClasses = []string{"active", "liked", "on"}
	}
	if s.HideSelectors == nil {
		s.HideSelectors = []string{
			".panel-area",
			".button-area",
			".van-popover.van-popper",
			".unlogin-popover",
			".share-popup",
			".comment-panel",
			".bili-watermark",
		}
	}
	if s.UnbackgroundSelectors == nil {
		s.UnbackgroundSelectors = []string{".card .main-content .post-content"}
	}
	if s.OverlaySelector == "" {
		s.OverlaySelector = ".card .more-panel"
	}
	if s.OverlayCSS == "" {
		s.OverlayCSS = "position: absolute; top: 0; right: 0;"
	}
	if s.BodyScale == 0 {
		s.BodyScale = 1.5
	}
}

func validate(cfg Config) {
	if cfg.Browser.Mode != ModeRemote && cfg.Browser.Mode != ModeLocal {
		panic(fmt.Sprintf("config: browser.mode must be %q or %q, got %q", ModeRemote, ModeLocal, cfg.Browser.Mode))
	}
	if cfg.Server.Prefork {
		panic("config: server.prefork is not supported")
	}
	if cfg.Browser.Mode == ModeRemote && cfg.Browser.RemoteURL == "" {
		panic("config: browser.remote_url is required in remote mode")
	}
	if cfg.Browser.ReadyInterval < 0 || cfg.Browser.PollInterval < 0 || cfg.Browser.RequestTimeout < 0 {
		panic("config: browser intervals must not be negative")
	}
	if cfg.Browser.Window.Width <= 0 || cfg.Browser.Window.Height <= 0 {
		panic("config: browser.window width and height must be positive")
	}
	if cfg.Render.CardTimeout < 0 || cfg.Render.ElementTimeout < 0 || cfg.Render.ImagesTimeout < 0 || cfg.Render.CloseTimeout < 0 {
		panic("config: render timeouts must not be negative")
	}
	if cfg.Queue.MaxDepth < 0 {
		panic("config: queue.max_depth must not be negative")
	}
	if cfg.Queue.JobTimeout < 0 {
		panic("config: queue.job_timeout must not be negative")
	}
	if !strings.Contains(cfg.Site.URLTemplate, IDPlaceholder) {
		panic("config: site.url_template must contain {id}")
	}
	if strings.TrimSpace(cfg.Site.CardSelector) == "" {
		panic("config: site.card_selector is required")
	}
	if cfg.Site.BodyScale < 0 {
		panic("config: site.body_scale must not be negative")
	}
	if cfg.RateLimiter.Enabled && (cfg.RateLimiter.Max <= 0 || cfg.RateLimiter.Interval <= 0) {
		panic("config: rate_limiter.max and rate_limiter.interval must be positive when enabled")
	}
}

// Expand substitutes the dynamic id into a site template.
func Expand(template, id string) string {
	return strings.ReplaceAll(template, IDPlaceholder, id)
}
