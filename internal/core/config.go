package core

import (
	"time"
)

const (
	// DefaultBackendURL is where the OAuth/playback backend listens in development
	DefaultBackendURL = "http://localhost:4000"
	// DefaultSpotifyAPIURL is the provider Web API root (trailing slash required)
	DefaultSpotifyAPIURL = "https://api.spotify.com/v1/"
	// DefaultPlayerName is the device name shown in Spotify Connect
	DefaultPlayerName = "Music Chat Player"
	// DefaultInitialVolume is the volume a freshly constructed player starts with
	DefaultInitialVolume = 0.5
	// DefaultLibrespotPort is the go-librespot API port
	DefaultLibrespotPort = 3678

	// DefaultPlayRetryDelay is the fixed delay before re-trying a play on a not-ready device
	DefaultPlayRetryDelay = time.Second
	// DefaultPlayMaxRetries bounds the not-ready retries of a single play request
	DefaultPlayMaxRetries = 5
	// DefaultPositionPollInterval is the cadence of the playing-position refresh
	DefaultPositionPollInterval = time.Second
	// DefaultCommandTimeout bounds each backend or device command
	DefaultCommandTimeout = 10 * time.Second

	// DefaultRecommendInterval is how often the recommendation endpoint is polled
	DefaultRecommendInterval = 10 * time.Second
	// DefaultRecommendMemory is how many auto-played tracks are remembered
	DefaultRecommendMemory = 1000

	// DefaultServerPort is the local control API port
	DefaultServerPort = 8080
	// DefaultCommandLimitPerMinute limits commands per client per minute
	DefaultCommandLimitPerMinute = 120
)

type Config struct {
	Backend   BackendConfig
	Spotify   SpotifyConfig
	Librespot LibrespotConfig
	Playback  PlaybackConfig
	Recommend RecommendConfig
	Store     StoreConfig
	Server    ServerConfig
	Log       LogConfig
	App       AppConfig
}

type BackendConfig struct {
	BaseURL       string
	SessionPath   string
	LoginPath     string
	LogoutPath    string
	PlayPath      string
	RecommendPath string
	Timeout       time.Duration
}

type SpotifyConfig struct {
	APIBaseURL    string
	PlayerName    string
	InitialVolume float64
}

type LibrespotConfig struct {
	Host string
	Port int
}

type PlaybackConfig struct {
	RetryDelay           time.Duration
	MaxRetries           int
	PositionPollInterval time.Duration
	CommandTimeout       time.Duration
}

type RecommendConfig struct {
	Enabled  bool
	AutoPlay bool
	Interval time.Duration
	Memory   int
}

type StoreConfig struct {
	Path string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	Language              string
	CommandLimitPerMinute int
}

func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:       DefaultBackendURL,
			SessionPath:   "/api/spotify/session",
			LoginPath:     "/api/spotify/login",
			LogoutPath:    "/api/spotify/logout",
			PlayPath:      "/api/spotify/play",
			RecommendPath: "/api/recommend",
			Timeout:       DefaultCommandTimeout,
		},
		Spotify: SpotifyConfig{
			APIBaseURL:    DefaultSpotifyAPIURL,
			PlayerName:    DefaultPlayerName,
			InitialVolume: DefaultInitialVolume,
		},
		Librespot: LibrespotConfig{
			Host: "localhost",
			Port: DefaultLibrespotPort,
		},
		Playback: PlaybackConfig{
			RetryDelay:           DefaultPlayRetryDelay,
			MaxRetries:           DefaultPlayMaxRetries,
			PositionPollInterval: DefaultPositionPollInterval,
			CommandTimeout:       DefaultCommandTimeout,
		},
		Recommend: RecommendConfig{
			Enabled:  true,
			AutoPlay: true,
			Interval: DefaultRecommendInterval,
			Memory:   DefaultRecommendMemory,
		},
		Store: StoreConfig{
			Path: "./tunechat.db",
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         DefaultServerPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			Language:              "en",
			CommandLimitPerMinute: DefaultCommandLimitPerMinute,
		},
	}
}
