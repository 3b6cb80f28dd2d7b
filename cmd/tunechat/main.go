// Package main provides the tunechat CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"tunechat/internal/account"
	"tunechat/internal/backend"
	"tunechat/internal/core"
	"tunechat/internal/device"
	"tunechat/internal/flood"
	httpserver "tunechat/internal/http"
	"tunechat/internal/i18n"
	"tunechat/internal/librespot"
	"tunechat/internal/playback"
	"tunechat/internal/recommend"
	"tunechat/internal/session"
	"tunechat/internal/store"
)

const envPrefix = "TUNECHAT"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tunechat",
	Short: "tunechat - chat-driven Spotify player",
	Long: `tunechat runs a browser-less Spotify Connect player for a music chat service. It keeps the
login session with the chat backend, activates the playback device for Premium accounts, and
plays the tracks the chat recommends through a local control API.`,
	RunE: runTunechat,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (json, text)")
	flags.String("backend-url", defaults.Backend.BaseURL, "Chat backend base URL")
	flags.Duration("backend-timeout", defaults.Backend.Timeout, "Timeout of each backend request")
	flags.String("spotify-api-url", defaults.Spotify.APIBaseURL, "Spotify Web API base URL")
	flags.String("player-name", defaults.Spotify.PlayerName, "Device name shown in Spotify Connect")
	flags.Float64("initial-volume", defaults.Spotify.InitialVolume, "Initial player volume (0.0-1.0)")
	flags.String("librespot-host", defaults.Librespot.Host, "go-librespot API host")
	flags.Int("librespot-port", defaults.Librespot.Port, "go-librespot API port")
	flags.Duration("play-retry-delay", defaults.Playback.RetryDelay, "Delay before retrying a play on a device that is not ready")
	flags.Int("play-max-retries", defaults.Playback.MaxRetries, "Maximum retries of a play on a device that is not ready")
	flags.Duration("position-poll-interval", defaults.Playback.PositionPollInterval, "Playing position refresh interval")
	flags.Duration("command-timeout", defaults.Playback.CommandTimeout, "Timeout of each playback command")
	flags.Bool("recommend-enabled", defaults.Recommend.Enabled, "Poll the backend for recommendations")
	flags.Bool("recommend-auto-play", defaults.Recommend.AutoPlay, "Play the first track of each new recommendation batch")
	flags.Duration("recommend-interval", defaults.Recommend.Interval, "Recommendation polling interval")
	flags.Int("recommend-memory", defaults.Recommend.Memory, "Number of auto-played tracks remembered")
	flags.String("store-path", defaults.Store.Path, "SQLite database path")
	flags.String("server-host", defaults.Server.Host, "HTTP server host")
	flags.Int("server-port", defaults.Server.Port, "HTTP server port")
	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	flags.String("language", i18n.DefaultLanguage, fmt.Sprintf("Notice language (%s)", supportedLangs))
	flags.Int("command-limit-per-minute", defaults.App.CommandLimitPerMinute,
		"Maximum playback commands per client per minute (0 disables)")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureBackend(cfg)
	configureSpotify(cfg)
	configurePlayback(cfg)
	configureRecommend(cfg)
	configureServer(cfg)
	configureApp(cfg)
	configureLogging(cfg)

	return cfg
}

func configureBackend(cfg *core.Config) {
	cfg.Backend.BaseURL = strings.TrimRight(viper.GetString("backend-url"), "/")
	if timeout := viper.GetDuration("backend-timeout"); timeout > 0 {
		cfg.Backend.Timeout = timeout
	}
	cfg.Store.Path = viper.GetString("store-path")
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.APIBaseURL = viper.GetString("spotify-api-url")
	if !strings.HasSuffix(cfg.Spotify.APIBaseURL, "/") {
		cfg.Spotify.APIBaseURL += "/"
	}
	cfg.Spotify.PlayerName = viper.GetString("player-name")

	volume := viper.GetFloat64("initial-volume")
	if volume < 0 || volume > 1 {
		fmt.Printf("Warning: Invalid initial volume (%.2f), using default (%.2f)\n",
			volume, core.DefaultInitialVolume)
		volume = core.DefaultInitialVolume
	}
	cfg.Spotify.InitialVolume = volume

	cfg.Librespot.Host = viper.GetString("librespot-host")
	cfg.Librespot.Port = viper.GetInt("librespot-port")
}

func configurePlayback(cfg *core.Config) {
	cfg.Playback.RetryDelay = viper.GetDuration("play-retry-delay")
	if cfg.Playback.RetryDelay <= 0 {
		cfg.Playback.RetryDelay = core.DefaultPlayRetryDelay
	}
	cfg.Playback.MaxRetries = viper.GetInt("play-max-retries")
	if cfg.Playback.MaxRetries < 0 {
		fmt.Printf("Warning: Invalid play max retries (%d), using default (%d)\n",
			cfg.Playback.MaxRetries, core.DefaultPlayMaxRetries)
		cfg.Playback.MaxRetries = core.DefaultPlayMaxRetries
	}
	cfg.Playback.PositionPollInterval = viper.GetDuration("position-poll-interval")
	if cfg.Playback.PositionPollInterval <= 0 {
		cfg.Playback.PositionPollInterval = core.DefaultPositionPollInterval
	}
	cfg.Playback.CommandTimeout = viper.GetDuration("command-timeout")
	if cfg.Playback.CommandTimeout <= 0 {
		cfg.Playback.CommandTimeout = core.DefaultCommandTimeout
	}
}

func configureRecommend(cfg *core.Config) {
	cfg.Recommend.Enabled = viper.GetBool("recommend-enabled")
	cfg.Recommend.AutoPlay = viper.GetBool("recommend-auto-play")
	cfg.Recommend.Interval = viper.GetDuration("recommend-interval")
	if cfg.Recommend.Interval <= 0 {
		cfg.Recommend.Interval = core.DefaultRecommendInterval
	}
	cfg.Recommend.Memory = viper.GetInt("recommend-memory")
	if cfg.Recommend.Memory <= 0 {
		cfg.Recommend.Memory = core.DefaultRecommendMemory
	}
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	cfg.Server.Port = viper.GetInt("server-port")
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = core.DefaultServerPort
	}
}

func configureApp(cfg *core.Config) {
	cfg.App.Language = viper.GetString("language")
	if cfg.App.Language == "" {
		cfg.App.Language = i18n.DefaultLanguage
	}

	lang, ok := i18n.Match(cfg.App.Language)
	if !ok {
		fmt.Fprintf(os.Stderr, "Warning: Unsupported language '%s', falling back to '%s'. Supported languages: %s\n",
			cfg.App.Language, i18n.DefaultLanguage, strings.Join(i18n.GetSupportedLanguages(), ", "))
	}
	cfg.App.Language = lang

	// 0 disables command limiting
	cfg.App.CommandLimitPerMinute = viper.GetInt("command-limit-per-minute")
	if cfg.App.CommandLimitPerMinute < 0 {
		cfg.App.CommandLimitPerMinute = core.DefaultCommandLimitPerMinute
	}
}

func configureLogging(cfg *core.Config) {
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.ToLower(format) == "text" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runTunechat(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting tunechat",
		zap.String("backend", config.Backend.BaseURL),
		zap.String("player_name", config.Spotify.PlayerName),
		zap.Bool("recommend_enabled", config.Recommend.Enabled),
		zap.String("language", config.App.Language))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.close()

	return runServices(ctx, svcs)
}

type services struct {
	db         *store.DB
	session    *session.Session
	poller     *recommend.Poller
	limiter    *flood.Floodgate
	httpServer *httpserver.Server
}

func initializeServices(ctx context.Context) (*services, error) {
	db, err := store.Open(config.Store.Path)
	if err != nil {
		return nil, err
	}

	jar, err := store.NewJar(ctx, db, logger.Named("store"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	metrics := httpserver.NewMetrics()
	backendClient := backend.NewClient(&config.Backend, jar, logger.Named("backend"))

	sess := session.New(session.Config{
		Language: config.App.Language,
		Device: device.Config{
			Name:                 config.Spotify.PlayerName,
			Volume:               config.Spotify.InitialVolume,
			PositionPollInterval: config.Playback.PositionPollInterval,
		},
		Playback: playback.Config{
			RetryDelay:     config.Playback.RetryDelay,
			MaxRetries:     config.Playback.MaxRetries,
			CommandTimeout: config.Playback.CommandTimeout,
		},
	}, session.Deps{
		Backend:   backendClient,
		Profiles:  account.NewSpotifyClientFactory(config.Spotify.APIBaseURL),
		Loader:    device.NewOnceLoader(librespot.Loader(config.Librespot.Host, config.Librespot.Port, logger.Named("librespot"))),
		Metrics:   metrics,
		Scheduler: playback.TimerScheduler{},
	}, logger.Named("session"))

	played := store.NewPlayedSet(config.Recommend.Memory, store.DefaultFalsePositiveRate)
	keys, err := db.LoadPlayed(ctx, config.Recommend.Memory)
	if err != nil {
		logger.Warn("Failed to load played history", zap.Error(err))
	} else {
		played.Load(keys)
		logger.Debug("Loaded played history", zap.Int("count", played.Len()))
	}

	poller := recommend.NewPoller(config.Recommend, backendClient, sess, played, db, metrics,
		logger.Named("recommend"))
	limiter := flood.New(config.App.CommandLimitPerMinute)

	httpServer := httpserver.NewServer(&config.Server, httpserver.Deps{
		Session:         sess,
		Recommendations: poller,
		Limiter:         limiter,
		Metrics:         metrics,
	}, logger.Named("http"))

	return &services{
		db:         db,
		session:    sess,
		poller:     poller,
		limiter:    limiter,
		httpServer: httpServer,
	}, nil
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})

	g.Go(func() error {
		svcs.session.Start(gCtx)
		return nil
	})

	if config.Recommend.Enabled {
		g.Go(func() error {
			return svcs.poller.Run(gCtx)
		})
	}

	logger.Info("tunechat started successfully",
		zap.String("session", svcs.session.ID()),
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("tunechat stopped with error", zap.Error(err))
		return err
	}

	logger.Info("tunechat stopped gracefully")
	return nil
}

func (s *services) close() {
	s.session.Close()
	s.limiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.TrimPlayed(ctx, config.Recommend.Memory); err != nil {
		logger.Debug("Failed to trim played history", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		logger.Debug("Failed to close store", zap.Error(err))
	}
}

func validateConfig() error {
	if config.Backend.BaseURL == "" {
		return fmt.Errorf("backend URL is required")
	}
	if config.Spotify.PlayerName == "" {
		return fmt.Errorf("player name is required")
	}
	if config.Librespot.Host == "" || config.Librespot.Port <= 0 {
		return fmt.Errorf("librespot host and port are required")
	}
	if config.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	return nil
}
