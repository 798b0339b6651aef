// Package app wires all heckle subsystems into a running process.
//
// New builds the full dependency graph from config: speech providers, clip
// catalog, Discord voice platform, heckling engine, and management API.
// Run drives the HTTP server and the optional auto-join, and Shutdown tears
// everything down in reverse order.
//
// For testing, inject fakes via functional options (WithStore, WithPlatform,
// WithTranscriber, WithSpeech). Omitted options get real implementations
// built from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/heckle/internal/catalog"
	"github.com/MrWong99/heckle/internal/config"
	"github.com/MrWong99/heckle/internal/engine"
	"github.com/MrWong99/heckle/internal/engine/match"
	"github.com/MrWong99/heckle/internal/engine/playback"
	"github.com/MrWong99/heckle/internal/engine/segment"
	"github.com/MrWong99/heckle/internal/engine/transcribe"
	"github.com/MrWong99/heckle/internal/engine/trigger"
	"github.com/MrWong99/heckle/internal/health"
	"github.com/MrWong99/heckle/internal/observe"
	"github.com/MrWong99/heckle/internal/ttscache"
	"github.com/MrWong99/heckle/internal/web"
	"github.com/MrWong99/heckle/pkg/audio"
	discordaudio "github.com/MrWong99/heckle/pkg/audio/discord"
	"github.com/MrWong99/heckle/pkg/provider/stt"
	"github.com/MrWong99/heckle/pkg/provider/stt/deepgram"
	"github.com/MrWong99/heckle/pkg/provider/stt/whisper"
	"github.com/MrWong99/heckle/pkg/provider/tts"
	"github.com/MrWong99/heckle/pkg/provider/tts/mimic"
)

// ClipsDirName is the subdirectory of the data directory holding clip audio.
const ClipsDirName = "clips"

// GreetingFileName is an optional audio file in the data directory. When
// present it is played on channel join instead of synthesized speech.
const GreetingFileName = "hello"

// shutdownGrace bounds the HTTP server drain during Shutdown.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store    catalog.Store
	platform audio.Platform
	gateway  *transcribe.Gateway
	engine   *engine.Engine
	metrics  *observe.Metrics
	httpSrv  *http.Server

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once

	// injected test doubles
	injectedTranscriber stt.Transcriber
	injectedSpeech      tts.Provider
}

// Option injects a test double into New.
type Option func(*App)

// WithStore injects a catalog store instead of building one from config.
func WithStore(s catalog.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPlatform injects a voice platform instead of connecting to Discord.
func WithPlatform(p audio.Platform) Option {
	return func(a *App) { a.platform = p }
}

// WithTranscriber injects an STT backend instead of building one from config.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.injectedTranscriber = t }
}

// WithSpeech injects a TTS provider instead of building one from config.
func WithSpeech(p tts.Provider) Option {
	return func(a *App) { a.injectedSpeech = p }
}

// New builds the application from config. All initialisation is synchronous;
// nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "heckle"})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		c, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return metricsShutdown(c)
	})
	a.metrics, err = observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: build metrics: %w", err)
	}

	clipsDir := filepath.Join(cfg.Storage.DataDirectory, ClipsDirName)
	if err := os.MkdirAll(clipsDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create clips directory: %w", err)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}

	transcriber, err := a.buildTranscriber()
	if err != nil {
		return nil, err
	}
	a.gateway = transcribe.New(transcriber)
	a.closers = append(a.closers, a.gateway.Close)

	speech, err := a.buildSpeech()
	if err != nil {
		return nil, err
	}

	if err := a.initPlatform(); err != nil {
		return nil, err
	}

	a.engine, err = engine.New(engine.Config{
		Platform:     a.platform,
		Store:        a.store,
		Gateway:      a.gateway,
		Matcher:      match.New(match.NewNearMiss(0)),
		Limiter:      trigger.NewLimiter(cfg.Behavior.RateAdjuster),
		Player:       playback.NewPlayer(),
		Metrics:      a.metrics,
		Speech:       speech,
		ClipsDir:     clipsDir,
		GreetingFile: filepath.Join(cfg.Storage.DataDirectory, GreetingFileName),
		Segmenter: segment.Config{
			RMSThreshold: int(cfg.Behavior.Segmenter.RMSThreshold),
			MinSpeech:    cfg.Behavior.Segmenter.MinSpeech,
			Silence:      cfg.Behavior.Segmenter.Silence,
			MaxUtterance: cfg.Behavior.Segmenter.MaxUtterance,
		},
		RandomInterval: cfg.Behavior.RandomInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("app: build engine: %w", err)
	}
	a.closers = append(a.closers, a.engine.Close)

	probes := health.New(
		health.Probe{
			Name: "catalog",
			Check: func(ctx context.Context) error {
				_, err := a.store.ListClips(ctx)
				return err
			},
		},
		health.Probe{
			Name: "data_dir",
			Check: func(context.Context) error {
				_, err := os.Stat(clipsDir)
				return err
			},
		},
	)
	server := web.New(a.store, a.engine, a.gateway, probes, a.metrics, clipsDir)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore connects PostgreSQL when configured, falling back to the
// in-memory catalog otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Storage.DatabaseURL
	if dsn == "" {
		slog.Warn("no database configured, clip catalog is in-memory only")
		a.store = catalog.NewMemoryStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("app: connect database: %w", err)
	}
	store := catalog.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("app: migrate database: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// buildTranscriber constructs the configured STT backend.
func (a *App) buildTranscriber() (stt.Transcriber, error) {
	if a.injectedTranscriber != nil {
		return a.injectedTranscriber, nil
	}

	c := a.cfg.STT
	switch c.Name {
	case "whisper":
		var opts []whisper.Option
		if c.Model != "" {
			opts = append(opts, whisper.WithModel(c.Model))
		}
		if c.Language != "" {
			opts = append(opts, whisper.WithLanguage(c.Language))
		}
		return whisper.New(c.BaseURL, opts...)
	case "whisper-native":
		var opts []whisper.NativeOption
		if c.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(c.Language))
		}
		return whisper.NewNative(c.Model, opts...)
	case "deepgram":
		var opts []deepgram.Option
		if c.Model != "" {
			opts = append(opts, deepgram.WithModel(c.Model))
		}
		if c.Language != "" {
			opts = append(opts, deepgram.WithLanguage(c.Language))
		}
		return deepgram.New(c.APIKey, opts...)
	default:
		return nil, fmt.Errorf("app: unknown stt provider %q", c.Name)
	}
}

// buildSpeech constructs the TTS cache when a Mimic server is configured.
// Nil (no greetings) when TTS is disabled.
func (a *App) buildSpeech() (*ttscache.Cache, error) {
	provider := a.injectedSpeech
	if provider == nil {
		if a.cfg.TTS.BaseURL == "" {
			return nil, nil
		}
		p, err := mimic.New(a.cfg.TTS.BaseURL, mimic.WithDefaultVoice(a.cfg.TTS.Voice))
		if err != nil {
			return nil, fmt.Errorf("app: build tts provider: %w", err)
		}
		provider = p
	}
	cache, err := ttscache.New(a.cfg.Storage.DataDirectory, provider, a.cfg.TTS.Voice)
	if err != nil {
		return nil, fmt.Errorf("app: build tts cache: %w", err)
	}
	return cache, nil
}

// initPlatform opens the Discord session unless a platform was injected.
func (a *App) initPlatform() error {
	if a.platform != nil {
		return nil
	}

	session, err := discordgo.New("Bot " + a.cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("app: create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return fmt.Errorf("app: open discord session: %w", err)
	}
	a.closers = append(a.closers, session.Close)
	a.platform = discordaudio.New(session, a.cfg.Discord.GuildID)

	slog.Info("discord session opened", "guild", a.cfg.Discord.GuildID)
	return nil
}

// Run serves the management API and, when configured, auto-joins the voice
// channel. It blocks until ctx is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.engine.RefreshCatalog(ctx); err != nil {
		return fmt.Errorf("app: initial catalog load: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("management API listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		c, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpSrv.Shutdown(c)
	})

	if channelID := a.cfg.Discord.ChannelID; channelID != "" {
		g.Go(func() error {
			if err := a.engine.Join(gctx, channelID); err != nil {
				return fmt.Errorf("app: auto-join channel %s: %w", channelID, err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears everything down in reverse-init order. Safe to call more
// than once.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
}
