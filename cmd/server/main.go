package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cesargomez89/navicache/internal/app"
	"github.com/cesargomez89/navicache/internal/cachequeue"
	"github.com/cesargomez89/navicache/internal/config"
	"github.com/cesargomez89/navicache/internal/constants"
	"github.com/cesargomez89/navicache/internal/domain"
	"github.com/cesargomez89/navicache/internal/events"
	"github.com/cesargomez89/navicache/internal/evict"
	httpapp "github.com/cesargomez89/navicache/internal/http"
	"github.com/cesargomez89/navicache/internal/httpclient"
	"github.com/cesargomez89/navicache/internal/logger"
	"github.com/cesargomez89/navicache/internal/metacache"
	"github.com/cesargomez89/navicache/internal/metrics"
	"github.com/cesargomez89/navicache/internal/sidefetch"
	"github.com/cesargomez89/navicache/internal/store"
	"github.com/cesargomez89/navicache/internal/stream"
	"github.com/cesargomez89/navicache/internal/subsonic"
	"github.com/cesargomez89/navicache/internal/transfer"
)

var cli struct {
	Config string `short:"c" env:"NAVICACHE_CONFIG" type:"path" help:"Config file (YAML, TOML or JSON)."`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the cache queue and the HTTP API."`
	Enqueue EnqueueCmd `cmd:"" help:"Append known songs to the download queue."`
	Queue   QueueCmd   `cmd:"" help:"List the download queue."`
	Evict   EvictCmd   `cmd:"" help:"Run one eviction pass and exit."`
}

type runtime struct {
	cfg *config.Config
	log *logger.Logger
	db  *store.DB
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("navicache"),
		kong.Description("Offline media cache for Subsonic servers."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	err = kctx.Run(&runtime{cfg: cfg, log: appLogger, db: db})
	kctx.FatalIfErrorf(err)
}

type ServeCmd struct{}

func (c *ServeCmd) Run(rt *runtime) error {
	cfg, appLogger, db := rt.cfg, rt.log, rt.db
	settingsRepo := store.NewSettingsRepo(db)

	meta, err := metacache.Open(cfg.MetaCachePath)
	if err != nil {
		return fmt.Errorf("open metadata cache: %w", err)
	}
	defer meta.Close()

	// One rate limited client per server; transfers share a long timeout one.
	registry := subsonic.Registry{}
	for _, s := range cfg.Servers {
		apiClient := httpclient.NewClient(
			&http.Client{Timeout: constants.ImageHTTPTimeout},
			constants.DefaultRequestInterval,
			httpclient.WithRetries(constants.DefaultHTTPRetryCount, constants.DefaultRetryBase),
		)
		registry[s.ID] = subsonic.NewClient(subsonic.Server{
			ID:       s.ID,
			BaseURL:  s.URL,
			Username: s.Username,
			Password: s.Password,
		}, apiClient)
	}
	transferClient := httpclient.NewClient(&http.Client{Timeout: constants.DefaultHTTPTimeout}, 0)

	factory := transfer.NewHTTPFactory(registry, transferClient, cfg.CacheDir,
		cfg.Queue.PathTemplate, cfg.Queue.PlaybackThreshold, appLogger.WithComponent("transfer"))

	bus := events.NewBus(constants.DefaultEventBufferSize, appLogger)
	streams := stream.NewManager(factory, appLogger)
	fetcher := sidefetch.NewFetcher(registry, meta, cfg.CacheDir, appLogger)
	notifier := cachequeue.NewLogNotifier(appLogger, constants.MaxRecentAlerts)

	policy := cachequeue.NewSettingsPolicy(settingsRepo, cachequeue.SettingKeys{
		Offline:                store.SettingOfflineMode,
		Metered:                store.SettingMetered,
		ManualCachingOnMetered: store.SettingManualCachingOnMetered,
		MinFreeSpace:           store.SettingMinFreeSpace,
	}, cachequeue.Policy{
		Offline:                cfg.Queue.OfflineMode,
		Metered:                cfg.Queue.Metered,
		ManualCachingOnMetered: cfg.Queue.ManualCachingOnMetered,
		MinFreeSpace:           cfg.Queue.MinFreeSpace,
		MaxRetries:             cfg.Queue.MaxRetries,
		RetryDelay:             cfg.Queue.RetryDelay,
	})

	queue := cachequeue.New(cachequeue.Options{
		Store:     db,
		Factory:   factory,
		Streamer:  streams,
		Notifier:  notifier,
		Events:    bus,
		SideFetch: fetcher,
		Policy:    policy,
		CacheDir:  cfg.CacheDir,
		Log:       appLogger,
	})

	cache := app.NewCacheService(db, settingsRepo, queue, cfg.CacheDir, appLogger)
	browse := app.NewBrowseService(db)
	m := metrics.New(db, appLogger)

	reclaimer := evict.NewReclaimer(db, cfg.CacheDir, evict.Config{
		Policy:        cfg.Evict.Policy,
		MinFreeBytes:  cfg.Evict.MinFreeBytes,
		MaxCacheBytes: cfg.Evict.MaxCacheBytes,
		MaxPerPass:    cfg.Evict.MaxPerPass,
	}, appLogger, evict.OnReclaim(func(res evict.Result) {
		m.ObserveEviction(len(res.Evicted), res.FreedBytes)
		// Space came back, so a queue halted on capacity can go on.
		if err := queue.Start(context.Background()); err != nil {
			appLogger.Warn("Failed to restart cache queue after eviction", "error", err)
		}
	}))

	bus.Subscribe(m.Observe)
	bus.Subscribe(func(e events.Event) {
		switch e.Kind {
		case events.CapacityWarning, events.SongDownloaded:
			reclaimer.Trigger()
		}
	})
	streams.OnPlayback(func(song *domain.Song) {
		if err := cache.MarkPlayed(context.Background(), song.ServerID, song.ID); err != nil {
			appLogger.Warn("Failed to record playback", "server_id", song.ServerID, "song_id", song.ID, "error", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		bus.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reclaimer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := queue.Run(ctx); err != nil {
			appLogger.Error("Cache queue stopped", "error", err)
		}
	}()

	// Pick up whatever was left queued by the previous run.
	if err := queue.Start(ctx); err != nil {
		appLogger.Warn("Failed to start cache queue", "error", err)
	}

	h := httpapp.NewHandler(cache, browse, queue, appLogger)
	h.Reclaimer = reclaimer
	h.Alerts = notifier
	h.Streams = streams
	h.Covers = fetcher
	h.Metrics = m
	h.QueueDefaults = app.QueueSettings{
		OfflineMode:            cfg.Queue.OfflineMode,
		Metered:                cfg.Queue.Metered,
		ManualCachingOnMetered: cfg.Queue.ManualCachingOnMetered,
		MinFreeSpace:           cfg.Queue.MinFreeSpace,
	}
	h.KnownServer = func(id int64) bool {
		_, ok := cfg.Server(id)
		return ok
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: middleware.Logger(h.Router()),
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr, "cache_dir", cfg.CacheDir, "servers", len(cfg.Servers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	streams.CancelAll()
	cancel()
	wg.Wait()
	bus.Wait()
	fetcher.Wait()

	appLogger.Info("Server exiting")
	return nil
}

type EnqueueCmd struct {
	Server int64   `required:"" help:"Server id the songs belong to."`
	Songs  []int64 `arg:"" help:"Song ids, in download order."`
}

func (c *EnqueueCmd) Run(rt *runtime) error {
	if _, ok := rt.cfg.Server(c.Server); !ok {
		return fmt.Errorf("no server configured with id %d", c.Server)
	}
	keys := make([]domain.SongKey, 0, len(c.Songs))
	for _, id := range c.Songs {
		keys = append(keys, domain.SongKey{ServerID: c.Server, SongID: id})
	}
	// No orchestrator here; a running server picks these up on its next start.
	cache := app.NewCacheService(rt.db, store.NewSettingsRepo(rt.db), nil, rt.cfg.CacheDir, rt.log)
	if err := cache.Enqueue(context.Background(), keys); err != nil {
		return err
	}
	fmt.Printf("Enqueued %d songs\n", len(keys))
	return nil
}

type QueueCmd struct {
	Limit int `default:"100" help:"Maximum entries to list."`
}

func (c *QueueCmd) Run(rt *runtime) error {
	cache := app.NewCacheService(rt.db, store.NewSettingsRepo(rt.db), nil, rt.cfg.CacheDir, rt.log)
	items, total, err := cache.QueueItems(context.Background(), c.Limit, 0)
	if err != nil {
		return err
	}
	for _, it := range items {
		title := "(unknown)"
		if it.Song != nil {
			title = it.Song.String()
		}
		fmt.Printf("%6d  server %d  song %d  %s  queued %s\n",
			it.Seq, it.ServerID, it.SongID, title, humanize.Time(it.QueuedDate))
	}
	fmt.Printf("%d queued\n", total)
	return nil
}

type EvictCmd struct{}

func (c *EvictCmd) Run(rt *runtime) error {
	cfg := rt.cfg
	reclaimer := evict.NewReclaimer(rt.db, cfg.CacheDir, evict.Config{
		Policy:        cfg.Evict.Policy,
		MinFreeBytes:  cfg.Evict.MinFreeBytes,
		MaxCacheBytes: cfg.Evict.MaxCacheBytes,
		MaxPerPass:    cfg.Evict.MaxPerPass,
	}, rt.log)
	res, err := reclaimer.Reclaim(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Evicted %d songs, freed %s\n", len(res.Evicted), humanize.IBytes(uint64(res.FreedBytes)))
	return nil
}
