// Package main is the chronos daemon: it evaluates alarms and task
// reminders, plays alarm sounds on the local device, and serves the REST API
// and the /ws push channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/chronos-os/chronos/config"
	"github.com/chronos-os/chronos/internal/application/command"
	"github.com/chronos-os/chronos/internal/infrastructure/messaging"
	"github.com/chronos-os/chronos/internal/infrastructure/persistence/filestore"
	"github.com/chronos-os/chronos/internal/infrastructure/persistence/postgres"
	"github.com/chronos-os/chronos/internal/infrastructure/persistence/redis"
	"github.com/chronos-os/chronos/internal/infrastructure/persistence/sqlite"
	"github.com/chronos-os/chronos/internal/infrastructure/playback"
	"github.com/chronos-os/chronos/internal/infrastructure/scheduler"
	"github.com/chronos-os/chronos/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/chronos-os/chronos/internal/interface/http"
	"github.com/chronos-os/chronos/internal/interface/http/handlers"
	"github.com/chronos-os/chronos/internal/interface/realtime"
	"github.com/chronos-os/chronos/pkg/retry"
	"github.com/chronos-os/chronos/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	loc := cfg.Location()
	clock := timeutil.System(loc)

	log.Info("starting chronos",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", loc.String(),
		"data_dir", cfg.Storage.DataDir,
	)

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. RECORD STORE & SOUND LIBRARY
	// ─────────────────────────────────────────────────────────────────────────
	fs := afero.NewOsFs()

	store, err := filestore.Open(fs, cfg.Storage.RecordsPath(), log)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	log.Info("record store loaded",
		"path", store.Path(),
		"alarms", len(store.ListAlarms()),
		"tasks", len(store.ListTasks()),
	)

	library, err := playback.OpenLibrary(fs, cfg.Storage.SoundsDir())
	if err != nil {
		return fmt.Errorf("failed to open sound library: %w", err)
	}
	if err := library.SetDefault(cfg.Playback.DefaultSound); err != nil {
		log.Warn("DEFAULT_SOUND is not a built-in sound, keeping Classic Beep",
			"sound", cfg.Playback.DefaultSound)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. PLAYBACK
	// ─────────────────────────────────────────────────────────────────────────
	var sink playback.Sink = playback.NullSink{}
	if cfg.Playback.Backend == config.BackendOto {
		otoSink, err := playback.NewOtoSink(log)
		if err != nil {
			log.Warn("audio device unavailable, alarms will ring silently", "error", err)
		} else {
			sink = otoSink
		}
	}
	controller := playback.NewController(playback.ControllerConfig{
		Sink:    sink,
		Sounds:  library,
		Clearer: store,
		Logger:  log,
	})
	defer controller.StopAll()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS & REALTIME FAN-OUT
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	broadcaster := messaging.NewBroadcaster(messaging.BroadcasterConfig{Logger: log})
	defer broadcaster.CloseAll()
	if err := bus.SubscribeAll("broadcaster", broadcaster.HandleEvent); err != nil {
		return fmt.Errorf("subscribe broadcaster: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. OPTIONAL REDIS RELAY
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Redis.Enabled() {
		client, err := connectRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn("redis unavailable, event relay disabled", "error", err)
		} else {
			defer client.Close()
			relay, err := messaging.NewRedisRelay(messaging.RedisRelayConfig{
				Client:  client,
				Channel: cfg.Redis.Channel,
				Logger:  log,
			})
			if err != nil {
				return fmt.Errorf("create redis relay: %w", err)
			}
			if err := bus.SubscribeAll("redis_relay", relay.HandleEvent); err != nil {
				return fmt.Errorf("subscribe redis relay: %w", err)
			}
			health.AddCheck("redis", handlers.NewPingCheck(client))
			health.AddCheck("redis_relay", handlers.NewRunningCheck(relay.Healthy))
			log.Info("redis relay enabled", "channel", cfg.Redis.Channel)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. OPTIONAL FIRING HISTORY (PostgreSQL or SQLite)
	// ─────────────────────────────────────────────────────────────────────────
	var history httpserver.HistoryReader
	if cfg.Database.Enabled() {
		switch cfg.Database.Driver() {
		case config.DriverSQLite:
			hs, err := sqlite.Open(cfg.Database.SQLitePath(), log)
			if err != nil {
				log.Warn("history database unavailable, firing history disabled", "error", err)
				break
			}
			defer hs.Close()
			if err := bus.SubscribeAll("history", hs.HandleEvent); err != nil {
				return fmt.Errorf("subscribe history: %w", err)
			}
			history = hs
			health.AddCheck("sqlite", handlers.NewPingCheck(hs))
			log.Info("firing history enabled", "backend", "sqlite", "path", cfg.Database.SQLitePath())

		default:
			conn, err := connectPostgres(ctx, cfg.Database, log)
			if err != nil {
				log.Warn("database unavailable, firing history disabled", "error", err)
				break
			}
			defer func() {
				log.Info("closing database connection...")
				conn.Close()
			}()
			repo := postgres.NewHistoryRepository(conn, log)
			if err := bus.SubscribeAll("history", repo.HandleEvent); err != nil {
				return fmt.Errorf("subscribe history: %w", err)
			}
			history = repo
			health.AddCheck("postgres", handlers.NewPingCheck(conn))
			log.Info("firing history enabled", "backend", "postgres")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log, Clock: clock})

	alarmTick := jobs.NewAlarmTickJob(jobs.AlarmTickConfig{
		Store:     store,
		Player:    controller,
		Sounds:    library,
		Publisher: bus,
		Logger:    log,
		Location:  loc,
	})
	reminderTick := jobs.NewReminderTickJob(jobs.ReminderTickConfig{
		Store:     store,
		Publisher: bus,
		Logger:    log,
		Location:  loc,
		Window:    cfg.Scheduler.TaskTickInterval,
	})
	if err := sched.Register(alarmTick, scheduler.Every(cfg.Scheduler.AlarmTickInterval)); err != nil {
		return fmt.Errorf("register alarm tick: %w", err)
	}
	if err := sched.Register(reminderTick, scheduler.Every(cfg.Scheduler.TaskTickInterval)); err != nil {
		return fmt.Errorf("register reminder tick: %w", err)
	}
	sched.OnJobError(func(name string, err error) {
		log.Error("scheduled job failed", "job", name, "error", err)
	})
	health.AddCheck("scheduler", handlers.NewRunningCheck(sched.IsRunning))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. COMMAND HANDLERS & HTTP
	// ─────────────────────────────────────────────────────────────────────────
	alarms := command.NewAlarmHandler(command.AlarmHandlerConfig{
		Store:     store,
		Playback:  controller,
		Publisher: bus,
		Clock:     clock,
		Logger:    log,
	})
	defer alarms.Wait()

	server := httpserver.NewServer(httpserver.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		EnableCORS:     true,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, httpserver.Dependencies{
		Alarms:     alarms,
		Tasks:      command.NewTaskHandler(store, log),
		Sounds:     command.NewSoundHandler(library, log),
		SoundFiles: library,
		History:    history,
		Realtime: realtime.NewHandler(realtime.HandlerConfig{
			Registry:       broadcaster,
			Logger:         log,
			OriginPatterns: originPatterns(cfg.HTTP.AllowedOrigins),
		}),
		HealthChecker: health,
		Jobs:          sched,
		Events:        bus,
		Subscribers:   broadcaster,
		Clock:         clock,
		Version:       cfg.App.Version,
		Logger:        log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 9. RUN & GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			return err
		}
		alarmTick.Wait()
		reminderTick.Wait()
		return nil
	})

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		broadcaster.CloseAll()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("chronos is running", "address", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Observability.SlogLevel()}

	var handler slog.Handler
	if cfg.JSONLogs() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func connectRedis(ctx context.Context, rc config.RedisConfig, log *slog.Logger) (*redis.Client, error) {
	var client *redis.Client
	err := retry.Do(ctx, func(ctx context.Context) error {
		c, err := redis.NewClient(ctx, redis.Config{
			URL:          rc.URL,
			PoolSize:     rc.PoolSize,
			DialTimeout:  rc.DialTimeout,
			ReadTimeout:  rc.ReadTimeout,
			WriteTimeout: rc.WriteTimeout,
		})
		if err != nil {
			return err
		}
		client = c
		return nil
	}, retry.WithMaxAttempts(3), retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Warn("redis connect failed, retrying", "attempt", attempt, "error", err, "delay", delay)
	}))
	return client, err
}

func connectPostgres(ctx context.Context, dc config.DatabaseConfig, log *slog.Logger) (*postgres.Connection, error) {
	pcfg := postgres.DefaultConfig()
	pcfg.URL = dc.URL
	pcfg.MaxConns = dc.MaxConns
	pcfg.MinConns = dc.MinConns
	pcfg.MaxConnLifetime = dc.ConnMaxLifetime
	pcfg.MaxConnIdleTime = dc.ConnMaxIdleTime

	var conn *postgres.Connection
	err := retry.Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, pcfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, retry.WithMaxAttempts(3), retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Warn("database connect failed, retrying", "attempt", attempt, "error", err, "delay", delay)
	}))
	if err != nil {
		return nil, err
	}

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// originPatterns turns CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
