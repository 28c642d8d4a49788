package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"automation-gateway/internal/config"
	"automation-gateway/internal/logging"
	"automation-gateway/middleware/admission"
	"automation-gateway/middleware/admission/application"
	"automation-gateway/middleware/admission/domain"
	"automation-gateway/middleware/admission/infra"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP admission gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	cmd.Flags().String("engine", "", "engine binary path (overrides engine.path)")
	cmd.Flags().Int("max-handles", 0, "pool size (overrides pool.max_handles)")
	cmd.Flags().String("stats-backend", "", "memory or redis (overrides stats.backend)")
	cmd.Flags().String("log-level", "", "debug, info, warn, error (overrides logging.level)")

	_ = v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("engine.path", cmd.Flags().Lookup("engine"))
	_ = v.BindPFlag("pool.max_handles", cmd.Flags().Lookup("max-handles"))
	_ = v.BindPFlag("stats.backend", cmd.Flags().Lookup("stats-backend"))
	_ = v.BindPFlag("logging.level", cmd.Flags().Lookup("log-level"))
	return cmd
}

// overrides liga cada chave do viper ao campo da configuração. A chave
// pontuada vira GATEWAY_SECAO_CHAVE no ambiente.
var overrides = []struct {
	key   string
	apply func(v *viper.Viper, key string, cfg *config.Config)
}{
	{"http.addr", func(v *viper.Viper, k string, c *config.Config) { c.HTTP.Addr = v.GetString(k) }},
	{"engine.path", func(v *viper.Viper, k string, c *config.Config) { c.Engine.Path = v.GetString(k) }},
	{"pool.min_handles", func(v *viper.Viper, k string, c *config.Config) { c.Pool.MinHandles = v.GetInt(k) }},
	{"pool.max_handles", func(v *viper.Viper, k string, c *config.Config) { c.Pool.MaxHandles = v.GetInt(k) }},
	{"pool.acquire_timeout", func(v *viper.Viper, k string, c *config.Config) { c.Pool.AcquireTimeout = v.GetInt(k) }},
	{"pool.max_wait_queue", func(v *viper.Viper, k string, c *config.Config) { c.Pool.MaxWaitQueue = v.GetInt(k) }},
	{"gate.max_concurrent", func(v *viper.Viper, k string, c *config.Config) { c.Gate.MaxConcurrent = v.GetInt(k) }},
	{"caller.rps", func(v *viper.Viper, k string, c *config.Config) { c.Caller.RPS = v.GetFloat64(k) }},
	{"caller.burst", func(v *viper.Viper, k string, c *config.Config) { c.Caller.Burst = v.GetInt(k) }},
	{"stats.backend", func(v *viper.Viper, k string, c *config.Config) { c.Stats.Backend = v.GetString(k) }},
	{"stats.redis.addr", func(v *viper.Viper, k string, c *config.Config) { c.Stats.Redis.Addr = v.GetString(k) }},
	{"stats.redis.password", func(v *viper.Viper, k string, c *config.Config) { c.Stats.Redis.Password = v.GetString(k) }},
	{"stats.redis.db", func(v *viper.Viper, k string, c *config.Config) { c.Stats.Redis.DB = v.GetInt(k) }},
	{"logging.level", func(v *viper.Viper, k string, c *config.Config) { c.Logging.Level = v.GetString(k) }},
	{"logging.format", func(v *viper.Viper, k string, c *config.Config) { c.Logging.Format = v.GetString(k) }},
}

// loadConfig aplica flags e GATEWAY_* (ambos via viper) por cima do arquivo.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Read(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.apply(v, o.key, cfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Logging, version)
	slog.SetDefault(logger)

	limits, err := cfg.ResourceLimits()
	if err != nil {
		return err
	}
	conflicts, err := cfg.ConflictTable()
	if err != nil {
		return err
	}
	allow, deny, err := cfg.PermissionLists()
	if err != nil {
		return err
	}

	stats, closeStats := newStatsStore(ctx, cfg.Stats, logger)
	defer closeStats()

	// pool de handles do motor externo
	burst := cfg.Pool.SpawnBurst
	if burst <= 0 {
		burst = cfg.Pool.MaxHandles
	}
	pool, err := infra.NewPool(cfg.PoolConfig(),
		infra.ExecInvoker{
			Path:              cfg.Engine.Path,
			BaseArgs:          cfg.Engine.Args,
			CriticalExitCodes: cfg.Engine.CriticalExitCodes,
		},
		infra.WithPoolLogger(logger.With("component", "pool")),
		infra.WithProbe(cfg.EngineProbe()),
		infra.WithSpawnRate(cfg.Pool.SpawnRate, burst),
	)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("pool start: %w", err)
	}

	timeouts := application.DefaultTimeouts()
	for cl, d := range cfg.TimeoutDefaults() {
		timeouts[cl] = d
	}
	gw := application.NewGateway(
		application.NewResourceMonitor(limits,
			application.WithBaseBackoff(time.Duration(cfg.Gate.BaseBackoff*float64(time.Second)))),
		application.TimeoutPolicy{Defaults: timeouts, Fallback: cfg.TimeoutFallback()},
		application.NewConcurrencyGate(conflicts, application.WithMaxConcurrent(cfg.Gate.MaxConcurrent)),
		application.WithStats(stats),
		application.WithLogger(logger.With("component", "gateway")),
	)

	exec := application.Executor{
		Gateway: gw,
		Pool:    pool,
		Permissions: infra.StaticPermissions{
			Allow:         allow,
			Deny:          deny,
			DeniedTargets: cfg.Permissions.DeniedTargets,
		},
		Callers:        newCallerService(ctx, cfg, stats, logger),
		AcquireTimeout: cfg.PoolConfig().AcquireTimeout,
		Logger:         logger,
	}

	h := admission.NewHandler(admission.HandlerOptions{
		Executor:     exec,
		Pool:         pool,
		Stats:        stats,
		CallerKey:    admission.DefaultKeyFunc(cfg.Caller.KeyHeader, cfg.Caller.TrustXForwardedFor),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       logger.With("component", "http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.GetReadTimeout(),
		WriteTimeout:      cfg.GetWriteTimeout(),
		IdleTimeout:       cfg.GetIdleTimeout(),
	}

	logger.Info("gateway listening",
		"addr", cfg.HTTP.Addr,
		"engine", cfg.Engine.Path,
		"max_handles", cfg.Pool.MaxHandles,
		"min_handles", cfg.Pool.MinHandles,
		"max_concurrent", cfg.Gate.MaxConcurrent,
		"caller_rps", cfg.Caller.RPS,
		"stats", cfg.Stats.Backend)

	serveErr := runServer(ctx, srv)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown", "error", err)
	}
	if serveErr != nil {
		return fmt.Errorf("server: %w", serveErr)
	}
	logger.Info("gateway stopped")
	return nil
}

// newCallerService monta o rate limit por chamador; nil quando nenhuma classe
// tem taxa. O janitor para junto com ctx.
func newCallerService(ctx context.Context, cfg *config.Config, stats domain.StatsStore, logger *slog.Logger) *application.CallerService {
	if !cfg.CallerEnabled() {
		return nil
	}
	classes, err := cfg.CallerClassLimits()
	if err != nil {
		// Validate já rejeitou classes inválidas
		logger.Warn("caller class limits ignored", "error", err)
	}
	opts := []infra.CallerStoreOption{
		infra.WithIdleTTL(time.Duration(cfg.Caller.IdleTTL) * time.Second),
	}
	for class, r := range classes {
		opts = append(opts, infra.WithClassLimit(class, r.RPS, r.Burst))
	}
	store := infra.NewCallerStore(cfg.Caller.RPS, cfg.Caller.Burst, opts...)
	store.StartJanitor(ctx)

	return &application.CallerService{
		Store:      store,
		Stats:      stats,
		RetryAfter: time.Duration(cfg.Caller.RetryAfter) * time.Second,
		Logger:     logger.With("component", "callers"),
	}
}

type statsStore interface {
	domain.StatsStore
	admission.StatsReporter
}

// newStatsStore usa Redis quando configurado; se o ping falhar, segue com
// estatísticas em memória em vez de derrubar o gateway.
func newStatsStore(ctx context.Context, cfg config.StatsConfig, logger *slog.Logger) (statsStore, func()) {
	if !strings.EqualFold(cfg.Backend, "redis") {
		return infra.NewMemoryStatsStore(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_, err := rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		logger.Warn("redis stats unavailable, using in-memory stats", "addr", cfg.Redis.Addr, "error", err)
		_ = rdb.Close()
		return infra.NewMemoryStatsStore(), func() {}
	}

	opts := []infra.RedisStatsOption{infra.WithStatsBucket(cfg.Redis.Bucket)}
	if cfg.Redis.Prefix != "" {
		opts = append(opts, infra.WithStatsPrefix(cfg.Redis.Prefix))
	}
	if cfg.Redis.TTL > 0 {
		opts = append(opts, infra.WithStatsTTL(time.Duration(cfg.Redis.TTL)*time.Hour))
	}
	return infra.NewRedisStatsStore(rdb, opts...), func() { _ = rdb.Close() }
}

// runServer atende até ctx terminar ou o listener falhar. Em ambos os casos
// a goroutine de shutdown termina antes do retorno.
func runServer(ctx context.Context, srv *http.Server) error {
	srvCtx, stop := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-srvCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	stop()
	<-stopped
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
