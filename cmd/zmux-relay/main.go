package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/edirooss/zmux-relay/internal/codec/synthetic"
	"github.com/edirooss/zmux-relay/internal/config"
	"github.com/edirooss/zmux-relay/internal/http/handler"
	mw "github.com/edirooss/zmux-relay/internal/http/middleware"
	"github.com/edirooss/zmux-relay/internal/infrastructure/eventlog"
	"github.com/edirooss/zmux-relay/internal/relay"
	"github.com/edirooss/zmux-relay/internal/repo"
	"github.com/edirooss/zmux-relay/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var configPath = flag.String("config", "", "path to the YAML config (default ./zmux-relay.yaml, then /etc/zmux-relay/)")

func init() {
	// Handle version display
	handleVersion()
}

func main() {
	// Load config
	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, fresh, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	isDev := cfg.System.Dev || os.Getenv("ENV") == "dev"

	// Create Zap logger
	log, level, err := buildLogger(&cfg.System, isDev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.Named("main")

	if fresh {
		log.Warn("config file not found; starting empty", zap.String("path", path))
	}
	if ce := log.Check(zap.DebugLevel, "effective system config"); ce != nil {
		ce.Write(zap.String("dump", spew.Sdump(cfg.System)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relay
	mgr := relay.NewManager(log, synthetic.New(log), relay.Options{
		Workers:               cfg.System.WorkerThreads,
		MonitorInterval:       cfg.System.MonitorInterval(),
		InactivityThreshold:   cfg.System.InactivityThreshold(),
		MaxConcurrentConnects: cfg.System.MaxConcurrentConnects,
		Events:                eventlog.NewManager(),
	})
	if err := mgr.Reload(cfg.System.WorkerThreads, cfg.Streams, cfg.Tasks); err != nil {
		log.Warn("initial config applied with errors", zap.Error(err))
	}

	// Status: HTTP cache, optionally mirrored to Redis
	var pub service.ReportPublisher
	if addr := cfg.System.RedisAddress; addr != "" {
		rdb := repo.NewRedisClient(log, addr, 0)
		defer rdb.Close()
		_ = rdb.Ping(ctx) // logged; publishing retries on its own
		pub = repo.NewStatusRepository(log, rdb, 5*cfg.System.StatusInterval())
	}
	statussvc := service.NewStatusService(log, mgr, pub, service.StatusOptions{
		PublishInterval: cfg.System.StatusInterval(),
	})
	go statussvc.Run(ctx)

	// Hot reload
	go service.NewConfigSync(log, mgr, level, statussvc.Invalidate).Run(ctx, path, 0)

	// Create Gin router
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer() // Configure Gin's logger to use Zap
	r := gin.New()
	{
		r.Use(gin.Recovery()) // Recovery first (outermost)
		r.Use(mw.RequestID())

		if isDev { // Enable CORS for a local dashboard
			r.Use(cors.New(cors.Config{
				AllowOrigins:  []string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:3000"},
				AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowHeaders:  []string{"X-Request-ID", "Content-Type"},
				ExposeHeaders: []string{"X-Request-ID", "X-Total-Count", "X-Cache", "X-Status-Generated-At", "Location"},
				MaxAge:        12 * time.Hour,
			}))
		} else { // Behind a TLS-terminating proxy
			r.SetTrustedProxies([]string{"127.0.0.1"})
			r.Use(secure.New(secure.Config{
				FrameDeny:          true,
				ContentTypeNosniff: true,
				SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
			}))
		}

		r.Use(mw.AccessLog(log.Named("http")))
		r.Use(mw.LimitConcurrentRequests(64))
		r.Use(func(c *gin.Context) {
			// Enforce a hard 1MB max request body.
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
			c.Next()
		})
	}

	// Register route handlers
	r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	r.GET("/api/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": config.Version, "commit": config.GitCommit, "built": config.BuildDate})
	})
	handler.Routes(r.Group("/api"),
		handler.NewStreamsHandler(log, mgr, statussvc),
		handler.NewTasksHandler(log, mgr, statussvc),
		handler.Status(statussvc),
	)

	httpsrv := &http.Server{
		Addr:              cfg.System.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 2 * time.Second,  // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second, // full request read (incl. body)
		WriteTimeout:      15 * time.Second, // avoid forever-hangs on writes
		IdleTimeout:       60 * time.Second, // keep-alive cap
		MaxHeaderBytes:    1 << 20,          // 1MB cap
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("running HTTP server", zap.String("addr", httpsrv.Addr))
		if err := httpsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("signal received; shutting down")
	case err := <-srvErr:
		log.Error("server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpsrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	// Snapshot before stopping so auto_start records what was running.
	cfg.Streams, cfg.Tasks = mgr.Configs()
	if err := mgr.Shutdown(); err != nil {
		log.Warn("relay shutdown", zap.Error(err))
	}
	if err := config.Save(path, cfg); err != nil {
		log.Error("persist config failed", zap.String("path", path), zap.Error(err))
	} else {
		log.Info("config persisted",
			zap.String("path", path),
			zap.Int("streams", len(cfg.Streams)),
			zap.Int("tasks", len(cfg.Tasks)),
		)
	}
	log.Info("bye")
}

// handleVersion prints build metadata and exits when -v/--version is provided.
func handleVersion() {
	v := flag.Bool("v", false, "print version and exit")
	flag.BoolVar(v, "version", false, "print version and exit")
	flag.Parse()

	if *v {
		fmt.Printf("zmux-relay %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		os.Exit(0)
	}
}

// loadConfig reads path; a missing file yields the defaults and fresh=true
// so the first shutdown writes it out.
func loadConfig(path string) (cfg *config.Config, fresh bool, err error) {
	cfg, err = config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), true, nil
	}
	return cfg, false, err
}

// buildLogger builds the process logger. The returned level is shared with
// the config watcher so log_level can change at runtime.
func buildLogger(sys *config.System, isDev bool) (*zap.Logger, zap.AtomicLevel, error) {
	lvl, err := sys.Level()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	var logConfig zap.Config
	if isDev {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.EncoderConfig.TimeKey = ""
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		logConfig = zap.NewProductionConfig()
		logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		logConfig.Sampling = nil
	}
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	if sys.LogFile != "" {
		logConfig.OutputPaths = append(logConfig.OutputPaths, sys.LogFile)
	}

	log, err := logConfig.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return log, logConfig.Level, nil
}
