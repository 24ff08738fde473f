package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"aevrt/pkg/aevip"
	"aevrt/pkg/config"
	"aevrt/pkg/latency"
	"aevrt/pkg/metrics"
	"aevrt/pkg/observability"
	"aevrt/pkg/optimizer"
	"aevrt/pkg/registry"
	"aevrt/pkg/runtime"
	"aevrt/pkg/task"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.NodeID != "" {
		cfg.NodeID = opts.NodeID
	}

	logger, err := observability.SetupLogger(cfg.Log, zap.String("node", cfg.NodeID))
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("aevrt-node started",
		zap.String("app", cfg.AppName),
		zap.String("listen", cfg.Listen))

	clk := clockwork.NewRealClock()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metric store: durable when a DSN is configured, in-memory otherwise.
	var store metrics.Store
	if cfg.Storage.MySQLDSN != "" {
		gs, err := metrics.OpenGormStore(cfg.Storage.MySQLDSN)
		if err != nil {
			zap.L().Error("open metric store", zap.Error(err))
			return 1
		}
		store = gs
		zap.L().Info("using mysql metric store")
	} else {
		store = metrics.NewMemoryStore(0, clk)
	}

	// Node registry: shared via redis when configured.
	var reg registry.Registry
	if cfg.Storage.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zap.L().Error("redis ping", zap.Error(err))
			return 1
		}
		reg = registry.NewRedisRegistry(rdb)
		zap.L().Info("using redis node registry", zap.String("addr", cfg.Storage.RedisAddr))
	} else {
		reg = registry.NewMemoryRegistry(clk)
	}

	an := latency.NewAnalyzer(store, latency.Options{
		Clock:     clk,
		Baselines: cfg.Runtime.ModelBaselinesMS,
	})
	opt := optimizer.New(an, store, nil)
	adapters := defaultAdapters(clk)

	var coord *aevip.Coordinator
	if cfg.Runtime.EnableAevIP {
		client := aevip.NewHTTPClient(time.Duration(cfg.Runtime.MaxTaskTimeoutMS) * time.Millisecond)
		coord, err = aevip.NewCoordinator(reg, client, aevip.Options{
			Secret:              cfg.Runtime.AevIPSecret,
			Sender:              cfg.NodeID,
			PollInterval:        time.Duration(cfg.Runtime.PollIntervalMS) * time.Millisecond,
			MaxTaskTimeout:      time.Duration(cfg.Runtime.MaxTaskTimeoutMS) * time.Millisecond,
			HealthCheckInterval: time.Duration(cfg.Runtime.HealthCheckIntervalMS) * time.Millisecond,
			Clock:               clk,
		})
		if err != nil {
			zap.L().Error("init coordinator", zap.Error(err))
			return 1
		}
	}

	sched := runtime.NewLocalScheduler(an)
	defer sched.Close()
	exec := runtime.NewLocalExecutor(adapters, coord, aevip.StrategyCapability, clk)
	rt, err := runtime.New(runtime.Options{
		Config:    cfg.Runtime,
		Analyzer:  an,
		Optimizer: opt,
		Metrics:   store,
		Scheduler: sched,
		Executor:  exec,
		Clock:     clk,
	})
	if err != nil {
		zap.L().Error("init runtime", zap.Error(err))
		return 1
	}

	// Announce this node and keep its heartbeat fresh.
	self := registry.Node{
		ID:      cfg.NodeID,
		Address: advertiseAddr(cfg.Listen),
		Status:  registry.StatusActive,
		Capabilities: map[task.Type]float64{
			task.TypeLanguage: 1.0,
			task.TypeImage:    1.0,
			task.TypeMusic:    1.0,
		},
	}
	if err := reg.Register(ctx, self); err != nil {
		zap.L().Error("register node", zap.Error(err))
		return 1
	}
	go heartbeatLoop(ctx, reg, cfg.NodeID, clk)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	recv := aevip.NewReceiver(cfg.Runtime.AevIPSecret, adapters)
	defer recv.Close()
	recv.Routes(engine)
	engine.POST("/tasks", submitHandler(rt))
	engine.GET("/accuracy", func(c *gin.Context) {
		c.JSON(http.StatusOK, rt.Accuracy())
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		zap.L().Error("http server", zap.Error(err))
		return 1
	case <-ctx.Done():
	}

	zap.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("http shutdown", zap.Error(err))
	}
	_ = reg.SetStatus(shutdownCtx, cfg.NodeID, registry.StatusFailed)
	return 0
}

// heartbeatLoop refreshes the liveness stamp at half the heartbeat window.
func heartbeatLoop(ctx context.Context, reg registry.Registry, nodeID string, clk clockwork.Clock) {
	ticker := clk.NewTicker(registry.HeartbeatWindow / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := reg.Heartbeat(ctx, nodeID); err != nil {
				zap.L().Warn("heartbeat", zap.Error(err))
			}
		}
	}
}

// advertiseAddr turns a listen address into a URL other nodes can dial.
func advertiseAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://127.0.0.1" + listen
	}
	return "http://" + listen
}

// submitRequest is the body of POST /tasks.
type submitRequest struct {
	Task             task.Task `json:"task"`
	TargetLatencyMS  float64   `json:"target_latency_ms,omitempty"`
	MaxCost          float64   `json:"max_cost,omitempty"`
	QualityThreshold float64   `json:"quality_threshold,omitempty"`
}

func submitHandler(rt *runtime.Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Task.Type == task.TypeUnknown {
			c.JSON(http.StatusBadRequest, gin.H{"error": "task type is required"})
			return
		}
		if req.Task.ID == "" {
			req.Task.ID = uuid.NewString()
		}

		out, err := rt.ExecuteTask(c.Request.Context(), req.Task, optimizer.Constraints{
			TargetLatencyMS:  req.TargetLatencyMS,
			MaxCost:          req.MaxCost,
			QualityThreshold: req.QualityThreshold,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"task_id":    out.Task.ID,
			"latency_ms": out.LatencyMS,
			"decision":   out.Decision,
			"results":    out.Results,
		})
	}
}
