package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/handlers"
	"github.com/mmdatafocus/packing_backend/middlewares"
	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := config.GetLogger()

	appConfig, err := config.LoadAppConfig()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Fatal(err.Error())
	}
	if appConfig.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start listening immediately so the startup probe passes; until the
	// dependencies are ready every endpoint but /healthz answers 503.
	var app atomic.Pointer[gin.Engine]
	srv := &http.Server{
		Addr: ":" + appConfig.Port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/healthz" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			router := app.Load()
			if router == nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			router.ServeHTTP(w, req)
		}),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// IMPORTANT: AutoMigrate can run DDL that blocks tables.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !appConfig.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	engine, err := workflow.NewConfiguredEngine(sigCtx, appConfig, db, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "engine"}).Fatal(err.Error())
	}

	h, err := handlers.New(engine)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "handlers"}).Fatal(err.Error())
	}
	app.Store(newRouter(appConfig, h, logger))

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	schedulerDone := make(chan struct{})
	if appConfig.Schedule.Enabled {
		scheduler, err := workflow.NewCaptureScheduler(engine, appConfig.Schedule)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "scheduler"}).Fatal(err.Error())
		}
		go func() {
			defer close(schedulerDone)
			scheduler.Run(schedulerCtx)
		}()
	} else {
		close(schedulerDone)
	}

	logger.WithFields(logrus.Fields{
		"port":         appConfig.Port,
		"lock_backend": appConfig.Lock.Backend,
		"timezone":     engine.Location.String(),
		"schedule":     appConfig.Schedule.Enabled,
	}).Info("server.ready")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the scheduler first so no capture starts while we drain; a running
	// capture is allowed to finish.
	cancelScheduler()
	<-schedulerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func newRouter(appConfig *config.AppConfig, h *handlers.Handler, logger *logrus.Logger) *gin.Engine {
	r := gin.New()

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist; otherwise allow all.
	if appConfig.IsProduction() {
		corsConfig.AllowOrigins = appConfig.CORSOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			// deny all cross-origin requests when no allowlist is configured
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders(middlewares.HeaderActor, middlewares.HeaderCorrelationId, "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.HeaderCorrelationId)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	h.RegisterRoutes(r, middlewares.NewOpsRateLimiter(appConfig.OpsRateLimit))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
