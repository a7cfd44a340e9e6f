// Command signaling runs the rendezvous + frame relay server peers use to
// find each other and exchange session traffic.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/konnektoren/konnekt-session-go/internal/v1/config"
	"github.com/konnektoren/konnekt-session-go/internal/v1/logging"
	"github.com/konnektoren/konnekt-session-go/internal/v1/ratelimit"
	"github.com/konnektoren/konnekt-session-go/internal/v1/signaling"
	"github.com/konnektoren/konnekt-session-go/internal/v1/tracing"
)

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	cfg, err := config.RelayFromEnv()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode, cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.Init(ctx, tracing.Config{
			ServiceName:   "konnekt-session-relay",
			CollectorAddr: cfg.OtelCollectorAddr,
			Insecure:      cfg.OtelInsecure,
			Environment:   cfg.GoEnv,
			Attributes:    []attribute.KeyValue{tracing.ListenAttr(cfg.Port)},
		})
		if err != nil {
			slog.Warn("Tracing disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("konnekt-session-relay"))

	if cfg.AllowedOrigins != "" {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		router.Use(cors.New(corsCfg))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter, err := ratelimit.New(cfg.RateLimitJoin)
	if err != nil {
		slog.Error("Invalid rate limit", "error", err)
		os.Exit(1)
	}

	var checkOrigin func(r *http.Request) bool
	if cfg.AllowedOrigins != "" {
		allowed := strings.Split(cfg.AllowedOrigins, ",")
		checkOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // Non-browser clients
			}
			for _, a := range allowed {
				if strings.EqualFold(strings.TrimSpace(a), origin) {
					return true
				}
			}
			return false
		}
	}

	hub := signaling.NewHub(checkOrigin)
	router.GET("/v1/sessions/:id/ws", limiter.JoinMiddleware(), hub.ServeWs)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Relay listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Relay server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
