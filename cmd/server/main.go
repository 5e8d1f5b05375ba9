package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"release-maker/internal/app"
	"release-maker/internal/config"
	apphttp "release-maker/internal/http"
	"release-maker/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel())

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if strings.TrimSpace(cfg.Auth.RegisterPassword) == "" {
		logger.Fatalf("auth registration password is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}

	if n, err := a.Releases.RecoverInterrupted(ctx); err != nil {
		logger.Warnf("recover releases: %v", err)
	} else if n > 0 {
		logger.Warnf("marked %d interrupted releases as completed", n)
	}

	// Tasks outlive the request that launched them; they stop on shutdown.
	a.Manager.Start(context.WithoutCancel(ctx))

	userService := service.NewUserService(a.Users, cfg.Auth.RegisterPassword)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		a.Releases,
		userService,
		a.Manager,
		a.Launcher,
		cfg.Auth.JWTSecret,
		cfg.TokenTTL(),
		logger,
	)
	handler.RegisterRoutes(router)

	// BaseContext cancels open event streams on shutdown.
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warnf("release shutdown: %v", err)
	}

	logger.Info("bye")
}
