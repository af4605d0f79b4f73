package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/fakeapi"
	"github.com/fjod/go_cart/storefront/internal/logging"
)

func main() {
	configPath := flag.String("config", "storefront.yaml", "path to the YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	demoUser := flag.Bool("demo-user", true, "register demo@example.com / demo123 on start")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up logging")
	}

	api := fakeapi.New(fakeapi.Options{
		JWTSecret: cfg.FakeAPI.JWTSecret,
		TokenTTL:  cfg.FakeAPI.TokenTTL,
	}, log)
	if *demoUser {
		if _, err := api.RegisterUser(domain.RegisterRequest{
			FirstName: "Demo",
			LastName:  "User",
			Email:     "demo@example.com",
			Password:  "demo123",
		}); err != nil {
			log.WithError(err).Fatal("failed to register demo user")
		}
	}

	srv := &http.Server{
		Addr:         cfg.FakeAPI.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.FakeAPI.Addr).Info("fake storefront api starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.FakeAPI.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}
	log.Info("server exited")
}
