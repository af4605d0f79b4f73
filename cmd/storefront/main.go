package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/fakeapi"
	"github.com/fjod/go_cart/storefront/internal/logging"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/fjod/go_cart/storefront/internal/tui"
)

func main() {
	configPath := flag.String("config", "storefront.yaml", "path to the YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	logFile := flag.String("log-file", "storefront.log", "where to write logs while the terminal UI runs")
	demo := flag.Bool("demo", false, "run against an in-process fake api (login demo@example.com / demo123)")
	flag.Parse()

	if err := run(*configPath, *envFile, *logFile, *demo); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, logFile string, demo bool) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open log file")
	}
	defer out.Close()
	log, err := logging.New(out, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if demo {
		baseURL, shutdown, err := startDemoAPI(cfg, log)
		if err != nil {
			return err
		}
		defer shutdown()
		cfg.API.BaseURL = baseURL
		cfg.Storage.Backend = storage.BackendMemory
	}

	st, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, reg, log)
		defer stopMetrics()
	}

	nav := tui.NewNavigator()
	root, err := store.New(store.Deps{
		Gateway:    cfg.Gateway(),
		Storage:    st,
		Navigator:  nav,
		Logger:     log,
		Registerer: reg,
		PageSize:   cfg.Catalog.PageSize,
		Fencing:    cfg.Catalog.Fencing,
	})
	if err != nil {
		return err
	}
	defer root.Close()

	model, unsubscribe := tui.New(ctx, root, nav, cfg.API.LoginPath)
	defer unsubscribe()

	log.WithField("base_url", cfg.API.BaseURL).Info("storefront starting")
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	_, err = p.Run()
	// cancel in-flight intents so root.Close does not wait on them
	stop()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	log.Info("storefront exited")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log logrus.FieldLogger) func() {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", addr).Info("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server error")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// startDemoAPI serves the fake api on a loopback port and returns its base url.
func startDemoAPI(cfg config.Config, log logrus.FieldLogger) (string, func(), error) {
	api := fakeapi.New(fakeapi.Options{JWTSecret: cfg.FakeAPI.JWTSecret, TokenTTL: cfg.FakeAPI.TokenTTL}, log)
	if _, err := api.RegisterUser(domain.RegisterRequest{
		FirstName: "Demo",
		LastName:  "User",
		Email:     "demo@example.com",
		Password:  "demo123",
	}); err != nil {
		return "", nil, errors.Wrap(err, "register demo user")
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, errors.Wrap(err, "listen for demo api")
	}
	srv := &http.Server{Handler: api.Handler(), ReadTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("demo api error")
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.FakeAPI.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return "http://" + lis.Addr().String() + fakeapi.APIPrefix, shutdown, nil
}
