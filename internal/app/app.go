package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"casetrack-go/internal/config"
	"casetrack-go/internal/database"
	"casetrack-go/internal/fetcher"
	"casetrack-go/internal/handlers"
	"casetrack-go/internal/listener"
	"casetrack-go/internal/metrics"
	"casetrack-go/internal/notify"
	"casetrack-go/internal/repository"
	"casetrack-go/internal/rules"
	"casetrack-go/internal/scheduler"
	"casetrack-go/internal/server"
	"casetrack-go/internal/service"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Case Tracker Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Server.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	dbConn, err := database.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.NewMetrics()
	engine := rules.NewEngine(cfg.Rules)
	repo := repository.New(dbConn)
	svc := service.NewCaseService(repo, engine, m)
	notifier := notify.New(cfg.Slack, m)

	sched := scheduler.NewScheduler(&cfg.Scheduler, svc, notifier)

	var emailListener *listener.EmailListener
	if cfg.Email.Enabled {
		var f fetcher.EmailFetcher
		if cfg.Email.UseIMAP {
			f, err = fetcher.NewIMAPFetcher(&cfg.Email)
			if err != nil {
				return fmt.Errorf("failed to create IMAP fetcher: %w", err)
			}
			logrus.Info("Using IMAP for email intake")
		} else {
			f, err = fetcher.NewGmailAPIFetcher(&cfg.Email)
			if err != nil {
				return fmt.Errorf("failed to create Gmail API fetcher: %w", err)
			}
			logrus.Info("Using Gmail API for email intake")
		}
		emailListener = listener.New(f, svc, notifier, cfg.Email.PollInterval)
	} else {
		logrus.Info("Email intake disabled")
	}

	h := handlers.NewHandlers(dbConn, cfg, repo, svc, notifier, sched, emailListener)
	router := server.SetupRouter(h, cfg.Server.Debug)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if emailListener != nil {
		emailListener.Start()
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if emailListener != nil {
		emailListener.Stop()
	}
	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
