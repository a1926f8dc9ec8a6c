package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"commentguard/internal/browser"
	"commentguard/internal/classify"
	"commentguard/internal/config"
	"commentguard/internal/llm"
	"commentguard/internal/logging"
	"commentguard/internal/metrics"
	"commentguard/internal/report"
	"commentguard/internal/session"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(logging.Config{
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		ServiceName: "commentguard",
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keywords, err := config.LoadKeywords(cfg.KeywordsFile)
	if err != nil {
		log.Fatal("keywords failed to load", zap.Error(err))
	}
	lexicon := classify.NewLexicon(keywords)

	var semantic classify.Service
	if strings.TrimSpace(cfg.LLMBaseURL) != "" {
		semantic = llm.New(llm.Options{
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
			Timeout: cfg.LLMTimeout,
		})
	}
	arbiter := classify.NewArbiter(ctx, semantic, classify.ArbiterConfig{
		Timeout:         cfg.LLMTimeout,
		MaxInputChars:   cfg.LLMMaxInput,
		MaxOutputTokens: cfg.LLMMaxOutput,
	}, log.Named("semantic"))
	pipeline := classify.NewPipeline(lexicon, arbiter)

	hub := report.NewHub(log.Named("report"))
	if strings.TrimSpace(cfg.RedisURL) != "" {
		publisher, err := report.NewRedisPublisher(cfg.RedisURL, cfg.RedisStatsChannel)
		if err != nil {
			// Stats pushes are best effort; run without them.
			log.Warn("redis unavailable, stats publishing disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			hub.Attach(publisher)
			log.Info("publishing stats to redis", zap.String("channel", publisher.Channel()))
		}
	}

	tab, err := browser.New(ctx, browser.Options{
		RemoteURL: cfg.ChromeURL,
		Headless:  cfg.Headless,
		ExecPath:  cfg.ChromePath,
	}, log.Named("browser"))
	if err != nil {
		log.Fatal("browser failed to start", zap.Error(err))
	}
	defer tab.Close()

	controller := session.New(ctx, session.Config{
		DebounceWindow:   cfg.DebounceWindow,
		PeriodicInterval: cfg.PeriodicInterval,
		DiscoveryRetry:   cfg.DiscoveryRetry,
		SettleDelay:      cfg.SettleDelay,
		Highlights:       cfg.Highlights,
	}, session.Deps{
		Pipeline: pipeline,
		Page:     tab,
		Marker:   tab,
		Reporter: hub,
	}, log.Named("session"))
	defer controller.Close()

	tab.OnNavigate(func(location string) {
		controller.Observe(ctx, location)
	})

	if cfg.TargetURL != "" {
		if err := tab.Navigate(ctx, cfg.TargetURL); err != nil {
			log.Error("initial navigation failed", zap.String("url", cfg.TargetURL), zap.Error(err))
		}
	} else if location, err := tab.Location(ctx); err == nil {
		controller.Observe(ctx, location)
	}

	dispatcher := report.NewDispatcher(controller, hub, log.Named("messages"))
	httpServer := report.NewHTTPServer(controller, dispatcher, tab, report.ServerConfig{
		ControlToken: cfg.ControlToken,
		CORSOrigin:   cfg.CORSOrigin,
		Metrics:      metrics.Handler(),
	}, log.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("control API listening", zap.String("addr", cfg.Addr),
			zap.Bool("semantic", pipeline.SemanticAvailable()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
}
