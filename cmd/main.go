package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gateway "github.com/opensearch-project/opensearch-traffic-gateway"
)

func main() {
	var (
		// Config file (takes precedence over individual flags)
		configPath = flag.String("config", "", "path to config file (default: search ./gateway.yaml, ~/.gateway/config.yaml, /etc/gateway/config.yaml)")
		genConfig  = flag.Bool("gen-config", false, "generate example config file and exit")

		// Individual flags (used when no config file)
		addr        = flag.String("addr", ":9200", "gateway listen address")
		backendAddr = flag.String("backend", "localhost:9201", "backend cluster host:port")
		rulesFile   = flag.String("rules", "governance.json", "path to governance rules document")
		adminAddr   = flag.String("admin-addr", "", "admin API and metrics listen address (empty disables)")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	// Generate example config mode
	if *genConfig {
		if err := gateway.WriteExampleConfig("gateway.yaml"); err != nil {
			slog.Error("generate config", "error", err)
			os.Exit(1)
		}
		fmt.Println("Generated gateway.yaml")
		return
	}

	// Try to load config file
	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Flags fill in anything the config file left at its default
	if flagSet("addr") {
		cfg.Server.Addr = *addr
	}
	if flagSet("backend") {
		cfg.Backend.Addr = *backendAddr
	}
	if flagSet("rules") {
		cfg.Governance.RulesFile = *rulesFile
	}
	if flagSet("admin-addr") {
		cfg.Server.AdminAddr = *adminAddr
	}

	logger := buildLogger(cfg.Logging, *verbose)
	slog.SetDefault(logger)

	// Compile governance rules
	governance, err := gateway.LoadGovernanceConfig(cfg.Governance.RulesFile)
	if err != nil {
		logger.Error("load governance rules", "error", err, "file", cfg.Governance.RulesFile)
		os.Exit(1)
	}
	logger.Info("governance rules loaded",
		"file", cfg.Governance.RulesFile,
		"rules", len(governance.Rules),
		"disabled", governance.DisableAll)

	metrics := gateway.NewMetrics()

	proxy := gateway.NewProxy(cfg.Server.Addr, cfg.Backend.Addr, governance)
	proxy.Logger = logger
	proxy.Metrics = metrics
	proxy.MaxRequestBytes = cfg.Governance.MaxRequestBytes
	proxy.DialTimeout = cfg.Backend.DialTimeout
	proxy.IdleTimeout = cfg.Server.IdleTimeout

	// Set up traffic capture
	var closers []func() error
	if cfg.Capture.Enabled && len(cfg.Capture.Targets) > 0 {
		fanout, targetClosers, err := cfg.Capture.BuildCaptureTarget()
		if err != nil {
			logger.Error("build capture targets", "error", err)
			os.Exit(1)
		}
		closers = targetClosers

		extractor, err := gateway.NewIdentityExtractor(
			cfg.Capture.SAMLUserIDXPath, cfg.Capture.SAMLTokenCookieName)
		if err != nil {
			logger.Error("build identity extractor", "error", err)
			os.Exit(1)
		}

		proxy.Capture = fanout
		proxy.CaptureBuilder = gateway.NewRecordBuilder(cfg.Capture.KeepResponseBody, extractor)
		proxy.MaxCaptureBytes = cfg.Capture.MaxContentBytes
		logger.Info("traffic capture enabled", "targets", len(cfg.Capture.Targets))
	}

	// Admin API on its own listener
	var adminSrv *http.Server
	if cfg.Server.AdminAddr != "" {
		admin := gateway.NewAdminAPI(proxy)
		admin.Logger = logger
		admin.Metrics = metrics
		adminSrv = &http.Server{
			Addr:         cfg.Server.AdminAddr,
			Handler:      admin,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info("admin API listening", "addr", cfg.Server.AdminAddr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin server error", "error", err)
			}
		}()
	}

	// Handle shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if adminSrv != nil {
			_ = adminSrv.Shutdown(shutdownCtx)
		}
		_ = proxy.Shutdown(shutdownCtx)
		for _, closeTarget := range closers {
			if err := closeTarget(); err != nil {
				logger.Warn("close capture target", "error", err)
			}
		}
	}()

	logger.Info("starting gateway", "addr", cfg.Server.Addr, "backend", cfg.Backend.Addr)
	if err := proxy.ListenAndServe(); err != nil {
		logger.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// flagSet reports whether a flag was passed explicitly on the command line.
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func buildLogger(cfg gateway.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			slog.Error("open log file, falling back to stderr", "error", err)
			out = os.Stderr
		} else {
			out = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
