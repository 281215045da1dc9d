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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wilhg/toolforge/pkg/config"
	otto "github.com/wilhg/toolforge/pkg/otel"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "toolforge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showVersion bool
		configPath  string
		toolsPath   string
		addr        string
		transport   string
		evalDir     string
		replayPath  string
	)
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&configPath, "config", getEnv("TOOLFORGE_CONFIG", ""), "path to YAML server config")
	flag.StringVar(&toolsPath, "tools", "", "path to tools.json (overrides config)")
	flag.StringVar(&addr, "addr", "", "http listen address (overrides config)")
	flag.StringVar(&transport, "transport", "", "http or stdio (overrides config)")
	flag.StringVar(&evalDir, "eval", "", "check composite instructions against the JSON fixtures in dir and exit")
	flag.StringVar(&replayPath, "replay", "", "replay a captured run summary against the API and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("toolforge %s (commit=%s, date=%s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if toolsPath != "" {
		cfg.Tools.Path = toolsPath
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if transport != "" {
		cfg.Server.Transport = transport
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otto.Init(ctx, otto.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		UseStdout:      cfg.Telemetry.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	model, err := openModel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, model)
	if err != nil {
		logger.Error("tool configuration rejected", zap.String("path", cfg.Tools.Path), zap.Error(err))
		return err
	}

	switch {
	case evalDir != "":
		return runEval(a, evalDir, os.Stdout)
	case replayPath != "":
		return runReplay(ctx, a, replayPath, os.Stdout)
	}

	if cfg.Server.Transport == "stdio" {
		logger.Info("serving MCP over stdio", zap.String("api", a.reg.APIName()))
		return a.mcp.ServeStdio(ctx)
	}

	server := &http.Server{Addr: cfg.Server.Addr, Handler: buildMux(a)}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("api", a.reg.APIName()))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(sctx)
}

// newLogger writes to stderr; stdout belongs to the stdio transport.
func newLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "toolforge"), zap.String("version", version))
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
