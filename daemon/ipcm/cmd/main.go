package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/config"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/factory"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/flowlog"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/server"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/store"
)

// Exit codes per failure class.
const (
	exitOK          = 0
	exitConfig      = 2
	exitStore       = 3
	exitHTTPServer  = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			return exitConfig
		}
	} else {
		cfg = config.Default()
	}

	logger := initLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting IPC Manager",
		zap.Int("control_port", cfg.Control.Port),
		zap.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.IPv4, cfg.HTTP.Port)),
	)

	// Metrics server
	metricsServer := metrics.NewMetricsServer(cfg.Observability.MetricsPort, logger)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	defer metricsServer.Stop()

	metrics.SetServiceUp(true)
	defer metrics.SetServiceUp(false)

	// Persistent registry
	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		logger.Error("Cannot open store", zap.Error(err))
		return exitStore
	}
	defer st.Close()

	// Optional flow-event archive
	var archive *flowlog.Archive
	if cfg.FlowLog.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		chClient, err := flowlog.NewClient(ctx, flowlog.Options{
			Address:  cfg.FlowLog.Address,
			Database: cfg.FlowLog.Database,
			Username: cfg.FlowLog.Username,
			Password: cfg.FlowLog.Password,
		}, logger)
		if err != nil {
			logger.Error("Flow archive unavailable (continuing without it)", zap.Error(err))
		} else {
			archive, err = flowlog.NewArchive(ctx, chClient, logger)
			if err != nil {
				logger.Error("Flow archive schema failed (continuing without it)", zap.Error(err))
				archive = nil
			}
			defer chClient.Close()
		}
		cancel()
	}

	// IPC process factory
	f := factory.New(cfg, logger)
	f.OnFinalized(func(id uint16, pid int) {
		logger.Warn("IPCP daemon finalized", zap.Uint16("ipcp_id", id), zap.Int("pid", pid))
	})
	defer f.DestroyAll()

	// Northbound API
	ipcmServer := server.NewIPCMServer(cfg, f, st, archive, cfg.Control.Port, logger)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- ipcmServer.Start()
	}()

	logger.Info("IPC Manager started")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
		return exitHTTPServer
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ipcmServer.Stop(ctx); err != nil {
			logger.Error("Error during server shutdown", zap.Error(err))
		}
		logger.Info("IPC Manager shutdown complete")
	}
	return exitOK
}

// initLogger initializes the logger
func initLogger(level, logFile string) *zap.Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	outputs := []string{"stdout"}
	if logFile != "" {
		outputs = append(outputs, logFile)
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	return logger
}
