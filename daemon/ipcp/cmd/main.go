package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/config"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/core"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/server"
)

func main() {
	// Spawn arguments; the IPC Manager passes these when it forks us.
	configPath := flag.String("config", "", "Path to configuration file")
	processName := flag.String("process-name", "", "IPC process name")
	processInstance := flag.String("process-instance", "1", "IPC process instance")
	ipcpID := flag.Uint("ipcp-id", 0, "IPC process id on this node")
	controlPort := flag.Int("control-port", 0, "Control channel port")
	httpPort := flag.Int("http-port", 0, "Admin/status HTTP port")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(2)
		}
	} else {
		cfg = config.Default()
	}
	if *processName != "" {
		cfg.IPCP.ProcessName = *processName
		cfg.IPCP.ProcessInstance = *processInstance
	}
	if *ipcpID != 0 {
		cfg.IPCP.ID = uint16(*ipcpID)
	}
	if *controlPort != 0 {
		cfg.Control.Network = "tcp"
		cfg.Control.Address = fmt.Sprintf("127.0.0.1:%d", *controlPort)
	}
	if *httpPort != 0 {
		cfg.HTTP.Port = *httpPort
	}

	logger := initLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting IPC process daemon",
		zap.String("process_name", cfg.IPCP.ProcessName),
		zap.String("process_instance", cfg.IPCP.ProcessInstance),
		zap.Uint16("ipcp_id", cfg.IPCP.ID),
		zap.String("control_address", cfg.Control.Address),
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

	// Control channel to the kernel-side engine
	conn, err := net.DialTimeout(cfg.Control.Network, cfg.Control.Address, 10*time.Second)
	if err != nil {
		logger.Fatal("Cannot open control channel", zap.Error(err))
	}

	// Core event loop and components
	ipcpCore := core.New(cfg, conn, logger)
	if err := ipcpCore.Start(); err != nil {
		logger.Fatal("Core start failed", zap.Error(err))
	}
	defer ipcpCore.Stop()

	// Admin/status HTTP server
	ipcpServer := server.NewIPCPServer(cfg, ipcpCore, logger)
	ipcpServer.AttachAdmin(ipcpCore)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("IPCP HTTP server listening",
			zap.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.IPv4, cfg.HTTP.Port)),
		)
		serverErrors <- ipcpServer.Start()
	}()

	logger.Info("IPC process daemon started")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("Server error", zap.Error(err))
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ipcpServer.Stop(ctx); err != nil {
			logger.Error("Error during server shutdown", zap.Error(err))
		}
		logger.Info("IPC process daemon shutdown complete")
	}
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
