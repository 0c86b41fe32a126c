package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BridgeFM/cache"
	"BridgeFM/config"
	"BridgeFM/core/bridge"
	"BridgeFM/core/deck"
	"BridgeFM/core/sched"
	"BridgeFM/core/serato"
	"BridgeFM/core/transport"
	"BridgeFM/logger"
	"BridgeFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bridgefm",
	Short: "BridgeFM bridges DJ equipment to a now-playing backend.",
	Run: func(cmd *cobra.Command, args []string) {
		runBridge()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runBridge 组装并运行桥接进程，阻塞到收到退出信号
func runBridge() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})

	logger.Info("starting bridge",
		logger.String("eventCode", cfg.EventCode),
		logger.String("seratoDir", cfg.SeratoDir),
		logger.String("backend", cfg.APIBaseURL))

	// Redis 可选，只用于重放缓冲持久化
	if cfg.RedisHost != "" {
		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Warn("redis unavailable, pending reports will not survive restarts",
				logger.ErrorField(err))
		} else {
			defer cache.CloseRedis()
		}
	}

	scheduler := sched.New()
	breaker := transport.NewBreaker(transport.DefaultFailureThreshold, transport.DefaultCooldown, scheduler)
	reporter := transport.NewReporter(transport.ReporterConfig{
		BaseURL:   cfg.APIBaseURL,
		APIKey:    cfg.APIKey,
		EventCode: cfg.EventCode,
		Source:    cfg.Source,
	}, breaker, scheduler, cache.NewReportCache(cfg.EventCode))
	defer reporter.Close()

	manager := deck.NewManager(deck.Config{
		LiveThresholdSeconds:   cfg.LiveThresholdSeconds,
		PauseGraceSeconds:      cfg.PauseGraceSeconds,
		NowPlayingPauseSeconds: cfg.NowPlayingPauseSeconds,
		UseFaderDetection:      cfg.UseFaderDetection,
		MasterDeckPriority:     cfg.MasterDeckPriority,
	}, scheduler)
	defer manager.Destroy()

	adapter := serato.NewAdapter(serato.AdapterConfig{
		Dir:          cfg.SeratoDir,
		PollInterval: cfg.PollInterval(),
	})

	b := bridge.New(adapter, manager, reporter)

	var statusServer *server.Server
	if cfg.StatusAddr != "" {
		statusServer = server.New(cfg.StatusAddr, b)
		statusServer.Start()
	}

	if err := b.Start(); err != nil {
		logger.Fatal("failed to start adapter", logger.ErrorField(err))
	}

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down bridge")
	b.Stop()

	if statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		statusServer.Shutdown(ctx)
	}
}
