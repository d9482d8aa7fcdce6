package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/HsGalaxy/gptload-go/internal/app"
	"github.com/HsGalaxy/gptload-go/internal/env"
	"github.com/HsGalaxy/gptload-go/internal/version"
	"github.com/HsGalaxy/gptload-go/pkg/container"
	"github.com/HsGalaxy/gptload-go/pkg/format"
	"github.com/HsGalaxy/gptload-go/pkg/nerdstats"
	"github.com/HsGalaxy/gptload-go/pkg/profiler"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/HsGalaxy/gptload-go/internal/logger"
)

// Exit codes a process supervisor can branch on, beyond the generic 0/1
// success/failure split.
const (
	exitOK          = 0
	exitConfig      = 1
	exitBind        = 2
	exitPersistence = 3
)

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, app.ErrConfig):
		return exitConfig
	case errors.Is(err, app.ErrBind):
		return exitBind
	case errors.Is(err, app.ErrPersistence):
		return exitPersistence
	default:
		return exitConfig
	}
}

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	if env.GetEnvBoolOrDefault("GPTLOAD_PROFILE", false) {
		profiler.InitialiseProfiler()
	}

	// setup: logging with styled logger
	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	// Set as default logger
	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	// setup: graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	// Pass styled logger to application
	application, err := app.New(startTime, styledLogger)
	if err != nil {
		logger.FatalWithCode(logInstance, exitCodeFor(err), "Failed to create application", "error", err)
	}

	if err := application.Start(ctx); err != nil {
		logger.FatalWithCode(logInstance, exitCodeFor(err), "Failed to start application", "error", err)
	}

	exitCode := exitOK
	select {
	case <-ctx.Done():
	case err := <-application.Err():
		styledLogger.Error("Listener failed", "error", err)
		exitCode = exitCodeFor(err)
		cancel()
	}

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("Error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)

	styledLogger.Info("Shutdown complete")
	if exitCode != exitOK {
		os.Exit(exitCode)
	}
}

func reportProcessStats(logger *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	logger.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	logger.Info("Process Allocation Stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", stats.NetObjects(),
	)

	if stats.NumGC > 0 {
		logger.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	logger.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	logger.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	if buildInfo := stats.GetBuildInfoSummary(); len(buildInfo) > 0 {
		var buildArgs []any
		for key, value := range buildInfo {
			buildArgs = append(buildArgs, key, value)
		}
		logger.Info("Build Info", buildArgs...)
	}

	logger.Info("Process Health Summary",
		"memory_pressure", stats.GetMemoryPressure(),
		"goroutine_status", stats.GetGoroutineHealthStatus(),
		"uptime", format.Duration(stats.Uptime),
		"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
	)
}

// buildLoggerConfig creates logger config from environment variables with
// defaults. Pretty terminal output defaults off inside a container, where
// nothing is attached to a tty to render it and downstream log collectors
// expect JSON lines; GPTLOAD_PRETTY_LOGS overrides the detection either way.
func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      env.GetEnvOrDefault("GPTLOAD_LOG_LEVEL", "info"),
		FileOutput: env.GetEnvBoolOrDefault("GPTLOAD_FILE_OUTPUT", true),
		LogDir:     env.GetEnvOrDefault("GPTLOAD_LOG_DIR", "./logs"),
		MaxSize:    env.GetEnvIntOrDefault("GPTLOAD_MAX_SIZE", 100),
		MaxBackups: env.GetEnvIntOrDefault("GPTLOAD_MAX_BACKUPS", 5),
		MaxAge:     env.GetEnvIntOrDefault("GPTLOAD_MAX_AGE", 30),
		Theme:      env.GetEnvOrDefault("GPTLOAD_THEME", "default"),
		PrettyLogs: env.GetEnvBoolOrDefault("GPTLOAD_PRETTY_LOGS", !container.IsContainerised()),
	}
}
