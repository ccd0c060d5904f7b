package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/saiintbrisson/ringlb"
	"github.com/saiintbrisson/ringlb/internal/logging"
)

func main() {
	var (
		name        = flag.String("name", "ringlb", "Server name used in logs")
		bind        = flag.String("bind", "0.0.0.0:9999", "Address to listen on")
		targets     = flag.String("targets", "", "Comma-separated upstream addresses (e.g. 127.0.0.1:9001,127.0.0.1:9002)")
		strategy    = flag.String("strategy", string(ringlb.StrategyRoundRobin), "Balancing strategy")
		segments    = flag.Uint("segments", 0, "Buffer pool segment count (0 = default)")
		segmentSize = flag.Int("segment-size", 0, "Buffer pool segment size in bytes (0 = default)")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *targets == "" {
		log.Fatal("at least one -targets address is required")
	}

	server := ringlb.ServerConfig{
		Name:     *name,
		Bind:     *bind,
		Strategy: ringlb.Strategy(*strategy),
	}
	for _, addr := range strings.Split(*targets, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		server.Targets = append(server.Targets, ringlb.TargetConfig{Address: addr})
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	options := &ringlb.Options{
		SegmentCount: uint16(*segments),
		SegmentSize:  *segmentSize,
		Logger:       logger,
	}

	worker, err := ringlb.NewWorker(server, options)
	if err != nil {
		logger.Error("failed to create worker", "error", err)
		os.Exit(1)
	}

	logger.Info("starting load balancer",
		"server", server.Name,
		"bind", server.Bind,
		"targets", len(server.Targets),
		"strategy", server.Strategy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- worker.Run(ctx)
	}()

	fmt.Printf("Listening on %s, balancing %d target(s)\n", server.Bind, len(server.Targets))
	fmt.Printf("\nPress Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	// Set up SIGUSR1 handler for stack trace dumps
	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
			buf := make([]byte, 1024*1024) // 1MB buffer
			n := runtime.Stack(buf, true)  // true = all goroutines
			fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n")
			fmt.Fprintf(os.Stderr, "%s\n", buf[:n])
			fmt.Fprintf(os.Stderr, "=== END STACK DUMP ===\n\n")

			// Also dump to a file
			filename := fmt.Sprintf("ringlb-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
				fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
				f.Write(buf[:n])

				// Also dump goroutine profile
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)

				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	// Wait for signal or worker exit
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil {
			logger.Error("worker failed", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	case <-sigCh:
		logger.Info("received shutdown signal")
	}

	// Cancel the context; the worker notices between completions. A
	// fully idle worker is parked in the ring wait, so don't hang the
	// shutdown on it.
	cancel()
	select {
	case <-runErr:
	case <-time.After(1 * time.Second):
		logger.Info("worker still parked in ring wait, forcing exit")
	}

	stats := worker.Stats()
	logger.Info("final stats",
		"bridges_created", stats.BridgesCreated,
		"bytes_relayed", stats.BytesRelayed,
		"teardowns", stats.Teardowns)

	os.Exit(0)
}
