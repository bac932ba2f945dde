// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// The meterline-agent command runs the delivery pipeline as a
// standalone process: it reads JSON events line by line from a file
// or stdin, feeds them to the pipeline, and drains cleanly on
// SIGINT/SIGTERM. It exists as the reference host integration; real
// applications embed the pipeline package directly.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/meterline/meterline/lib/config"
	"github.com/meterline/meterline/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "",
		"path to the meterline.yaml config file (falls back to METERLINE_CONFIG)")
	inputPath := flag.String("input", "-",
		"JSONL event source; one JSON object per line, '-' for stdin")
	logLevel := flag.String("log-level", "info",
		"log level: debug, info, warn, error")
	flag.Parse()

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	var cfg *config.Config
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	pipelineConfig := cfg.Pipeline()
	pipelineConfig.Logger = logger

	p, err := pipeline.New(pipelineConfig)
	if err != nil {
		return err
	}

	input, closeInput, err := openInput(*inputPath)
	if err != nil {
		p.Close()
		return err
	}
	defer closeInput()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The agent process is the foreground application from the
	// pipeline's point of view for its whole lifetime.
	p.EnterForeground()
	logger.Info("agent started",
		"session_id", p.SessionID(),
		"input", *inputPath,
	)

	readDone := make(chan error, 1)
	go func() {
		readDone <- feedEvents(ctx, input, p, logger)
	}()

	select {
	case err = <-readDone:
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
		err = nil
	}

	p.EnterBackground()
	if closeErr := p.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	stats := p.Stats()
	logger.Info("agent stopped",
		"delivered", stats.Delivered,
		"stored_for_retry", stats.StoredForRetry,
		"rejected_permanent", stats.RejectedPermanent,
		"evicted", stats.Evicted,
		"expired", stats.Expired,
		"retry_exhausted", stats.RetryExhausted,
	)
	return err
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}
	return f, f.Close, nil
}

// feedEvents reads one JSON object per line and tracks it. The
// "event_type" field names the event; every other field becomes an
// attribute. Malformed lines are logged and skipped, matching the
// pipeline's policy of never failing the producer.
func feedEvents(ctx context.Context, input io.Reader, p *pipeline.Pipeline, logger *slog.Logger) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			logger.Warn("skipping malformed event line", "error", err)
			continue
		}
		eventType, _ := fields["event_type"].(string)
		if eventType == "" {
			logger.Warn("skipping event line without event_type")
			continue
		}
		delete(fields, "event_type")

		p.Track(eventType, fields)
	}
	return scanner.Err()
}
