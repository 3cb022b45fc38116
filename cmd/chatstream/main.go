// chatstream connects to a chat server, sends a prompt and streams the
// aggregated reply to the console.
// Usage: go run ./cmd/chatstream --config configs/chatstream.example.yaml --prompt "hello"
//
// Credentials are read from the config file, which may reference
// environment variables:
//
//	CHAT_TOKEN           - Bearer token
//	CHAT_KEY_ID          - Key ID for signed handshakes
//	CHAT_PRIVATE_KEY_PATH - Path to RSA private key PEM file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/streamlink/internal/auth"
	"github.com/rickgao/streamlink/internal/config"
	"github.com/rickgao/streamlink/internal/connection"
	"github.com/rickgao/streamlink/internal/database"
	"github.com/rickgao/streamlink/internal/protocol"
	"github.com/rickgao/streamlink/internal/store"
	"github.com/rickgao/streamlink/internal/stream"
	"github.com/rickgao/streamlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/chatstream.example.yaml", "path to config file")
	threadID := flag.String("thread", "default", "thread to send the prompt on")
	prompt := flag.String("prompt", "", "user message to send after connecting")
	stopAfter := flag.Duration("stop-after", 0, "request a generation stop after this long (0 = never)")
	statsInterval := flag.Duration("stats-interval", 10*time.Second, "interval between stats log lines")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	logger.Info("starting chatstream", "version", version.String(), "url", cfg.Session.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	headers, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	// Optional transcript persistence
	var (
		pool    *pgxpool.Pool
		writer  *store.TranscriptWriter
		aggOpts []stream.Option
	)
	if cfg.Store.Enabled {
		pool, err = database.Connect(ctx, cfg.Store.Database, logger.With("component", "database"))
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := store.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}

		writer = store.NewTranscriptWriter(store.WriterConfig{
			BatchSize:     cfg.Store.BatchSize,
			FlushInterval: cfg.Store.FlushInterval,
			BufferSize:    cfg.Store.BufferSize,
		}, pool, logger.With("component", "transcript_writer"))
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start transcript writer", "error", err)
			os.Exit(1)
		}
		aggOpts = append(aggOpts, stream.WithSink(writer))
	}

	agg := stream.NewAggregator(logger.With("component", "aggregator"), aggOpts...)

	sessCfg := sessionConfig(cfg.Session)
	if headers != nil {
		sessCfg.Headers = headers
	}
	session, err := connection.NewSession(sessCfg, logger.With("component", "session"), connection.WithConsumer(agg))
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	session.SetCallbacks(consoleCallbacks(logger))

	g, gctx := errgroup.WithContext(ctx)

	// Connect and send the prompt. With reconnection enabled Send queues
	// while connecting, so the prompt goes out as soon as the socket opens.
	g.Go(func() error {
		done := session.Connect()
		queued := false
		if *prompt != "" && sessCfg.Reconnect.Enabled {
			if err := sendPrompt(session, agg, *threadID, *prompt); err != nil {
				return err
			}
			queued = true
		}
		if err := done.Wait(gctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("connect: %w", err)
		}
		if *prompt != "" && !queued {
			return sendPrompt(session, agg, *threadID, *prompt)
		}
		return nil
	})

	if *stopAfter > 0 {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(*stopAfter):
			}
			logger.Info("requesting generation stop", "thread", *threadID)
			agg.BeginStop(*threadID)
			if err := session.Send(protocol.NewStopGeneration(*threadID)); err != nil {
				logger.Warn("failed to send stop request", "error", err)
			}
			return nil
		})
	}

	// Stats printer
	g.Go(func() error {
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logStats(logger, session, agg, writer)
			}
		}
	})

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown or a fatal connect error
	if err := g.Wait(); err != nil {
		logger.Error("stream failed", "error", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	session.Disconnect()
	if n := agg.EndStreams(); n > 0 {
		logger.Info("sealed unfinished messages", "count", n)
	}
	if writer != nil {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Error("final transcript flush failed", "error", err)
		}
	}
	session.Destroy()

	if view, ok := agg.Thread(*threadID); ok {
		printTranscript(view)
	}
	logStats(logger, session, agg, writer)
	logger.Info("shutdown complete")
}

func sendPrompt(session *connection.Session, agg *stream.Aggregator, threadID, prompt string) error {
	msg := protocol.NewUserMessage(threadID, uuid.NewString(), prompt)
	if err := session.Send(msg); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	agg.MarkRunning(threadID)
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func sessionConfig(c config.SessionConfig) connection.SessionConfig {
	return connection.SessionConfig{
		URL:            c.URL,
		UserAgent:      version.UserAgent(),
		ConnectTimeout: c.ConnectTimeout,
		WriteTimeout:   c.WriteTimeout,
		PingInterval:   c.PingInterval,
		PongTimeout:    c.PongTimeout,
		ReadLimit:      c.ReadLimit,
		QueueSize:      c.QueueSize,
		Reconnect: connection.ReconnectConfig{
			Enabled:      c.Reconnect.IsEnabled(),
			MaxAttempts:  c.Reconnect.Attempts(),
			BaseInterval: c.Reconnect.BaseInterval,
			Decay:        c.Reconnect.Decay,
			MaxDelay:     c.Reconnect.MaxDelay,
		},
	}
}

func consoleCallbacks(logger *slog.Logger) connection.Callbacks {
	return connection.Callbacks{
		OnStateChange: func(next, prev connection.State) {
			logger.Debug("state changed", "from", prev, "to", next)
		},
		OnOpen: func() {
			logger.Info("connected")
		},
		OnClose: func(code int, reason string) {
			logger.Info("connection closed", "code", code, "reason", reason)
		},
		OnError: func(err error) {
			logger.Warn("session error", "error", err)
		},
		OnReconnecting: func(attempt, maxAttempts int, delay time.Duration) {
			fmt.Printf("[RECONNECTING] attempt %d of %d in %s\n", attempt, maxAttempts, delay)
		},
		OnMessage: printFrame,
	}
}

func printFrame(f protocol.Frame) {
	switch fr := f.(type) {
	case *protocol.ChunkFrame:
		fmt.Print(fr.Content)
		if fr.Done {
			fmt.Println()
		}
	case *protocol.MessageFrame:
		fmt.Printf("[MESSAGE] thread=%s role=%s id=%s\n", fr.ThreadID, fr.Role, fr.ID)
	case *protocol.NodeStatusFrame:
		fmt.Printf("[NODE] thread=%s node=%s status=%s\n", fr.ThreadID, fr.NodeName, fr.Status)
	case *protocol.JobStatusFrame:
		fmt.Printf("[JOB] thread=%s status=%s\n", fr.ThreadID, fr.Status)
	case *protocol.GenerationStoppedFrame:
		fmt.Printf("[STOPPED] thread=%s\n", fr.ThreadID)
	case *protocol.ErrorFrame:
		fmt.Printf("[ERROR] thread=%s code=%s message=%s\n", fr.ThreadID, fr.Code, fr.Message)
	}
}

func printTranscript(view stream.ThreadView) {
	fmt.Printf("--- thread %s (%s) ---\n", view.ID, view.Status)
	for _, m := range view.Messages {
		fmt.Printf("[%s/%s] %s\n", m.Role, m.State, m.Content.String())
	}
	if view.LastError != "" {
		fmt.Printf("last error: %s\n", view.LastError)
	}
}

func logStats(logger *slog.Logger, session *connection.Session, agg *stream.Aggregator, writer *store.TranscriptWriter) {
	ss := session.Stats()
	as := agg.Stats()
	attrs := []any{
		"state", ss.State,
		"sent", ss.Sent,
		"queued", ss.Queued,
		"frames_received", ss.FramesReceived,
		"reconnect_attempts", ss.ReconnectAttempts,
		"frames_processed", as.FramesProcessed,
		"messages_finalized", as.MessagesFinalized,
		"dropped_while_stopping", as.DroppedWhileStopping,
	}
	if writer != nil {
		ws := writer.Stats()
		attrs = append(attrs,
			"store_inserts", ws.Inserts,
			"store_conflicts", ws.Conflicts,
			"store_errors", ws.Errors,
		)
	}
	logger.Info("stats", attrs...)
}
