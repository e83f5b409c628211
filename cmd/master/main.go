package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-hub/hub"
	"chat-hub/infrastructure/storage"
	"chat-hub/infrastructure/ws"
	"chat-hub/internal"
	"chat-hub/moderation"
	"chat-hub/observability"
	"chat-hub/runtime/workers"
	"chat-hub/services"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Master terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern ensures all 'defer' statements (like database cleanup) execute before the
// program exits, and keeps the initialization logic testable.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeCfg := bluge.DefaultConfig(config.BlugeFilepath)
	blugeWriter, err := bluge.OpenWriter(blugeCfg)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Repositories & Hub
	messageRepository, err := storage.NewMessageRepository(db, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = messageRepository.Close() }()

	groupRepository := storage.NewGroupRepository(db, logger)
	userRepository := storage.NewUserRepository(db, blugeWriter, logger, config.SearchLimit)

	monitoring := observability.NewManager(logger)
	messageHub := hub.New(logger, messageRepository, groupRepository, userRepository, monitoring)

	if logger.Enabled(ctx, slog.LevelDebug) && config.DebugPort > 0 {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		internal.StartDebugServer(db, config.DebugPort, endpoint, HubMapper, func() map[string]any {
			stats := monitoring.Snapshot()
			return map[string]any{
				"sessions":  stats.Sessions,
				"delivered": stats.Delivered,
				"queued":    stats.Queued,
				"drained":   stats.Drained,
				"skipped":   stats.Skipped,
			}
		})
	}

	// 4. Moderation
	censored, err := moderation.LoadDefault()
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to load censored words: %w", err)
	}
	logger.Info("Censored words loaded",
		"words", len(censored.Words), "languages", strings.Join(censored.Languages, ","))

	moderator, err := moderation.NewModerator(censored.Words, charReplacement)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to build moderator: %w", err)
	}

	// 5. Services & Transport
	chatService := services.NewChatService(logger, messageHub, userRepository, moderator, config.AuthTokenDuration)
	groupService := services.NewGroupService(logger, groupRepository, userRepository)
	server := ws.NewServer(logger, chatService, groupService, config.ConnectionBufferSize, config.DeliveryTimeout)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 6. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	// 7. Supervision (heartbeat worker)
	sup := workers.NewSupervisor(logger)
	sup.Add(workers.NewHeartbeatWorker(logger, monitoring, config.HeartbeatInterval))
	go sup.Run(ctx)

	go func() {
		logger.Info("Starting websocket server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	// Execution blocks here until either a signal is received or the server crashes.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 9. Final Cleanup (Graceful Shutdown)
	// Active streams get a bounded window to flush before we pull the plug.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sup.Stop()
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

// HubMapper renders the hub's key layout in the debug inspector:
// message bodies for "msg:", delivery statuses for "dlv:" and the
// target message id for "queue:" entries.
func HubMapper(key string, val []byte) internal.InspectRow {
	row := internal.DefaultMapper(key, val)

	switch {
	case strings.HasPrefix(key, "msg:"):
		var m struct {
			SenderID string `json:"sender_id"`
			Body     string `json:"body"`
		}
		if err := json.Unmarshal(val, &m); err != nil {
			row.Detail = "Error: unmarshal failed"
			return row
		}
		row.Type = "MESSAGE"
		row.Detail = fmt.Sprintf("%s: %s", m.SenderID, m.Body)

	case strings.HasPrefix(key, "dlv:"):
		var d struct {
			RecipientID string `json:"recipient_id"`
			Status      string `json:"status"`
		}
		if err := json.Unmarshal(val, &d); err != nil {
			row.Detail = "Error: unmarshal failed"
			return row
		}
		row.Type = "DELIVERY"
		row.Detail = fmt.Sprintf("%s -> %s", d.RecipientID, d.Status)

	case strings.HasPrefix(key, "queue:"):
		row.Type = "QUEUE"
		row.Detail = string(val)
	}

	return row
}
