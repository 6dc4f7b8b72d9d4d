package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/termloom/internal/approval"
	"github.com/user/termloom/internal/backend"
	"github.com/user/termloom/internal/config"
	"github.com/user/termloom/internal/engine"
	"github.com/user/termloom/internal/notify"
	"github.com/user/termloom/internal/scheduler"
	"github.com/user/termloom/internal/server"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/store"
	"github.com/user/termloom/internal/tokens"
	"github.com/user/termloom/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the termloom daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "termloom.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// buildEngine assembles the engine with its store, approval service, and
// backend per the config. The returned cleanup closes the store.
func buildEngine(cfg *config.Config) (*engine.Engine, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	meterFactory := func() *tokens.Meter {
		m, err := tokens.NewMeter(cfg.Tokens.Model, cfg.Tokens.MaxContext)
		if err != nil {
			slog.Warn("token meter disabled", "model", cfg.Tokens.Model, "error", err)
			return nil
		}
		return m
	}
	registry := session.NewRegistry(meterFactory)

	recorder := approval.NewRecorder(cfg.DataDir)
	if err := recorder.SetConfig(cfg.Approvals); err != nil {
		slog.Warn("persist approval config failed", "error", err)
	}
	approvals := approval.NewService(recorder)

	var eng *engine.Engine
	switch cfg.Backend.Mode {
	case "http":
		be := backend.NewHTTPBackend(cfg.Backend.BaseURL)
		eng = engine.New(registry, approvals, be, db, int64(cfg.MaxConcurrent))
	default:
		// The local backend loops its events straight back into the engine.
		local := backend.NewLocal(func(ev *types.Event) { eng.Dispatch(ev) })
		local.RegisterExecutor(backend.NewShell())
		local.RegisterExecutor(backend.NewWebFetch())
		local.SetDirResolver(func(id types.SessionID) string {
			if st, ok := registry.Get(id); ok {
				return st.Session().WorkingDirectory
			}
			return ""
		})
		eng = engine.New(registry, approvals, local, db, int64(cfg.MaxConcurrent))
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			slog.Warn("close store failed", "error", err)
		}
	}
	return eng, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	eng, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start(ctx)
	defer eng.Stop()

	slog.Info("termloom started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"backend_mode", cfg.Backend.Mode,
		"pid_file", pidPath,
	)

	// Telegram nudges for unanswered approvals
	if cfg.Telegram.Token != "" {
		sender, err := notify.NewTelegramSender(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram sender: %w", err)
		}
		notifier := notify.New(eng.Registry(), eng.Approvals(), sender, notify.DefaultNudgeAfter)
		notifier.Start()
		defer notifier.Stop()
		slog.Info("telegram notifier started")
	} else {
		slog.Warn("telegram notifier disabled (no token)")
	}

	// Scheduled prompts
	promptStore := scheduler.NewPromptStore(filepath.Join(cfg.DataDir, "prompts.json"))
	sched := scheduler.New(promptStore, func(p *scheduler.Prompt) {
		mode := p.Mode
		if mode == "" {
			mode = types.ModeAgent
		}
		sess, err := eng.OpenSession(ctx, p.WorkingDirectory, mode)
		if err != nil {
			slog.Error("open session for scheduled prompt failed", "name", p.Name, "error", err)
			return
		}
		if err := eng.SubmitInput(ctx, sess.ID, p.Text); err != nil {
			slog.Error("scheduled prompt failed", "name", p.Name, "error", err)
		}
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started")

	// HTTP API
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.NewServer(eng),
	}
	go func() {
		slog.Info("http server started", "listen", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
