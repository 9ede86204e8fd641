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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/clawgate/internal/agent"
	"github.com/user/clawgate/internal/agent/tools"
	"github.com/user/clawgate/internal/config"
	"github.com/user/clawgate/internal/delivery"
	"github.com/user/clawgate/internal/gate"
	"github.com/user/clawgate/internal/gateway"
	"github.com/user/clawgate/internal/heartbeat"
	"github.com/user/clawgate/internal/hooks"
	"github.com/user/clawgate/internal/prompt"
	"github.com/user/clawgate/internal/session"
	"github.com/user/clawgate/internal/telegram"
	"github.com/user/clawgate/internal/types"
	"github.com/user/clawgate/pkg/llm"
	"github.com/user/clawgate/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clawgate daemon",
	RunE:  runServe,
}

func writePIDFile(stateDir string) (string, error) {
	pidPath := filepath.Join(stateDir, "clawgate.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// hookBackend adapts the coordinator and session manager to the webhook
// server's view of the pipeline.
type hookBackend struct {
	sessions *session.Manager
	coord    *gateway.Coordinator
}

func (b hookBackend) Wake(key types.SessionKey, surface, to, text string) {
	sess, _ := b.sessions.Resolve(key, surface, to)
	b.coord.Submit(sess, text)
}

func (b hookBackend) RunDirect(key types.SessionKey, surface, to, text string) (string, error) {
	sess, _ := b.sessions.Resolve(key, surface, to)
	return b.coord.RunPrompt(sess, text, "")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	warnings, err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	config.LogValidation(warnings)

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.StateDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Live config: readers hold the conf func, not a snapshot.
	manager := config.NewManager(cfgPath, cfg)
	if err := manager.Watch(ctx); err != nil {
		slog.Warn("config watch disabled", "error", err)
	}
	conf := manager.Current

	// Session store and table
	store, err := session.OpenStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	sessions := session.NewManager(store, cfg.Session)

	// LLM provider and prompt engine
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	engine, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create prompt engine: %w", err)
	}

	// Agent loop
	registry := agent.NewRegistry(
		tools.NewBash(2*time.Minute),
		tools.NewReadURL(),
	)
	if cfg.Brave.APIKey != "" {
		registry.Register(tools.NewWebSearch(cfg.Brave.APIKey))
	}
	memory := tools.NewMemoryFile(filepath.Join(cfg.StateDir, "memory.md"))
	for _, t := range memory.Tools() {
		registry.Register(t)
	}
	runner := agent.NewLoopRunner(provider, engine, registry, agent.LoopConfig{
		EnforceFinalTag: cfg.Reply.EnforceFinalTag,
	})

	// Delivery and run coordination
	dispatcher := delivery.NewDispatcher(nil)
	coord := gateway.NewCoordinator(runner, sessions, conf, dispatcher)
	coord.Start(ctx)
	defer coord.Stop()

	sessions.SetActiveProbe(coord.IsActive)
	sessions.StartSweeper(ctx)

	router := gateway.NewRouter(gate.New(), sessions, coord, conf, dispatcher)

	slog.Info("clawgate started",
		"state_dir", cfg.StateDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"llm_model", cfg.LLM.Model,
		"pid_file", pidPath,
	)

	// Telegram surface
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, router)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		dispatcher.Register(telegram.Surface, adapter.Handler())
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Webhook ingestor. If its listener dies the gateway counts as degraded
	// and heartbeats fail rather than run against a half-up process.
	var degraded atomic.Bool
	hookSrv := hooks.NewServer(conf, hookBackend{sessions: sessions, coord: coord})
	if cfg.Hooks.Enabled {
		httpServer := &http.Server{
			Addr:    cfg.Hooks.Listen,
			Handler: hookSrv,
		}
		go func() {
			slog.Info("hooks server started", "listen", cfg.Hooks.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("hooks server error", "error", err)
				degraded.Store(true)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	// Heartbeats, with deferred webhook wake-ups folded in
	hb := heartbeat.New(sessions, coord, dispatcher, conf)
	hb.SetDeferredSource(hookSrv.DrainDeferred)
	hb.SetDegradedProbe(degraded.Load)
	if err := hb.Start(); err != nil {
		return fmt.Errorf("start heartbeats: %w", err)
	}
	defer hb.Stop()

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
				if _, writeErr := writePIDFile(cfg.StateDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		cancel()
		coord.Stop()
		hb.Stop()
		if err := store.Close(); err != nil {
			return fmt.Errorf("%w: %v", errStoreFatal, err)
		}
		if sig == syscall.SIGINT {
			return errInterrupted
		}
		return nil
	}
}
