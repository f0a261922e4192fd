package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/karmayogi/saarthi/internal/api"
	"github.com/karmayogi/saarthi/internal/config"
	"github.com/karmayogi/saarthi/internal/dispatch"
	"github.com/karmayogi/saarthi/internal/feedback"
	"github.com/karmayogi/saarthi/internal/handler"
	"github.com/karmayogi/saarthi/internal/intent"
	"github.com/karmayogi/saarthi/internal/language"
	"github.com/karmayogi/saarthi/internal/resources"
	"github.com/karmayogi/saarthi/internal/session"
	"github.com/karmayogi/saarthi/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the saarthi server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running saarthi server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show saarthi system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "saarthi.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "saarthi version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("saarthi is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("saarthi is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := resources.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Conversation pipeline pieces.
	adapter := language.New(res.Translate, cfg.Translate.Canonical)
	classifier := intent.NewClassifier(res.Inference, cfg.Inference.Model, cfg.Inference.ConfidenceThreshold)

	registry := handler.NewRegistry(handler.NewGeneralSupport(res.KB, cfg.KB.TopK))
	for _, h := range []handler.Handler{
		handler.NewProfileInfo(res.Profile),
		handler.NewProfileUpdate(res.Profile),
		handler.NewCertificate(res.Profile, res.KB),
		handler.NewProgress(res.Profile),
		handler.NewTicket(res.Ticketing, res.Profile),
	} {
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("registering handlers: %w", err)
		}
	}

	sink := telemetry.NewSink(res.Store, 256)

	dispatcher := dispatch.New(dispatch.Options{
		Store:           res.Store,
		Language:        adapter,
		Classify:        classifier,
		Registry:        registry,
		Breakers:        dispatch.NewBreakers(cfg.Breaker.FailureThreshold, durationOr(cfg.Breaker.Cooldown, 30*time.Second)),
		Locker:          session.NewLocker(),
		Recorder:        sink,
		RequestTimeout:  durationOr(cfg.Server.RequestTimeout, 30*time.Second),
		LockWait:        durationOr(cfg.Server.LockWait, 2*time.Second),
		ContinuationTTL: durationOr(cfg.Session.ContinuationTTL, 10*time.Minute),
		MaxTurns:        cfg.Session.MaxTurns,
	})

	sweeper := session.NewSweeper(
		res.Store,
		time.Duration(cfg.Session.TTLHours)*time.Hour,
		time.Duration(cfg.Session.AnonymousTTLMinutes)*time.Minute,
		durationOr(cfg.Session.SweepInterval, 5*time.Minute),
	)

	apiHandler := api.NewHandler(api.Deps{
		Dispatcher:    dispatcher,
		Feedback:      feedback.NewService(res.Store),
		Health:        res,
		JWTSecret:     cfg.Auth.JWTSecret,
		MaxConcurrent: int64(cfg.Server.MaxConcurrent),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: apiHandler,
	}

	// MCP server on stdio for operator tooling.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:   res.Store,
		KB:      res.KB,
		Tickets: res.Ticketing,
		Chatter: res.Inference,
		Model:   cfg.Inference.Model,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "saarthi listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := sink.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("saarthi is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop saarthi (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to saarthi (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	health, err := client.health(context.Background())
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "%s on port %d", health.Status, cfg.Server.Port)
		for name, state := range health.Dependencies {
			printStatus("  "+name, "%s", state)
		}
		printStatus("In flight", "%d / %d", health.Pool.InFlight, health.Pool.Limit)
	}

	printStatus("Model", "%s", cfg.Inference.Model)
	printStatus("Canonical language", "%s", cfg.Translate.Canonical)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
