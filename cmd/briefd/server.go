package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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

	"github.com/kalambet/briefd/internal/api"
	"github.com/kalambet/briefd/internal/bundle"
	"github.com/kalambet/briefd/internal/channel"
	"github.com/kalambet/briefd/internal/config"
	"github.com/kalambet/briefd/internal/extract"
	"github.com/kalambet/briefd/internal/fetch"
	"github.com/kalambet/briefd/internal/ollama"
	"github.com/kalambet/briefd/internal/scheduler"
	"github.com/kalambet/briefd/internal/search"
	"github.com/kalambet/briefd/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the briefd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundlesFile, _ := cmd.Flags().GetString("bundles")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		skipModel, _ := cmd.Flags().GetBool("skip-model-check")
		return runServer(serverOptions{
			bundlesFile: bundlesFile,
			mcp:         withMCP,
			skipModel:   skipModel,
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running briefd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show briefd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().String("bundles", "", "YAML file of bundles to schedule at startup")
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	startCmd.Flags().Bool("skip-model-check", false, "do not check or pull the Ollama model at startup")
}

type serverOptions struct {
	bundlesFile string
	mcp         bool
	skipModel   bool
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "briefd.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(opts serverOptions) error {
	fmt.Fprintf(os.Stderr, "briefd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token set; the HTTP API accepts unauthenticated requests", "env", "BRIEFD_API_TOKEN")
	}

	// Refuse to start twice. The health endpoint is authoritative; the PID
	// file only adds detail to the message.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("briefd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("briefd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llm := ollama.New(cfg.Ollama.BaseURL)
	if !opts.skipModel {
		if err := ollama.EnsureReady(ctx, llm, cfg.Ollama.Model, os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	noise := extract.DefaultNoiseFilter()
	if cfg.Extract.NoiseFile != "" {
		noise, err = extract.LoadNoiseFile(cfg.Extract.NoiseFile)
		if err != nil {
			return fmt.Errorf("loading noise patterns: %w", err)
		}
		slog.Info("noise patterns loaded", "file", cfg.Extract.NoiseFile, "count", noise.Len())
	}
	extractor := extract.New(
		extract.WithMaxLength(cfg.Fetch.MaxContentLength),
		extract.WithNoiseFilter(noise),
	)
	fetcher := fetch.New(extractor, fetch.Config{
		Timeout:     cfg.Fetch.Timeout,
		Concurrency: cfg.Fetch.Concurrency,
	})
	searcher := search.New(cfg.Search.Endpoint, cfg.Search.MaxResults)

	telegram := channel.NewTelegram(channel.TelegramConfig{
		Endpoint: cfg.Telegram.APIEndpoint,
		BotToken: cfg.Telegram.BotToken,
		Delay:    cfg.Telegram.SendDelay,
	})
	tokens := channel.NewKakaoTokens(store, cfg.Kakao.AuthBase, cfg.Kakao.RESTAPIKey)
	kakao := channel.NewKakao(tokens, channel.KakaoConfig{
		APIBase: cfg.Kakao.APIBase,
		Delay:   cfg.Kakao.SendDelay,
	})

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	executor := bundle.NewExecutor(bundle.Deps{
		Fetcher:  fetcher,
		Searcher: searcher,
		LLM:      llm,
		Telegram: telegram,
		Kakao:    kakao,
	}, bundle.Config{
		Model:       cfg.Ollama.Model,
		NumPredict:  cfg.Ollama.NumPredict,
		Temperature: &cfg.Ollama.Temperature,
		Timeout:     cfg.Ollama.Timeout,
		Location:    loc,
	})

	sched := scheduler.New(scheduler.NewRegistry(), executor, scheduler.Options{
		Tick:     cfg.Scheduler.Tick,
		Location: loc,
	})
	defer sched.Close()

	if opts.bundlesFile != "" {
		n, err := scheduleFile(sched, opts.bundlesFile)
		if err != nil {
			return err
		}
		slog.Info("bundles file loaded", "file", opts.bundlesFile, "scheduled", n)
	}

	deps := api.Deps{
		Executor:           executor,
		Scheduler:          sched,
		Runs:               bundle.NewRuns(),
		Telegram:           telegram,
		Kakao:              kakao,
		Tokens:             tokens,
		TelegramConfigured: cfg.Telegram.BotToken != "",
		KakaoConfigured:    cfg.Kakao.RESTAPIKey != "",
		Token:              cfg.Server.APIToken,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if opts.mcp {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "briefd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// scheduleFile starts every bundle in a bundles file and returns how many
// were scheduled before the first failure.
func scheduleFile(s *scheduler.Scheduler, path string) (int, error) {
	defs, err := bundle.LoadFile(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range defs {
		policy, err := scheduler.PolicyFor(d.Schedule)
		if err != nil {
			return n, fmt.Errorf("bundle %s: %w", d.ID, err)
		}
		if err := s.Start(d.ID, scheduler.TaskConfig{Request: d.Request, Policy: policy}); err != nil {
			return n, fmt.Errorf("bundle %s: %w", d.ID, err)
		}
		n++
	}
	return n, nil
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
		printError("briefd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop briefd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to briefd (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if oc := ollama.New(cfg.Ollama.BaseURL); oc.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", oc.BaseURL())
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Model", "%s", cfg.Ollama.Model)
	printStatus("Telegram", "%s", configuredLabel(cfg.Telegram.BotToken != ""))
	printStatus("Kakao", "%s", configuredLabel(cfg.Kakao.RESTAPIKey != ""))

	if running {
		c := clientFor(cfg)
		if statuses, err := listSchedules(ctx, c); err == nil {
			printStatus("Schedules", "%d", len(statuses))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func configuredLabel(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
