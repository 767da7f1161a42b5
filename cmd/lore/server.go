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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mattsre/lore/internal/api"
	"github.com/mattsre/lore/internal/chunker"
	"github.com/mattsre/lore/internal/config"
	"github.com/mattsre/lore/internal/convo"
	"github.com/mattsre/lore/internal/engine"
	"github.com/mattsre/lore/internal/feedback"
	"github.com/mattsre/lore/internal/index"
	"github.com/mattsre/lore/internal/pipeline"
	"github.com/mattsre/lore/internal/retrieval"
	"github.com/mattsre/lore/internal/storage"
	"github.com/mattsre/lore/internal/synthesis"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lore server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running lore server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lore system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "lore.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "lore version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.APIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Check if a server is already running before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("lore is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("lore is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check local inference engine readiness, pulling missing models.
	eng := engine.NewOllama(cfg.Ollama.BaseURL)
	models := []string{cfg.Ollama.FastModel, cfg.Ollama.AnswerModel, cfg.Ollama.EmbedModel}
	if err := engine.EnsureReady(ctx, eng, models, os.Stderr); err != nil {
		return err
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

	// Query path: embed, hybrid retrieval, follow-up resolution, synthesis.
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel, cfg.Ollama.EmbedDims)
	searchIndex := retrieval.NewSQLiteIndex(store.DB())
	retriever := retrieval.NewRetriever(embedder, searchIndex,
		retrieval.WithMinSimilarity(cfg.Retrieval.MinSimilarity))

	window, err := time.ParseDuration(cfg.Conversation.Window)
	if err != nil {
		slog.Warn("invalid conversation window, using default 30m", "value", cfg.Conversation.Window, "error", err)
		window = convo.DefaultWindow
	}
	convos := convo.NewManager(store, convo.WithWindow(window))
	resolver := convo.NewResolver(eng, cfg.Ollama.FastModel)
	synth := synthesis.NewSynthesizer(eng, cfg.Ollama.AnswerModel, synthesis.NewPromptBuilder(0))
	answerer := pipeline.NewAnswerer(convos, resolver, retriever, synth, cfg.Retrieval.TopK)

	aggregator := feedback.NewAggregator(store)
	writer := index.NewWriter(store.DB())

	// Ingest path: background worker draining the job queue.
	ch := chunker.New(
		chunker.WithBudget(cfg.Chunker.Budget),
		chunker.WithOverlap(cfg.Chunker.Overlap),
	)
	ingestor := pipeline.NewIngestor(store, ch, embedder, writer, 500*time.Millisecond)
	go ingestor.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:    store,
		Convos:   convos,
		Feedback: aggregator,
		Asker:    answerer,
		Index:    writer,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio so chat surfaces can use ask/ingest/react.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Asker:    answerer,
		Feedback: aggregator,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "lore listening on %s\n", addr)
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

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("lore is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop lore (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to lore (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Fast model", "%s", cfg.Ollama.FastModel)
	printStatus("Answer model", "%s", cfg.Ollama.AnswerModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if apiToken, tokenErr := config.APIToken(cfg.Storage.DataDir); tokenErr == nil && resp != nil && resp.StatusCode == 200 {
		docsResp, err := apiGet(client, serverURL+"/documents?limit=100", apiToken)
		if err == nil {
			var docs []json.RawMessage
			if json.NewDecoder(docsResp.Body).Decode(&docs) == nil {
				printStatus("Documents", "%s", countLabel(len(docs), 100))
			}
			docsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
