// Package main is the Kotae CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/catalog"
	"github.com/chatstack/kotae/internal/chat"
	"github.com/chatstack/kotae/internal/cli"
	"github.com/chatstack/kotae/internal/config"
	"github.com/chatstack/kotae/internal/embedding"
	"github.com/chatstack/kotae/internal/flow"
	"github.com/chatstack/kotae/internal/knowledge"
	"github.com/chatstack/kotae/internal/llm"
	"github.com/chatstack/kotae/internal/models"
	"github.com/chatstack/kotae/internal/reply"
	"github.com/chatstack/kotae/internal/resolver"
	"github.com/chatstack/kotae/internal/server"
	"github.com/chatstack/kotae/internal/session"
	"github.com/chatstack/kotae/internal/tools"
	"github.com/chatstack/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists it
// is used, so that "kotae server" from the project dir uses the project's
// config (including debug). Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// A .env in the working directory supplies API keys during development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "chat":
		runChat()
	case "resolve":
		runResolve()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Resolver.WatchIntents {
		if err := components.Catalog.Watch(watchCtx); err != nil {
			logger.Warn("intent catalog watch failed", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Chat,
		components.Resolver,
		components.Interrupts,
		components.Knowledge,
		components.Catalog,
		components.Replies,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// runChat is an interactive conversation against a running server.
func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	sessionID := fs.String("session", "", "session id (default: new session)")
	userID := fs.String("user", "", "user id")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *sessionID == "" {
		*sessionID = uuid.New().String()
	}

	// One-shot when a message is given as arguments, interactive otherwise.
	if fs.NArg() > 0 {
		message := strings.TrimSpace(strings.Join(fs.Args(), " "))
		resp, err := chatViaHTTP(*serverURL, *sessionID, *userID, message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Chat failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteChatResponse(os.Stdout, resp, format)
		return
	}

	fmt.Printf("session %s (empty line to quit)\n", *sessionID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			break
		}
		resp, err := chatViaHTTP(*serverURL, *sessionID, *userID, message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Chat failed: %v\n", err)
			continue
		}
		_ = cli.WriteChatResponse(os.Stdout, resp, format)
	}
}

func chatViaHTTP(serverURL, sessionID, userID, message string) (*models.ChatResponse, error) {
	body, err := json.Marshal(models.ChatRequest{
		SessionID: sessionID,
		UserID:    userID,
		Message:   message,
	})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runResolve() {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae resolve [flags] <message>")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	message := strings.TrimSpace(strings.Join(fs.Args(), " "))

	body, _ := json.Marshal(models.ResolveRequest{Message: message})
	resp, err := http.Post(*serverURL+"/api/v1/intent/resolve", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resolve failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Resolve failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var result models.ResolutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteResolution(os.Stdout, &result, format)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status struct {
		Intents        int   `json:"intents"`
		KnowledgeCount int   `json:"knowledge_count"`
		DiskUsageBytes int64 `json:"disk_usage_bytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("intents:           %d   # enabled intent definitions\n", status.Intents)
	fmt.Printf("knowledge_count:   %d   # records in the knowledge store\n", status.KnowledgeCount)
	fmt.Printf("disk_usage_bytes:  %d   # session db + knowledge index on disk\n", status.DiskUsageBytes)
}

// Components holds initialized services.
type Components struct {
	Embedder   embedding.Embedder
	Catalog    *catalog.Catalog
	Knowledge  *knowledge.Store
	Sessions   *session.Store
	Resolver   *resolver.Resolver
	Interrupts *resolver.InterruptDetector
	Replies    *reply.Generator
	Chat       *chat.Service
}

func (c *Components) Close() {
	if c.Sessions != nil {
		_ = c.Sessions.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	ctx := context.Background()

	var embedder embedding.Embedder
	remote, err := embedding.NewOpenAIEmbedder(embedding.Config{
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout(),
	})
	if err != nil {
		// Without credentials the catalog still works on mock vectors;
		// resolution quality then rests on the remote and rule stages.
		logger.Warn("embedding service not configured, using mock embedder", zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = embedding.NewCachedEmbedder(remote, cfg.Embedding.CacheSize)
	}

	cat := catalog.New(embedder, cfg.Storage.IntentsPath, cfg.Storage.IntentIndexPath, logger)
	if err := cat.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize intent catalog: %w", err)
	}

	store, err := knowledge.Open(ctx, embedder,
		cfg.Storage.KnowledgeIndexPath, cfg.Storage.KnowledgeMetadataPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}

	sessions, err := session.Open(cfg.Storage.SessionDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	var completer *llm.Client
	client, err := llm.NewClient(llm.Config{
		APIKey:      os.Getenv("LLM_API_KEY"),
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(),
	})
	if err != nil {
		logger.Warn("chat completion service not configured, replies fall back to canned text", zap.Error(err))
	} else {
		completer = client
	}

	registry := tools.NewRegistry(nil, nil, nil)

	res := newResolver(cat, completer, cfg, logger)
	interrupts := newInterruptDetector(completer, logger)
	flows := flow.NewEngine(registry, logger)
	replies := newGenerator(completer, store, registry, cfg, logger)
	chatSvc := chat.New(sessions, res, interrupts, flows, replies, registry, cat, logger)

	return &Components{
		Embedder:   embedder,
		Catalog:    cat,
		Knowledge:  store,
		Sessions:   sessions,
		Resolver:   res,
		Interrupts: interrupts,
		Replies:    replies,
		Chat:       chatSvc,
	}, nil
}

// newResolver keeps the nil-interface plumbing in one place: a typed nil
// *llm.Client must become a nil interface so the remote stage is skipped.
func newResolver(cat *catalog.Catalog, completer *llm.Client, cfg *config.Config, logger *zap.Logger) *resolver.Resolver {
	var remote resolver.ChatCompleter
	if completer != nil {
		remote = completer
	}
	return resolver.New(cat, remote, resolver.Config{
		Threshold:     cfg.Resolver.Threshold,
		HistoryWindow: cfg.Resolver.HistoryWindow,
	}, logger)
}

func newInterruptDetector(completer *llm.Client, logger *zap.Logger) *resolver.InterruptDetector {
	var remote resolver.ChatCompleter
	if completer != nil {
		remote = completer
	}
	return resolver.NewInterruptDetector(remote, logger)
}

func newGenerator(completer *llm.Client, store *knowledge.Store, registry *tools.Registry, cfg *config.Config, logger *zap.Logger) *reply.Generator {
	var gen reply.Completer
	if completer != nil {
		gen = completer
	}
	return reply.New(gen, store, registry, reply.Config{
		HistoryWindow: cfg.Resolver.HistoryWindow,
	}, logger)
}

func printUsage() {
	fmt.Println(`kotae - conversational customer-service agent

Usage:
  kotae server [flags]            Start the HTTP server
  kotae chat [flags] [message]    Chat against a running server (interactive without a message)
  kotae resolve [flags] <message> Resolve the intent of a message
  kotae status [flags]            Show catalog and knowledge store status
  kotae version                   Show version
  kotae help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml)
  --debug            Enable debug logging

Chat Flags:
  --server string    Server URL (default: http://localhost:8080)
  --session string   Session id to continue (default: new session)
  --user string      User id
  --output string    Output format: text or json (default: text)

Resolve Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Environment:
  LLM_API_KEY          API key for the chat-completion service
  EMBEDDING_API_KEY    API key for the embedding service
  (a .env file in the working directory is loaded if present)

Examples:
  kotae server
  kotae chat 我要退货
  kotae chat --session 9f2c 我的订单号是 12345
  kotae resolve "怎么申请退款"
  kotae status`)
}
