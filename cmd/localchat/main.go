package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"localchat/internal/adapter/history"
	"localchat/internal/adapter/llm"
	"localchat/internal/adapter/tui/chat"
	"localchat/internal/infra/config"
	"localchat/internal/infra/logger"
	"localchat/internal/infra/tracer"
	"localchat/internal/usecase"
	"localchat/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "doctor":
			if err := runDoctor(); err != nil {
				fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`localchat - Terminal chat for local OpenAI-compatible inference servers

USAGE:
    localchat [COMMAND] [FLAGS]

COMMANDS:
    doctor      Check the inference server is reachable and has models

    (no command) - Start the chat UI

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --base-url URL     Inference server base URL (default: http://127.0.0.1:1234)
    --model NAME       Preferred model id

CONFIGURATION:
    Config file: ./config.yaml (all fields optional)
    Environment: LOCALCHAT_* variables override config

EXAMPLES:
    localchat                                  # Chat against http://127.0.0.1:1234
    localchat --base-url http://127.0.0.1:8080 # Point at another server
    localchat doctor                           # Health check`)
}

// cliFlags are the optional flags that override the config file.
type cliFlags struct {
	Config  string
	BaseURL string
	Model   string
}

func parseFlags() cliFlags {
	var flags cliFlags
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			flags.Config = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--config="):
			flags.Config = strings.TrimPrefix(os.Args[i], "--config=")
		case os.Args[i] == "--base-url" && i+1 < len(os.Args):
			flags.BaseURL = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--base-url="):
			flags.BaseURL = strings.TrimPrefix(os.Args[i], "--base-url=")
		case os.Args[i] == "--model" && i+1 < len(os.Args):
			flags.Model = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--model="):
			flags.Model = strings.TrimPrefix(os.Args[i], "--model=")
		}
	}
	return flags
}

func loadConfig() (*config.Config, error) {
	flags := parseFlags()

	cfgPath := flags.Config
	if cfgPath == "" {
		cfgPath = os.Getenv("LOCALCHAT_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if flags.BaseURL != "" {
		cfg.Server.BaseURL = flags.BaseURL
	}
	if flags.Model != "" {
		cfg.Generation.Model = flags.Model
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	settings := config.NewSettings(cfg)

	client := llm.NewClient(cfg.Server.BaseURL, log)
	breaker := llm.NewCircuitBreakerClient(client, log)
	catalog := llm.NewCatalog(cfg.Server.BaseURL, cfg.Generation.Model, nil)

	store, err := history.NewStore(cfg.History.Path, log)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer store.Close()

	bus := eventbus.New(log)
	defer bus.Close()

	titles := usecase.NewTitleGenerator(breaker, store, settings, bus, log)
	generator := usecase.NewGenerator(breaker, catalog, store, settings, bus, titles, log)

	modelName := cfg.Generation.Model
	if info, err := catalog.SelectedModel(ctx); err == nil {
		modelName = info.ID
	}

	log.Info("localchat starting",
		"base_url", cfg.Server.BaseURL,
		"model", modelName,
		"history", cfg.History.Path,
	)

	return chat.Run(ctx, chat.ModelDeps{
		Store:     store,
		Generator: generator,
		ModelName: modelName,
		Logger:    log,
	}, bus)
}

func runDoctor() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	catalog := llm.NewCatalog(cfg.Server.BaseURL, cfg.Generation.Model, nil)
	info, err := catalog.SelectedModel(ctx)
	if err != nil {
		fmt.Printf("✗ %s: %v\n", cfg.Server.BaseURL, err)
		return err
	}

	fmt.Printf("✓ server reachable at %s\n", cfg.Server.BaseURL)
	fmt.Printf("✓ selected model: %s", info.ID)
	if info.Vision {
		fmt.Print(" (vision)")
	}
	fmt.Println()
	return nil
}
