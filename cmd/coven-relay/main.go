// ABOUTME: Entry point for coven-relay
// ABOUTME: Relays Matrix prompts to OpenAI chat completions and image generation

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/generation"
	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/matrix"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/notify"
	"github.com/2389/coven-relay/internal/prompt"
	"github.com/2389/coven-relay/internal/relay"
	"github.com/2389/coven-relay/internal/usage"
)

const banner = `
                                                   _
  ___ _____   _____ _ __        _ __ ___| | __ _ _   _
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \ |/ _' | | | |
| (_| (_) \ V /  __/ | | |_____| | |  __/ | (_| | |_| |
 \___\___/ \_/ \___|_| |_|     |_|  \___|_|\__,_|\__, |
                                                 |___/
`

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		if configPath == "" {
			return fmt.Errorf("loading config from environment: %w", err)
		}
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	printSummary(cfg, configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var m *metrics.Metrics
	opsErr := make(chan error, 1)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv := metrics.NewServer(cfg.Metrics.Addr, m, logger)
		go func() { opsErr <- srv.Run(ctx) }()
	}

	var ledger *usage.Ledger
	if cfg.Usage.DBPath != "" {
		ledger, err = usage.Open(cfg.Usage.DBPath, logger)
		if err != nil {
			return fmt.Errorf("opening usage ledger: %w", err)
		}
		defer ledger.Close()
	}

	bridge, err := matrix.NewBridge(matrix.Options{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Matrix.UserID,
		AccessToken:  cfg.Matrix.AccessToken,
		DisplayName:  cfg.Matrix.DisplayName,
		AllowedRooms: cfg.Matrix.AllowedRooms,
		Metrics:      m,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.Encryption {
		cryptoMgr, err := bridge.EnableEncryption(ctx, cfg.Matrix.RecoveryKey, getDataPath())
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled")
	}

	dispatcher := generation.New(generation.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Timeout: cfg.OpenAI.Timeout,
	}, logger)

	opts := relay.Options{
		Model:      cfg.GPT.Model,
		ImageModel: cfg.GPT.ImageModel,
		ImageSize:  cfg.GPT.ImageSize,
		TempDir:    cfg.Relay.TempDir,
		History:    history.NewStore(cfg.History.Size),
		Assembler:  prompt.NewAssembler(cfg.GPT.SystemDesc, cfg.History.Expiry()),
		Gate:       notify.NewGate(cfg.History.Expiry(), nil),
		Metrics:    m,
		Logger:     logger,
	}
	if ledger != nil {
		opts.Usage = ledger
	}
	r := relay.New(bridge, dispatcher, opts)

	startedAt := time.Now()
	bridgeErr := make(chan error, 1)
	go func() { bridgeErr <- bridge.Run(ctx, r) }()

	err = awaitShutdown(cancel, bridgeErr, opsErr)

	logStopped(logger, ledger, startedAt)
	return err
}

// awaitShutdown waits for the bridge to stop. If the ops server stops first the
// bridge is cancelled and its error is kept when the ops server had none.
func awaitShutdown(cancel context.CancelFunc, bridgeErr, opsErr <-chan error) error {
	select {
	case err := <-bridgeErr:
		return err
	case err := <-opsErr:
		cancel()
		if bErr := <-bridgeErr; err == nil {
			err = bErr
		}
		return err
	}
}

// logStopped reports shutdown with the session's usage totals when known.
func logStopped(logger *slog.Logger, ledger *usage.Ledger, since time.Time) {
	if ledger == nil {
		logger.Info("relay stopped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	totals, err := ledger.Totals(ctx, since)
	if err != nil {
		logger.Warn("could not read usage totals", "error", err)
		logger.Info("relay stopped")
		return
	}
	logger.Info("relay stopped",
		"requests", totals.Requests,
		"rejected", totals.Rejected,
		"prompt_tokens", totals.PromptTokens,
		"completion_tokens", totals.CompletionTokens,
	)
}

func printSummary(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-12s%s\n", label+":", value)
	}

	if configPath != "" {
		line("Config", configPath)
	} else {
		line("Config", "environment")
	}
	line("Homeserver", cfg.Matrix.Homeserver)
	line("User", cfg.Matrix.UserID)
	line("Model", cfg.GPT.Model)
	line("Images", cfg.GPT.ImageModel+" "+cfg.GPT.ImageSize)
	line("History", fmt.Sprintf("%d exchanges, %ds", cfg.History.Size, cfg.History.ExpiresIn))
	if cfg.Matrix.Encryption {
		line("Encryption", "enabled")
	}
	if cfg.Metrics.Enabled {
		line("Metrics", "http://"+cfg.Metrics.Addr+"/metrics")
	}
	if cfg.Usage.DBPath != "" {
		line("Usage", cfg.Usage.DBPath)
	}
	fmt.Println()
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// initConfigPath is where init writes: COVEN_RELAY_CONFIG or the XDG default.
func initConfigPath() string {
	if p := os.Getenv("COVEN_RELAY_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "relay.toml")
}

func runInit(in io.Reader, out io.Writer) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	fmt.Fprintln(out, "    Interactive Setup")
	fmt.Fprintln(out, "    -----------------")
	fmt.Fprintln(out)

	configPath := initConfigPath()
	reader := bufio.NewReader(in)

	ask := func(question, fallback string) string {
		green.Fprint(out, "    ▶ ")
		fmt.Fprint(out, question)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return fallback
		}
		return answer
	}

	if _, err := os.Stat(configPath); err == nil {
		yellow.Fprintf(out, "    Config already exists at %s\n", configPath)
		fmt.Fprint(out, "    Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(out, "    Aborted.")
			return nil
		}
		fmt.Fprintln(out)
	}

	homeserver := ask("Matrix homeserver URL [https://matrix.org]: ", "https://matrix.org")
	userID := ask("Bot user ID (e.g. @gpt:matrix.org): ", "")
	encryption := ask("Enable end-to-end encryption? [y/N]: ", "n")
	model := ask("Chat model ["+config.DefaultModel+"]: ", config.DefaultModel)
	imageModel := ask("Image model ["+config.DefaultImageModel+"]: ", config.DefaultImageModel)

	cfgText := renderInitConfig(homeserver, userID, strings.EqualFold(encryption, "y"), model, imageModel)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(cfgText), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintln(out)
	green.Fprintf(out, "    ✓ Config written to %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "    Next steps:")
	fmt.Fprintln(out, "    1. Export MATRIX_ACCESS_TOKEN and OPENAI_API_KEY (or put them in .env)")
	fmt.Fprintln(out, "    2. Run: coven-relay")
	fmt.Fprintln(out)

	return nil
}

// renderInitConfig produces the starter TOML written by init. Secrets are
// referenced through the environment rather than stored in the file.
func renderInitConfig(homeserver, userID string, encryption bool, model, imageModel string) string {
	return fmt.Sprintf(`# coven-relay configuration
# Generated by coven-relay init

[matrix]
homeserver = %q
user_id = %q
access_token = "${MATRIX_ACCESS_TOKEN}"
encryption = %t
# recovery_key = "${MATRIX_RECOVERY_KEY}"
# Only respond in these rooms (empty = all joined rooms)
allowed_rooms = []

[openai]
api_key = "${OPENAI_API_KEY}"

[gpt]
model = %q
image_model = %q
image_size = %q
# Set to "none" to send no system message
system_desc = %q

[history]
expires_in = %d
size = %d

[metrics]
enabled = false
addr = %q

[logging]
level = "info"
format = "text"
`, homeserver, userID, encryption, model, imageModel, config.DefaultImageSize,
		config.DefaultSystemDesc, config.DefaultExpiresIn, config.DefaultHistorySize, config.DefaultMetricsAddr)
}
