package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/courier/internal/api"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/doctor"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/metrics"
	"github.com/mattjoyce/courier/internal/storage"
	"github.com/mattjoyce/courier/internal/webhook"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitFail   = 1
	exitConfig = 2
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return exitFail
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "check", "doctor":
		return runConfigCheck(args)
	case "sign":
		if hasHelpFlag(args) {
			printSignHelp()
			return exitOK
		}
		return runSign(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return exitFail
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFail
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: courier version [--json]")
		return exitFail
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return exitFail
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("courier %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `courier - Signed webhook ingestion service

Usage:
  courier <noun> <action> [flags]

System Commands:
  system start      Start the HTTP service in the foreground

Config Commands:
  config check      Validate configuration and probe the database

Tools:
  sign              Compute the X-Hub-Signature-256 header for a body

General:
  start             Alias for 'system start'
  check             Alias for 'config check'
  version           Show version information
  help              Show this help message

Configuration comes from --config FILE (YAML), .env and the environment:
  WEBHOOK_SECRET    HMAC key for X-Hub-Signature-256 (required)
  DATABASE_URL      sqlite:///path.db or postgres://... (required)
  LISTEN_ADDR       default 0.0.0.0:8000
  LOG_LEVEL         DEBUG, INFO, WARN, ERROR (default INFO)

Exit codes: 0 ok, 1 failure, 2 configuration missing.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: courier system <action>")
		fmt.Fprintln(os.Stderr, "Actions: start")
		return exitFail
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: courier system <action>")
		fmt.Println("Actions: start")
		return exitOK
	}

	switch args[0] {
	case "start":
		return runStart(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return exitFail
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: courier config <action> [flags]")
		fmt.Fprintln(os.Stderr, "Actions: check")
		return exitFail
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: courier config <action> [flags]")
		fmt.Println("Actions: check")
		return exitOK
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return exitFail
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSignHelp() {
	fmt.Println("Usage: courier sign [--secret KEY] [--file PATH]")
	fmt.Println("Print the X-Hub-Signature-256 value for a request body read from --file or stdin.")
	fmt.Println("The key defaults to $WEBHOOK_SECRET.")
}

// --- ACTIONS ---

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	probe := fs.Bool("probe", false, "Also open and ping the database")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFail
	}

	cfg, err := config.Read(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return exitFail
	}

	d := doctor.New(cfg)
	result := d.Validate()
	if result.Valid && *probe {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Probe(ctx); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, doctor.Issue{Category: "database", Field: "database_url", Message: err.Error()})
		}
	}

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return exitFail
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return exitFail
	}
	return exitOK
}

func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("WEBHOOK_SECRET"), "HMAC key")
	file := fs.String("file", "", "Read the body from this file instead of stdin")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFail
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "No secret: pass --secret or set WEBHOOK_SECRET")
		return exitConfig
	}

	var body []byte
	var err error
	if *file != "" {
		body, err = os.ReadFile(*file)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		return exitFail
	}

	fmt.Println(webhook.Sign(body, []byte(*secret)))
	return exitOK
}

func runStart(args []string) int {
	if hasHelpFlag(args) {
		fmt.Println("Usage: courier system start [--config PATH]")
		fmt.Println("Start the HTTP service in the foreground.")
		return exitOK
	}

	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return exitFail
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		if errors.Is(err, config.ErrConfigurationMissing) {
			return exitConfig
		}
		return exitFail
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Error("failed to listen", "listen", cfg.Listen, "error", err)
		return exitFail
	}

	if err := serve(ctx, cfg, ln, logger); err != nil {
		logger.Error("courier failed", "error", err)
		return exitFail
	}
	logger.Info("courier stopped")
	return exitOK
}

// serve opens the store and runs the HTTP server on ln until ctx is done.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, logger *slog.Logger) error {
	target, err := storage.ParseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		_ = ln.Close()
		return err
	}
	logger.Info("courier starting",
		"version", version,
		"listen", ln.Addr().String(),
		"database", target.Driver,
		"config", cfg.SourceFile,
	)

	store, err := storage.Open(ctx, cfg.DatabaseURL, storage.Options{MaxConns: cfg.DatabaseMaxConns})
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}()
	logger.Info("database opened", "driver", target.Driver)

	registry := metrics.New(true)
	ingestor := webhook.NewIngestor(webhook.IngestorConfig{
		Secret:        cfg.Secret(),
		InsertTimeout: cfg.InsertTimeout,
	}, store, registry, log.WithComponent("webhook"))

	server := api.New(api.Config{
		Listen:          cfg.Listen,
		MaxBodySize:     cfg.MaxBodySize,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Version:         currentVersionInfo().Version,
	}, ingestor, store, registry, log.WithComponent("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("received shutdown signal")
		}
		return nil
	})
	return g.Wait()
}
