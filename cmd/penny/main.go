// Penny is a financial-assistant chat service.
//
// It serves a JSON HTTP API in front of a hosted conversational
// assistant, answering the assistant's tool calls (quotes, exchange
// rates, loan payments) locally and personalizing each turn from the
// user's stored profile and portfolio. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	penny serve              Start the API server
//	penny init [dir]         Write an example config and .env
//	penny ask <question>     Run one chat turn and print the reply
//	penny tools list         Show tools registered on the remote assistant
//	penny tools sync         Replace the remote assistant's tools with ours
//	penny version            Print version and build information
//	penny -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nugget/penny/internal/buildinfo"
	"github.com/nugget/penny/internal/chat"
	"github.com/nugget/penny/internal/config"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand so run can
// be driven from tests without touching flag.CommandLine.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var userID string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-user" && i+1 < len(args):
			userID = args[i+1]
			i++
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: penny [-user id] ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, userID, strings.Join(cmdArgs, " "))
	case "tools":
		if len(cmdArgs) == 0 || (cmdArgs[0] != "list" && cmdArgs[0] != "sync") {
			return fmt.Errorf("usage: penny tools list|sync")
		}
		return runTools(ctx, stdout, stderr, configPath, cmdArgs[0], outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Penny - financial assistant chat service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: penny [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Start the API server")
	fmt.Fprintln(w, "  init [dir]       Write an example config.yaml and .env (default: .)")
	fmt.Fprintln(w, "  ask <question>   Run one chat turn and print the reply")
	fmt.Fprintln(w, "  tools list|sync  Inspect or replace the remote assistant's tools")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -user <id>        User id for ask (default: a new guest)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe loads config, wires every component, and serves HTTP until
// SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Penny", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"database", cfg.Database.Path,
		"driver", cfg.Database.Driver,
		"plain", cfg.Chat.Plain,
		"smtp", cfg.SMTP.Configured(),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := a.server(cfg, reg)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("Penny stopped")
	return nil
}

// runAsk runs a single chat turn through the full orchestrator and
// prints the reply.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, userID, question string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.chat.Turn(ctx, chat.Request{UserID: userID, Prompt: question})
	if err != nil {
		var ce *chat.Error
		if errors.As(err, &ce) {
			return fmt.Errorf("ask: %s", ce.Message)
		}
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, reply.Content)
	fmt.Fprintf(stderr, "user=%s thread=%s\n", reply.UserID, reply.ThreadID)
	return nil
}

// runTools lists or replaces the tool definitions registered on the
// remote assistant.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, action, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	client := newAssistantClient(cfg, logger)

	if action == "sync" {
		n, err := client.SyncTools(ctx, newToolRegistry(cfg, logger, nil).Definitions())
		if err != nil {
			return fmt.Errorf("sync tools: %w", err)
		}
		fmt.Fprintf(stdout, "Synced %d tools to assistant %s\n", n, client.AssistantID())
		return nil
	}

	remote, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(remote)
	}
	if len(remote) == 0 {
		fmt.Fprintln(stdout, "No tools registered.")
		return nil
	}
	for _, t := range remote {
		fmt.Fprintf(stdout, "  %-24s %-10s %s\n", t.Name, t.Type, t.Description)
	}
	return nil
}

func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		// Validated by config.Load.
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return config.NewLogger(w, level, cfg.LogFormat)
}
