package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/leonardotrapani/callscribe/internal/archive"
	"github.com/leonardotrapani/callscribe/internal/bus"
	"github.com/leonardotrapani/callscribe/internal/config"
	"github.com/leonardotrapani/callscribe/internal/console"
	"github.com/leonardotrapani/callscribe/internal/daemon"
	"github.com/leonardotrapani/callscribe/internal/deps"
	"github.com/leonardotrapani/callscribe/internal/server"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "callscribe",
	Short:         "Live two-channel call transcription for customer service desks",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(
		serveCmd(),
		statusCmd(),
		flushCmd(),
		versionCmd(),
		stopCmd(),
		configCmd(),
		historyCmd(),
		doctorCmd(),
	)
}

func newLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "callscribe",
	})
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Capture both channels and run the transcription pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(os.Stderr)

			var err error
			if envFile != "" {
				err = config.LoadEnvFile(envFile)
			} else {
				err = config.LoadEnv()
			}
			if err != nil {
				return fmt.Errorf("failed to load environment: %w", err)
			}

			manager, err := config.NewManager(configPath, logger)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			d, err := daemon.New(daemon.Options{
				Manager: manager,
				Logger:  logger,
				Version: version,
				Stdout:  cmd.OutOrStdout(),
			})
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}
			return d.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (default: user config dir)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load environment variables from this file instead of .env")

	return cmd
}

func sendCommand(c byte) (string, error) {
	sp, err := bus.SockPath()
	if err != nil {
		return "", err
	}
	resp, err := bus.SendCommand(sp, c)
	if err != nil {
		return "", fmt.Errorf("daemon not reachable: %w", err)
	}
	return resp, nil
}

func statusCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline and dispatch statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendCommand(bus.CmdStatus)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			return printStatus(cmd.OutOrStdout(), resp, raw)
		},
	}

	cmd.Flags().BoolVar(&raw, "json", false, "Print the raw JSON status")

	return cmd
}

func printStatus(w io.Writer, resp string, raw bool) error {
	_, payload, err := bus.Reply(resp)
	if err != nil {
		return err
	}
	if raw {
		fmt.Fprintln(w, payload)
		return nil
	}

	var status server.StatusResponse
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	console.NewPrinter(w).Status(status.Pipeline, status.Dispatch)
	return nil
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send buffered transcript lines now, regardless of the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendCommand(bus.CmdFlush)
			if err != nil {
				return fmt.Errorf("failed to flush: %w", err)
			}
			if _, _, err := bus.Reply(resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and daemon versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "callscribe %s (proto %s)\n", version, bus.ProtoVer)
			resp, err := sendCommand(bus.CmdVersion)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "daemon: not running")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon: %s\n", resp)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon, finishing both transcription sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendCommand(bus.CmdQuit)
			if err != nil {
				return fmt.Errorf("failed to stop daemon: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	var (
		configPath string
		write      bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration or write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				p, err := config.GetConfigPath()
				if err != nil {
					return err
				}
				configPath = p
			}
			return runConfig(cmd.OutOrStdout(), configPath, write)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (default: user config dir)")
	cmd.Flags().BoolVar(&write, "write", false, "Write the default configuration if the file does not exist")

	return cmd
}

func runConfig(w io.Writer, path string, write bool) error {
	if write {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(w, "Default configuration written to %s\n", path)
		fmt.Fprintln(w, "Set providers.deepgram.api_key or DEEPGRAM_API_KEY, then run: callscribe serve")
		return nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Fprintf(w, "# %s\n", path)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "# invalid: %v\n", err)
	}
	return cfg.Redacted().Encode(w)
}

func historyCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently dispatched batches from the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				p, err := config.GetConfigPath()
				if err != nil {
					return err
				}
				configPath = p
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Archive.Path == "" {
				return fmt.Errorf("archive disabled: set archive.path in %s", filepath.Base(configPath))
			}
			return runHistory(cmd.Context(), cmd.OutOrStdout(), cfg.Archive.Path, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (default: user config dir)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of batches to show")

	return cmd
}

func runHistory(ctx context.Context, w io.Writer, path string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := archive.Open(path, log.New(io.Discard))
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No batches archived yet.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s  %-9s %d lines (%s) %dms\n", r.CreatedAt.Format(time.DateTime), r.Status, r.Lines, r.Reason, r.DurationMs)
		fmt.Fprintln(w, r.Text)
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		case r.Response != "":
			fmt.Fprintf(w, "  response: %s\n", r.Response)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func doctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runDoctor(cmd.OutOrStdout(), deps.NewChecker(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (default: user config dir)")

	return cmd
}

func runDoctor(w io.Writer, checker *deps.Checker, cfg *config.Config) error {
	desktop := cfg.NotifierType() == "desktop"
	for _, tool := range deps.Tools(desktop) {
		status := checker.Check(tool)
		switch {
		case status.Installed:
			fmt.Fprintf(w, "ok       %-12s %s %s\n", tool.Name, status.Path, status.Version)
		case tool.Required:
			fmt.Fprintf(w, "missing  %-12s needed for %s\n", tool.Name, tool.Purpose)
		default:
			fmt.Fprintf(w, "optional %-12s needed for %s\n", tool.Name, tool.Purpose)
		}
	}

	var problems []string
	if missing := checker.Missing(deps.Tools(desktop)); len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("%d required tool(s) missing", len(missing)))
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "config   %v\n", err)
		problems = append(problems, "configuration invalid")
	} else {
		fmt.Fprintln(w, "config   ok")
	}

	if len(problems) > 0 {
		return fmt.Errorf("doctor: %s", strings.Join(problems, ", "))
	}
	return nil
}
