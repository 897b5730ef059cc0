// msgparse decodes Outlook .msg files and archives them.
//
// Usage:
//
//	msgparse parse <file.msg>       Print a summary of the message
//	msgparse eml <file.msg>         Convert to RFC 822 (.eml)
//	msgparse extract <file.msg>     Save the attachments
//	msgparse archive <file.msg>...  Store messages in the archive
//	msgparse pst <file.pst>         Convert or archive a PST/OST file
//	msgparse serve                  Start the HTTP server
//	msgparse version                Print version information
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/eslider/msgparse/internal/config"
)

var version = "1.0.0-dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	out     io.Writer
	cleanup func() error
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, cleanup: func() error { return nil }}

	root := &cobra.Command{
		Use:           "msgparse",
		Short:         "Decode Outlook .msg files and archive them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromCommand(cmd)
			if err != nil {
				return err
			}
			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			a.cfg, a.logger, a.cleanup = cfg, logger, cleanup
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.cleanup()
		},
	}
	root.SetOut(out)
	config.RegisterFlags(root)

	root.AddCommand(
		a.parseCmd(),
		a.emlCmd(),
		a.extractCmd(),
		a.archiveCmd(),
		a.pstCmd(),
		a.serveCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(out, "msgparse %s\n", version)
			},
		},
	)
	return root
}

// setupLogger writes text logs to stderr, and also to a timestamped file
// when a log directory is configured.
func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("msgparse-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
