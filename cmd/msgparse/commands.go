package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/eslider/msgparse/internal/archive"
	"github.com/eslider/msgparse/internal/export"
	"github.com/eslider/msgparse/internal/ingest"
	"github.com/eslider/msgparse/internal/message"
	"github.com/eslider/msgparse/internal/model"
	"github.com/eslider/msgparse/internal/parser"
	"github.com/eslider/msgparse/internal/pstsource"
	"github.com/eslider/msgparse/internal/storage"
	"github.com/eslider/msgparse/internal/web"
)

func (a *app) newParser() *parser.Parser {
	return parser.New(parser.WithLogger(a.logger), parser.WithMaxDepth(a.cfg.MaxDepth))
}

func (a *app) parseFile(path string) (*message.Message, error) {
	return a.newParser().ParseFile(path)
}

func (a *app) parseCmd() *cobra.Command {
	var asJSON, long, props, html bool
	cmd := &cobra.Command{
		Use:   "parse <file.msg>",
		Short: "Print a summary of a .msg file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.parseFile(args[0])
			if err != nil {
				return err
			}
			switch {
			case asJSON:
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			case props:
				_, err = io.WriteString(a.out, m.PropertyListing())
			case html:
				_, err = io.WriteString(a.out, m.HTML())
			case long:
				_, err = fmt.Fprintln(a.out, m.LongString())
			default:
				_, err = fmt.Fprintln(a.out, m.String())
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the decoded message as JSON")
	cmd.Flags().BoolVar(&long, "long", false, "Include the body and the attachment list")
	cmd.Flags().BoolVar(&props, "properties", false, "List every decoded MAPI property")
	cmd.Flags().BoolVar(&html, "html", false, "Print the HTML body (converted from RTF when needed)")
	cmd.MarkFlagsMutuallyExclusive("json", "long", "properties", "html")
	return cmd
}

func (a *app) emlCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "eml <file.msg>",
		Short: "Convert a .msg file to RFC 822 (.eml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.parseFile(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				return export.WriteEML(a.out, m)
			}

			data, err := export.EML(m)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			if !m.Date.IsZero() {
				if err := os.Chtimes(out, m.Date, m.Date); err != nil {
					a.logger.Warn("set eml timestamps", "path", out, "error", err)
				}
			}
			a.logger.Info("wrote eml", "path", out, "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to this file instead of stdout")
	return cmd
}

func (a *app) extractCmd() *cobra.Command {
	var out string
	var useS3 bool
	cmd := &cobra.Command{
		Use:   "extract <file.msg>",
		Short: "Save the attachments of a .msg file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := a.parseFile(args[0])
			if err != nil {
				return err
			}

			var store storage.ObjectStore = storage.NewFSStore(out)
			if useS3 {
				if !a.cfg.S3.Enabled() {
					return eris.New("--s3 needs S3_ENDPOINT and credentials")
				}
				if store, err = storage.New(ctx, a.cfg.S3, out); err != nil {
					return err
				}
			}

			base := filepath.Base(args[0])
			prefix := export.SanitizeName(strings.TrimSuffix(base, filepath.Ext(base)))
			if prefix == "" {
				prefix = "message"
			}
			keys, err := export.SaveAttachments(ctx, store, prefix, m)
			for _, k := range keys {
				fmt.Fprintln(a.out, k)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", ".", "Directory to write attachments into")
	cmd.Flags().BoolVar(&useS3, "s3", false, "Upload to the configured S3 bucket instead")
	return cmd
}

// openArchive opens the archive database and object store under the data
// directory.
func (a *app) openArchive(ctx context.Context) (*archive.Store, storage.ObjectStore, error) {
	arc, err := archive.Open(a.cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.New(ctx, a.cfg.S3, filepath.Join(a.cfg.DataDir, "objects"))
	if err != nil {
		arc.Close()
		return nil, nil, err
	}
	return arc, store, nil
}

func (a *app) archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <file.msg>...",
		Short: "Store .msg files and their attachments in the archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			arc, store, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			defer arc.Close()

			in := ingest.New(a.newParser(), arc, store, a.logger)
			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err == nil {
					var res *ingest.Result
					if res, err = in.Add(ctx, model.SourceCLI, path, data); err == nil {
						status := "archived"
						if res.Duplicate {
							status = "duplicate"
						}
						fmt.Fprintf(a.out, "%s\t%s\t%s\n", res.Record.ID, status, path)
						continue
					}
				}
				a.logger.Error("archive message", "path", path, "error", err)
				failed++
			}
			if failed > 0 {
				return eris.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func (a *app) pstCmd() *cobra.Command {
	var out string
	var toArchive bool
	cmd := &cobra.Command{
		Use:   "pst <file.pst>",
		Short: "Convert a PST/OST file to .eml files or import it into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" && !toArchive {
				return eris.New("one of --out or --archive is required")
			}
			src := pstsource.New(nil, a.logger)
			progress := func(phase string, current int) {
				a.logger.Info("pst progress", "phase", phase, "messages", current)
			}

			if out != "" {
				stats, err := src.ExportEML(args[0], out, progress)
				fmt.Fprintf(a.out, "%d messages written, %d skipped\n", stats.Messages, stats.Skipped)
				return err
			}

			ctx := cmd.Context()
			arc, store, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			defer arc.Close()
			job, err := pstsource.NewImporter(src, arc, store).Import(ctx, args[0], progress)
			if job != nil {
				fmt.Fprintf(a.out, "%d messages archived, %d skipped\n", job.Messages, job.Skipped)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write .eml files into this directory, one subdirectory per folder")
	cmd.Flags().BoolVar(&toArchive, "archive", false, "Import the messages into the archive")
	cmd.MarkFlagsMutuallyExclusive("out", "archive")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			arc, store, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			defer arc.Close()

			p := a.newParser()
			router := web.NewRouter(web.Config{
				Parser:   p,
				Archive:  arc,
				Store:    store,
				Logger:   a.logger,
				Importer: pstsource.NewImporter(pstsource.New(nil, a.logger), arc, store),
			})
			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.logger.Info("starting msgparse", "version", version, "addr", a.cfg.ListenAddr, "data_dir", a.cfg.DataDir, "s3", a.cfg.S3.Enabled())

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("listen", "", "HTTP listen address (default :8090)")
	return cmd
}
