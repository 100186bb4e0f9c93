// importgraph renders the import and declaration graph of a Python source
// tree as an interactive HTML page, JSON or TOON.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phobologic/importgraph/internal/analysis"
	"github.com/phobologic/importgraph/internal/config"
	"github.com/phobologic/importgraph/internal/content"
	"github.com/phobologic/importgraph/internal/layout"
	"github.com/phobologic/importgraph/internal/logging"
	"github.com/phobologic/importgraph/internal/mcpserver"
	"github.com/phobologic/importgraph/internal/render"
	"github.com/phobologic/importgraph/internal/store"
	"github.com/phobologic/importgraph/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds command-line overrides. Only flags the user set replace the
// loaded configuration.
type flags struct {
	format      string
	layout      string
	workers     int
	maxFileSize int64
	listen      string
	logLevel    string
	logFormat   string
	exclude     []string
	db          string
	run         string
	list        bool
	importers   string
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "importgraph [dir] [output]",
		Short:         "Render the import graph of a Python source tree",
		Version:       version,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, dir, err := setup(cmd, &f, args, stderr)
			if err != nil {
				return err
			}
			if len(args) > 1 {
				cfg.Output = args[1]
			}
			return generate(cmd.Context(), dir, cfg, logger, stdout)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("importgraph {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	pf.IntVarP(&f.workers, "workers", "w", 0, "parse workers (0 means one per CPU)")
	pf.Int64Var(&f.maxFileSize, "max-file-size", 0, "skip files larger than this many bytes")
	pf.StringSliceVar(&f.exclude, "exclude", nil, "gitignore-style patterns to skip (repeatable)")

	root.Flags().StringVarP(&f.format, "format", "f", "", "output format: html, json or toon")
	root.Flags().StringVar(&f.layout, "layout", "", "node layout: spring or circle")
	root.Flags().StringVar(&f.listen, "listen", "", "content service address referenced by the HTML page")

	serve := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Analyze, then serve the page, file content and previews over HTTP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, dir, err := setup(cmd, &f, args, stderr)
			if err != nil {
				return err
			}
			return serveGraph(cmd.Context(), dir, &f, cfg, logger)
		},
	}
	serve.Flags().StringVar(&f.listen, "listen", "", "address to listen on")
	serve.Flags().StringVar(&f.layout, "layout", "", "node layout: spring or circle")
	addStoredRunFlags(serve, &f)

	mcpCmd := &cobra.Command{
		Use:   "mcp [dir]",
		Short: "Analyze, then answer MCP tool calls on stdin/stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, dir, err := setup(cmd, &f, args, stderr)
			if err != nil {
				return err
			}
			return serveMCP(cmd.Context(), dir, &f, cfg, logger)
		},
	}
	addStoredRunFlags(mcpCmd, &f)

	export := &cobra.Command{
		Use:   "export [dir]",
		Short: "Analyze and save the graph to a SQLite database, or query saved runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, dir, err := setup(cmd, &f, args, stderr)
			if err != nil {
				return err
			}
			switch {
			case f.list:
				return listRuns(cmd.Context(), f.db, stdout)
			case f.importers != "":
				return listImporters(cmd.Context(), f.db, f.run, f.importers, stdout)
			}
			return exportGraph(cmd.Context(), dir, f.db, cfg, logger, stdout)
		},
	}
	export.Flags().StringVar(&f.db, "db", "importgraph.sqlite", "database file")
	export.Flags().BoolVar(&f.list, "list", false, "list saved runs instead of exporting")
	export.Flags().StringVar(&f.importers, "importers", "", "print the files of --run that import this module instead of exporting")
	export.Flags().StringVar(&f.run, "run", "", "saved run queried by --importers")

	root.AddCommand(serve, mcpCmd, export)
	return root
}

// setup resolves the analyzed directory, loads its configuration, applies
// flag overrides and builds the logger.
func setup(cmd *cobra.Command, f *flags, args []string, stderr io.Writer) (config.Config, *slog.Logger, string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return cfg, nil, "", err
	}

	changed := cmd.Flags().Changed
	if changed("format") {
		cfg.Format = f.format
	}
	if changed("layout") {
		cfg.Layout = f.layout
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("max-file-size") {
		cfg.MaxFileSize = f.maxFileSize
	}
	if changed("listen") {
		cfg.Listen = f.listen
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, f.exclude...)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, "", err
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Writer: stderr})
	if err != nil {
		return cfg, nil, "", err
	}
	return cfg, logger, dir, nil
}

func analyze(ctx context.Context, dir string, cfg config.Config, logger *slog.Logger) (*analysis.Result, error) {
	return analysis.Run(ctx, dir, analysis.Options{
		Workers:     cfg.Workers,
		MaxFileSize: cfg.MaxFileSize,
		Exclude:     cfg.Exclude,
		Logger:      logger,
	})
}

// generate writes the graph in the configured format. An output of "-"
// writes to stdout.
func generate(ctx context.Context, dir string, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	res, err := analyze(ctx, dir, cfg, logger)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch cfg.Format {
	case config.FormatHTML:
		if err := writePage(&buf, res, cfg, "http://"+cfg.Listen+"/content"); err != nil {
			return err
		}
	case config.FormatJSON:
		pos, err := positions(res, cfg)
		if err != nil {
			return err
		}
		if err := render.JSON(&buf, res.Graph, res.Snippets, pos); err != nil {
			return err
		}
	case config.FormatTOON:
		buf.WriteString(toon.Encode(toonDocument(res)))
		buf.WriteByte('\n')
	default:
		return fmt.Errorf("%w: format %q", config.ErrInvalid, cfg.Format)
	}

	if cfg.Output == "-" {
		_, err := stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(cfg.Output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	logger.Info("wrote output", "path", cfg.Output, "format", cfg.Format)
	return nil
}

func positions(res *analysis.Result, cfg config.Config) (map[string]layout.Point, error) {
	engine, err := layout.ForName(cfg.Layout)
	if err != nil {
		return nil, err
	}
	return engine.Layout(res.Graph)
}

func writePage(w io.Writer, res *analysis.Result, cfg config.Config, contentURL string) error {
	pos, err := positions(res, cfg)
	if err != nil {
		return err
	}
	return render.HTML(w, res.Graph, res.Snippets, pos, render.Options{
		Title:          "Import graph: " + filepath.Base(res.Root),
		ContentURL:     contentURL,
		ContentTimeout: cfg.ContentTimeout,
	})
}

func toonDocument(res *analysis.Result) *toon.Document {
	doc := &toon.Document{Root: filepath.Base(res.Root), Graph: res.Graph, Snippets: res.Snippets}
	for _, d := range res.Diagnostics {
		doc.Diagnostics = append(doc.Diagnostics, toon.Diagnostic{Path: d.Path, Reason: d.Err.Error()})
	}
	return doc
}

func addStoredRunFlags(cmd *cobra.Command, f *flags) {
	cmd.Flags().StringVar(&f.run, "run", "", "serve a run saved by export instead of analyzing dir")
	cmd.Flags().StringVar(&f.db, "db", "importgraph.sqlite", "database holding --run")
}

// source analyzes dir, or loads the saved run named by --run.
func source(ctx context.Context, dir string, f *flags, cfg config.Config, logger *slog.Logger) (*analysis.Result, error) {
	if f.run == "" {
		return analyze(ctx, dir, cfg, logger)
	}
	st, err := store.Open(f.db)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	snap, err := st.Load(ctx, f.run)
	if err != nil {
		return nil, err
	}
	res := &analysis.Result{
		Root:     snap.Root,
		RunID:    snap.RunID,
		Graph:    snap.Graph,
		Snippets: snap.Snippets,
	}
	for _, d := range snap.Diagnostics {
		res.Diagnostics = append(res.Diagnostics, analysis.Diagnostic{Path: d.Path, Err: errors.New(d.Error)})
	}
	logger.Info("loaded saved run", "db", f.db, "run_id", snap.RunID, "root", snap.Root, "nodes", snap.Graph.NodeCount())
	return res, nil
}

func serveGraph(ctx context.Context, dir string, f *flags, cfg config.Config, logger *slog.Logger) error {
	res, err := source(ctx, dir, f, cfg, logger)
	if err != nil {
		return err
	}
	var page bytes.Buffer
	if err := writePage(&page, res, cfg, "/content"); err != nil {
		return err
	}
	srv, err := content.New(res.Graph, res.Snippets, content.Config{
		Root:         res.Root,
		CacheEntries: cfg.CacheEntries,
		Timeout:      cfg.ContentTimeout,
		Page:         page.Bytes(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	return srv.Serve(ctx, cfg.Listen)
}

func serveMCP(ctx context.Context, dir string, f *flags, cfg config.Config, logger *slog.Logger) error {
	res, err := source(ctx, dir, f, cfg, logger)
	if err != nil {
		return err
	}
	srv, err := content.New(res.Graph, res.Snippets, content.Config{
		Root:         res.Root,
		CacheEntries: cfg.CacheEntries,
		Timeout:      cfg.ContentTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	err = mcpserver.New(res.Graph, res.Snippets, srv.Resolver(), version, logger).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func exportGraph(ctx context.Context, dir, dbPath string, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	res, err := analyze(ctx, dir, cfg, logger)
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	snap := &store.Snapshot{
		RunID:     res.RunID,
		Root:      res.Root,
		CreatedAt: time.Now(),
		Graph:     res.Graph,
		Snippets:  res.Snippets,
	}
	for _, d := range res.Diagnostics {
		snap.Diagnostics = append(snap.Diagnostics, store.Diagnostic{Path: d.Path, Error: d.Err.Error()})
	}
	if err := st.Save(ctx, snap); err != nil {
		return err
	}
	logger.Info("exported graph", "db", dbPath, "run_id", res.RunID)
	_, _ = fmt.Fprintln(stdout, res.RunID)
	return nil
}

func listRuns(ctx context.Context, dbPath string, stdout io.Writer) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		_, _ = fmt.Fprintf(stdout, "%s\t%s\t%s\tnodes=%d\tedges=%d\n",
			r.RunID, r.CreatedAt.UTC().Format(time.RFC3339), r.Root, r.Nodes, r.Edges)
	}
	return nil
}

func listImporters(ctx context.Context, dbPath, runID, module string, stdout io.Writer) error {
	if runID == "" {
		return errors.New("--importers needs --run")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.Load(ctx, runID); err != nil {
		return err
	}
	files, err := st.Importers(ctx, runID, module)
	if err != nil {
		return err
	}
	for _, f := range files {
		_, _ = fmt.Fprintln(stdout, f)
	}
	return nil
}
