// Package analysis runs one complete pass over a directory: discovery, a
// bounded parse pool, graph construction and unreferenced marking.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/importgraph/internal/discover"
	"github.com/phobologic/importgraph/internal/graph"
	"github.com/phobologic/importgraph/internal/lang"
	"github.com/phobologic/importgraph/internal/logging"
	"github.com/phobologic/importgraph/internal/metrics"
	"github.com/phobologic/importgraph/internal/model"
	"github.com/phobologic/importgraph/internal/parse"
	"github.com/phobologic/importgraph/internal/snippet"
)

var (
	// ErrInvalidRoot is returned when the root is missing, unreadable or not
	// a directory.
	// No file has been parsed when it is returned.
	ErrInvalidRoot = errors.New("invalid root directory")

	// ErrTooLarge marks files skipped by the size limit.
	ErrTooLarge = errors.New("file exceeds size limit")
)

// Options tunes a run. The zero value is usable.
type Options struct {
	// Workers bounds the parse pool; <= 0 means GOMAXPROCS.
	Workers int
	// MaxFileSize skips larger files; <= 0 disables the limit.
	MaxFileSize int64
	// Exclude holds gitignore-style patterns passed to discovery.
	Exclude []string
	Logger  *slog.Logger
}

// Diagnostic records a file that contributed nothing to the graph.
type Diagnostic struct {
	Path string
	Err  error
}

func (d Diagnostic) Error() string { return d.Path + ": " + d.Err.Error() }

func (d Diagnostic) Unwrap() error { return d.Err }

// Result is everything one run produced.
type Result struct {
	Root         string // absolute
	RunID        string
	Graph        *graph.Graph
	Snippets     snippet.Map
	Collisions   []graph.Collision
	Unreferenced []string
	Diagnostics  []Diagnostic
	Analyzed     int // files that parsed cleanly
}

// Run analyzes every source file under root. Per-file failures become
// diagnostics; only an invalid root or a cancelled context fail the run.
func Run(ctx context.Context, root string, opts Options) (*Result, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger, runID := logging.WithRun(logger)

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, abs)
	}
	if _, err := os.ReadDir(abs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoot, err)
	}

	res := &Result{Root: abs, RunID: runID}

	files, err := discover.Files(abs, discover.Options{
		Exclude: opts.Exclude,
		OnError: func(rel string, err error) {
			logger.Warn("skipping unreadable path", "path", rel, "error", err)
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Path: rel, Err: err})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoot, err)
	}
	logger.Debug("discovered files", "root", abs, "count", len(files))

	files, skipped := filterBySize(files, opts.MaxFileSize)
	for _, f := range skipped {
		logger.Warn("skipping file", "path", f.Path, "size", f.Size, "limit", opts.MaxFileSize)
		metrics.FilesParsed.WithLabelValues("skipped").Inc()
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Path: f.Path, Err: ErrTooLarge})
	}

	analyses, errs, err := parseFiles(ctx, abs, files, opts.Workers)
	if err != nil {
		return nil, err
	}

	var parsed []model.FileAnalysis
	for i, f := range files {
		if errs[i] != nil {
			logger.Warn("skipping file", "path", f.Path, "error", errs[i])
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Path: f.Path, Err: errs[i]})
			continue
		}
		parsed = append(parsed, *analyses[i])
	}
	res.Analyzed = len(parsed)

	res.Graph, res.Snippets, res.Collisions = graph.Build(parsed)
	for _, c := range res.Collisions {
		logger.Debug("identity collision", "id", c.ID, "existing", c.Existing, "incoming", c.Incoming)
	}
	res.Unreferenced = graph.MarkUnreferenced(res.Graph)

	elapsed := time.Since(start)
	metrics.AnalysisDuration.Observe(elapsed.Seconds())
	logger.Info("analysis complete",
		"root", abs,
		"files", res.Analyzed,
		"diagnostics", len(res.Diagnostics),
		"nodes", res.Graph.NodeCount(),
		"edges", res.Graph.EdgeCount(),
		"unreferenced", len(res.Unreferenced),
		"duration", elapsed,
	)
	return res, nil
}

func filterBySize(files []discover.FileEntry, limit int64) (kept, skipped []discover.FileEntry) {
	if limit <= 0 {
		return files, nil
	}
	for _, f := range files {
		if f.Size > limit {
			skipped = append(skipped, f)
			continue
		}
		kept = append(kept, f)
	}
	return kept, skipped
}

// parseFiles analyzes files on a bounded pool. Each worker owns its parsers,
// and results land at the index of their file, so the merge order matches
// the (sorted) discovery order regardless of scheduling.
func parseFiles(ctx context.Context, root string, files []discover.FileEntry, workers int) ([]*model.FileAnalysis, []error, error) {
	analyses := make([]*model.FileAnalysis, len(files))
	errs := make([]error, len(files))
	if len(files) == 0 {
		return analyses, errs, nil
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(files) {
		workers = len(files)
	}

	work := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		for i := range files {
			select {
			case work <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range workers {
		g.Go(func() error {
			parsers := make(map[string]*sitter.Parser)
			for idx := range work {
				if err := gctx.Err(); err != nil {
					return err
				}
				f := files[idx]
				l := lang.Languages[f.Language]
				p, ok := parsers[f.Language]
				if !ok {
					p = l.NewParser()
					parsers[f.Language] = p
				}

				source, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
				if err != nil {
					errs[idx] = fmt.Errorf("reading: %w", err)
					metrics.FilesParsed.WithLabelValues("read_error").Inc()
					continue
				}
				fa, err := parse.File(gctx, l, p, source, f.Path)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					errs[idx] = err
					result := "invalid_content"
					if errors.Is(err, parse.ErrSyntax) {
						result = "syntax_error"
					}
					metrics.FilesParsed.WithLabelValues(result).Inc()
					continue
				}
				analyses[idx] = fa
				metrics.FilesParsed.WithLabelValues("ok").Inc()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return analyses, errs, nil
}
