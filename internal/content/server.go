// Package content serves the rendered page, file bodies and previews over
// HTTP for one completed analysis.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/phobologic/importgraph/internal/graph"
	"github.com/phobologic/importgraph/internal/logging"
	"github.com/phobologic/importgraph/internal/metrics"
	"github.com/phobologic/importgraph/internal/preview"
	"github.com/phobologic/importgraph/internal/snippet"
)

// ErrUnknownFile is returned for paths that are not File nodes of the graph.
var ErrUnknownFile = errors.New("not an analyzed file")

// Config configures a Server.
type Config struct {
	Root         string // directory the graph was built from
	CacheEntries int
	Timeout      time.Duration // per preview content fetch
	Page         []byte        // served at "/" when non-empty
	Logger       *slog.Logger
}

// Server answers content and preview requests. It never mutates the graph.
type Server struct {
	graph    *graph.Graph
	snippets snippet.Map
	files    preview.DirContent
	cache    *lru.Cache[string, string]
	resolver *preview.Resolver
	page     []byte
	logger   *slog.Logger
}

// New builds a server over a finished graph.
func New(g *graph.Graph, snippets snippet.Map, cfg Config) (*Server, error) {
	entries := cfg.CacheEntries
	if entries <= 0 {
		entries = 256
	}
	cache, err := lru.New[string, string](entries)
	if err != nil {
		return nil, fmt.Errorf("creating content cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		graph:    g,
		snippets: snippets,
		files:    preview.DirContent{Root: cfg.Root},
		cache:    cache,
		page:     cfg.Page,
		logger:   logger,
	}
	s.resolver = &preview.Resolver{Snippets: snippets, Content: s, Timeout: cfg.Timeout}
	return s, nil
}

// Fetch returns the body of an analyzed file, through the cache. It makes
// the server its own preview.ContentService.
func (s *Server) Fetch(ctx context.Context, path string) (string, error) {
	if _, err := s.files.Resolve(path); err != nil {
		return "", err
	}
	if n, ok := s.graph.Node(path); !ok || n.Kind != graph.File {
		return "", fmt.Errorf("%q: %w", path, ErrUnknownFile)
	}
	if text, ok := s.cache.Get(path); ok {
		metrics.ContentCache.WithLabelValues("hit").Inc()
		return text, nil
	}
	metrics.ContentCache.WithLabelValues("miss").Inc()

	text, err := s.files.Fetch(ctx, path)
	if err != nil {
		return "", err
	}
	s.cache.Add(path, text)
	return text, nil
}

// Resolver exposes the in-process preview resolver.
func (s *Server) Resolver() *preview.Resolver { return s.resolver }

// Handler returns the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/", s.handlePage)

	// The page written by the default command is opened from file:// and
	// calls back into these routes cross-origin.
	shared := r.Group("/", cors())
	shared.GET("/content", s.countStatus(), s.handleContent)
	shared.GET("/get_file_content", s.countStatus(), s.handleContent)
	shared.GET("/snippets", s.handleSnippets)
	shared.GET("/preview", s.handlePreview)
	for _, path := range []string{"/content", "/get_file_content", "/snippets", "/preview"} {
		shared.OPTIONS(path, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}

func (s *Server) handlePage(c *gin.Context) {
	if len(s.page) == 0 {
		c.String(http.StatusNotFound, "no page rendered")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.page)
}

func (s *Server) handleContent(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.String(http.StatusBadRequest, "missing path parameter")
		return
	}

	text, err := s.Fetch(c.Request.Context(), path)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, preview.ErrOutsideRoot):
			status = http.StatusForbidden
		case errors.Is(err, ErrUnknownFile), errors.Is(err, os.ErrNotExist):
			status = http.StatusNotFound
		}
		s.logger.Warn("content request failed", "path", path, "status", status, "error", err)
		c.String(status, err.Error())
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

func (s *Server) handleSnippets(c *gin.Context) {
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Status(http.StatusOK)
	if err := s.snippets.Export(c.Writer); err != nil {
		s.logger.Error("writing snippets", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// handlePreview accepts either id (kind looked up in the graph, or given
// explicitly) or an encoded node label.
func (s *Server) handlePreview(c *gin.Context) {
	id, kindName := c.Query("id"), c.Query("kind")
	if label := c.Query("label"); label != "" {
		var kind graph.Kind
		var err error
		id, kind, err = graph.DecodeLabel(label)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		kindName = kind.String()
	}
	if id == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "missing id or label parameter"})
		return
	}

	var kind graph.Kind
	if kindName != "" {
		k, err := graph.ParseKind(kindName)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		kind = k
	} else {
		n, ok := s.graph.Node(id)
		if !ok {
			c.JSON(http.StatusNotFound, errorResponse{Error: fmt.Sprintf("%q: %v", id, graph.ErrNodeNotFound)})
			return
		}
		kind = n.Kind
	}

	c.JSON(http.StatusOK, s.resolver.Resolve(c.Request.Context(), id, kind))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"nodes":  s.graph.NodeCount(),
		"edges":  s.graph.EdgeCount(),
	})
}

// cors allows any origin to read content and previews. Requests carry no
// credentials, so the origin is echoed without Allow-Credentials.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		} else {
			c.Header("Access-Control-Allow-Origin", "*")
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type")
		c.Next()
	}
}

func (s *Server) countStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		metrics.ContentRequests.WithLabelValues(strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
