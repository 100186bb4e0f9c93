// Package preview resolves a selected node to the text shown in the preview
// panel: a stored snippet for declarations, the file body for files, and a
// fixed message for modules.
package preview

import (
	"context"
	"fmt"
	"time"

	"github.com/phobologic/importgraph/internal/graph"
	"github.com/phobologic/importgraph/internal/metrics"
	"github.com/phobologic/importgraph/internal/snippet"
)

// DefaultTimeout bounds a single content fetch.
const DefaultTimeout = 5 * time.Second

// NotAvailableText is shown for a declaration with no stored snippet.
const NotAvailableText = "Code not available"

// Status classifies a Result.
type Status string

const (
	StatusSnippet      Status = "snippet"
	StatusFile         Status = "file"
	StatusNotAvailable Status = "not_available"
	StatusNoPreview    Status = "no_preview"
	StatusContentError Status = "content_error"
)

// Result is the outcome of a resolution. Text is always displayable.
type Result struct {
	ID     string     `json:"id"`
	Kind   graph.Kind `json:"kind"`
	Status Status     `json:"status"`
	Text   string     `json:"text"`
}

// ContentService returns the raw text of a file identity.
type ContentService interface {
	Fetch(ctx context.Context, path string) (string, error)
}

// Resolver is read-only and safe for concurrent use.
type Resolver struct {
	Snippets snippet.Map
	Content  ContentService
	// Timeout bounds Content.Fetch; zero means DefaultTimeout.
	Timeout time.Duration
}

// Resolve never fails: every failure becomes a Result with a sentinel text.
func (r *Resolver) Resolve(ctx context.Context, id string, kind graph.Kind) Result {
	res := r.resolve(ctx, id, kind)
	metrics.Previews.WithLabelValues(kind.String(), string(res.Status)).Inc()
	return res
}

func (r *Resolver) resolve(ctx context.Context, id string, kind graph.Kind) Result {
	res := Result{ID: id, Kind: kind}
	switch kind {
	case graph.Function, graph.Class:
		if text, ok := r.Snippets.Lookup(id); ok {
			res.Status, res.Text = StatusSnippet, text
		} else {
			res.Status, res.Text = StatusNotAvailable, NotAvailableText
		}
	case graph.File:
		text, err := r.fetch(ctx, id)
		if err != nil {
			res.Status, res.Text = StatusContentError, "Error reading file: "+err.Error()
		} else {
			res.Status, res.Text = StatusFile, text
		}
	default:
		res.Status, res.Text = StatusNoPreview, fmt.Sprintf("No preview available for %s: %s", kind, id)
	}
	return res
}

func (r *Resolver) fetch(ctx context.Context, path string) (string, error) {
	if r.Content == nil {
		return "", fmt.Errorf("no content service configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Content.Fetch(ctx, path)
}
