package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that would resolve outside the root.
var ErrOutsideRoot = errors.New("path escapes root")

// maxContentBytes caps a single fetched file.
const maxContentBytes = 8 << 20

// DirContent reads file identities relative to Root.
type DirContent struct {
	Root string
}

// Fetch returns the content of the root-relative path.
func (d DirContent) Fetch(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := d.Resolve(path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxContentBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Resolve maps a root-relative slash path to an absolute path below Root.
func (d DirContent) Resolve(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%q: %w", path, ErrOutsideRoot)
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%q: %w", path, ErrOutsideRoot)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", path, ErrOutsideRoot)
	}
	return filepath.Join(d.Root, clean), nil
}

// HTTPContent fetches file identities from a content endpoint:
// GET <BaseURL>/content?path=<identity>.
type HTTPContent struct {
	BaseURL string
	Client  *http.Client // nil means http.DefaultClient
}

// Fetch issues the request and returns the body of a 2xx response. Any other
// status becomes an error carrying the response text.
func (h HTTPContent) Fetch(ctx context.Context, path string) (string, error) {
	u := strings.TrimRight(h.BaseURL, "/") + "/content?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("content service returned %d: %s", resp.StatusCode, msg)
	}
	return string(body), nil
}
