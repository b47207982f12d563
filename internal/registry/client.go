// Package registry implements the dependency registry client. A registry is a
// base URL (https://, http://, or file://) exposing one JSON index document
// per dependency at index/<name>.json plus downloadable gzipped tarballs.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Index is the registry's version list for one dependency.
type Index struct {
	Name     string         `json:"name"`
	Versions []IndexVersion `json:"versions"`
}

// IndexVersion describes one published version of a dependency.
type IndexVersion struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	SHA256  string `json:"sha256"`
}

// Client fetches index documents and archives from a registry.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a registry client for the given base URL.
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "https", "file":
	default:
		return nil, fmt.Errorf("unsupported registry scheme %q", u.Scheme)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Index fetches the version index for a dependency. A missing index document
// means the dependency is unknown to the registry.
func (c *Client) Index(ctx context.Context, name string) (*Index, error) {
	data, err := c.fetch(ctx, c.baseURL+"/index/"+name+".json")
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("index %s: unmarshal: %w", name, err)
	}
	return &idx, nil
}

// Download retrieves an archive and verifies it against the index checksum.
func (c *Client) Download(ctx context.Context, v IndexVersion) ([]byte, error) {
	target := v.URL
	// Relative archive URLs resolve against the registry base.
	if !strings.Contains(target, "://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	data, err := c.fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", target, err)
	}
	if v.SHA256 != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != v.SHA256 {
			return nil, fmt.Errorf("download %s: checksum mismatch: got %s, want %s", target, got, v.SHA256)
		}
	}
	return data, nil
}

// fetch retrieves raw bytes from an http(s) or file URL.
func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	if u.Scheme == "file" {
		path := filepath.FromSlash(u.Path)
		data, err := os.ReadFile(path) // #nosec G304 - registry path is operator-configured
		if err != nil {
			return nil, err
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
