package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNotebookSize = 20 << 20 // 20 MB

var (
	notebookMIMEs = map[string]bool{
		"":                         true,
		"application/json":         true,
		"application/x-ipynb+json": true,
		"application/octet-stream": true,
		"text/plain":               true,
	}

	safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// loadNotebook resolves the notebook arguments of a tool call: inline JSON
// content, a data: URI or an http(s) URL. It returns the bytes and a
// display name.
func (s *Server) loadNotebook(ctx context.Context, content, rawURL, name string) ([]byte, string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case content != "" && rawURL != "":
		return nil, "", fmt.Errorf("pass either content or url, not both")
	case content != "":
		data = []byte(content)
	case strings.HasPrefix(rawURL, "data:"):
		data, err = decodeDataURI(rawURL)
	case rawURL != "":
		data, err = s.fetchHTTP(ctx, rawURL)
	default:
		return nil, "", fmt.Errorf("one of content or url is required")
	}
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxNotebookSize {
		return nil, "", fmt.Errorf("notebook too large: %d bytes (max %d)", len(data), maxNotebookSize)
	}

	if name == "" {
		name = filenameFromURL(rawURL)
	}
	return data, sanitizeFilename(name), nil
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	if !notebookMIMEs[mime] {
		return nil, fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}

// fetchHTTP downloads a notebook from an HTTP/HTTPS URL with security checks.
func (s *Server) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}

	if err := s.hostCheck(parsed.Hostname()); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return s.hostCheck(req.URL.Hostname())
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxNotebookSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxNotebookSize {
		return nil, fmt.Errorf("notebook too large: exceeds %d bytes", maxNotebookSize)
	}
	return data, nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// filenameFromURL takes the last path segment of an .ipynb URL, falling back to a UUID.
func filenameFromURL(rawURL string) string {
	if rawURL != "" && !strings.HasPrefix(rawURL, "data:") {
		if parsed, err := url.Parse(rawURL); err == nil {
			base := path.Base(parsed.Path)
			if strings.HasSuffix(strings.ToLower(base), ".ipynb") {
				return base
			}
		}
	}
	return uuid.New().String() + ".ipynb"
}

// sanitizeFilename strips path separators and unsafe characters.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = safeFilenameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." {
		name = uuid.New().String() + ".ipynb"
	}
	return name
}
