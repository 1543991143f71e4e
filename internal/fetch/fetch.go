// Package fetch downloads document payloads over HTTP, streaming them to
// scratch files on disk so large PDFs never need to fit in memory.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbeavitt/Harvest/pkg/logger"
)

// copyChunkSize bounds how much of the response body is held in memory at
// once while streaming to disk.
const copyChunkSize = 8192

var log = logger.Get("Fetch")

type (
	// ContentTypeError indicates the server responded with a payload that is
	// not a PDF. Nothing is written to disk when this is returned.
	ContentTypeError struct {
		URL         string
		ContentType string
	}

	// StatusError indicates a non-success HTTP status from the final
	// (post-redirect) response.
	StatusError struct {
		URL        string
		StatusCode int
	}

	// TempFile is a downloaded payload on disk. The caller owns it and must
	// invoke Cleanup once the bytes have been consumed.
	TempFile struct {
		Path string
		Size int64

		dir string
	}

	Engine struct {
		client  *http.Client
		workDir string
	}
)

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("fetch of %s returned non-PDF content type %q", e.URL, e.ContentType)
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch of %s returned status %d", e.URL, e.StatusCode)
}

// Cleanup removes the temp file and its scoped directory. Safe to call more
// than once.
func (t *TempFile) Cleanup() {
	if t.dir == "" {
		return
	}

	if err := os.RemoveAll(t.dir); err != nil {
		log.Warnf("Failed to remove scratch dir %s: %s\n", t.dir, err.Error())
	}
	t.dir = ""
}

// New constructs a fetch engine writing scratch files beneath workDir. The
// connect phase has a tighter deadline than the transfer phases so a dead
// host fails fast while a slow PDF download is still allowed to finish.
func New(workDir string) *Engine {
	return &Engine{
		workDir: workDir,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: time.Second * 10}).DialContext,
				TLSHandshakeTimeout:   time.Second * 30,
				ResponseHeaderTimeout: time.Second * 30,
				IdleConnTimeout:       time.Second * 30,
			},
		},
	}
}

// Fetch downloads the PDF at rawURL into a fresh scratch directory. Every
// failure path cleans up after itself; on success the returned TempFile (and
// its Cleanup obligation) belongs to the caller. The overall duration is
// bounded only by ctx, which the orchestrator derives per link.
func (e *Engine) Fetch(ctx context.Context, rawURL string) (*TempFile, error) {
	// Best-effort probe; some hosts reject HEAD outright, so a failure here
	// only skips the early content-type check.
	if req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil); err == nil {
		if resp, err := e.client.Do(req); err == nil {
			resp.Body.Close()
			if ct := resp.Header.Get("Content-Type"); ct != "" && !isPdfResponse(rawURL, ct) {
				return nil, &ContentTypeError{URL: rawURL, ContentType: ct}
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if ct := resp.Header.Get("Content-Type"); !isPdfResponse(rawURL, ct) {
		return nil, &ContentTypeError{URL: rawURL, ContentType: ct}
	}

	dir, err := os.MkdirTemp(e.workDir, "harvest-fetch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	path := filepath.Join(dir, FilenameFromURL(rawURL))
	out, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}

	written, err := io.CopyBuffer(out, resp.Body, make([]byte, copyChunkSize))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to stream %s to disk: %w", rawURL, err)
	}

	log.Debugf("Fetched %s (%d bytes)\n", rawURL, written)
	return &TempFile{Path: path, Size: written, dir: dir}, nil
}

// FilenameFromURL extracts the final path segment of the URL, falling back
// to a fixed name when the path carries none.
func FilenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "download.pdf"
	}

	name := filepath.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return "download.pdf"
	}

	return name
}

func isPdfResponse(rawURL string, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}

	// Plenty of static file hosts serve PDFs as octet-stream; trust the URL
	// extension in that case.
	parsed, err := url.Parse(rawURL)
	return err == nil && strings.HasSuffix(strings.ToLower(parsed.Path), ".pdf")
}
