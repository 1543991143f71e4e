package resolve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mbeavitt/Harvest/pkg/logger"
)

var log = logger.Get("YtDlp")

// progressPattern matches yt-dlp's --newline progress output, e.g.
// "[download]  42.1% of 10.00MiB at 1.21MiB/s ETA 00:05".
var progressPattern = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%(?:\s+of\s+\S+)?(?:\s+at\s+(\S+))?`)

type (
	// probeOutput is the subset of yt-dlp's -J document we consume.
	probeOutput struct {
		Title      string  `json:"title"`
		Duration   float64 `json:"duration"`
		Uploader   string  `json:"uploader"`
		UploadDate string  `json:"upload_date"`
		Extractor  string  `json:"extractor_key"`
		WebpageURL string  `json:"webpage_url"`
		Ext        string  `json:"ext"`
		FormatID   string  `json:"format_id"`
	}

	// YtDlp shells out to the yt-dlp binary on PATH (or an explicit path).
	YtDlp struct {
		binaryPath string
	}
)

func NewYtDlp(binaryPath string) *YtDlp {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}

	return &YtDlp{binaryPath: binaryPath}
}

// Probe asks the resolver for metadata without downloading anything. A
// (nil, nil) return means the extractor produced a null info document for
// this format, which callers treat as "try the next format".
func (y *YtDlp) Probe(ctx context.Context, url string, format string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, y.binaryPath,
		"-J",
		"--no-warnings",
		"--socket-timeout", "30",
		"-f", format,
		url,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("probe of %s (format %s) failed: %w: %s", url, format, err, firstLine(stderr.String()))
	}

	raw := strings.TrimSpace(stdout.String())
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var parsed probeOutput
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse probe output for %s: %w", url, err)
	}

	return parsed.toMediaInfo(format), nil
}

// Download fetches the video into outDir using the given format selector,
// reporting progress line-by-line. The downloaded file is the only regular
// file in outDir afterwards, so callers should pass a fresh directory.
func (y *YtDlp) Download(ctx context.Context, url string, format string, outDir string, onProgress ProgressFunc) (*MediaInfo, error) {
	info, err := y.Probe(ctx, url, format)
	if err != nil {
		return nil, err
	} else if info == nil {
		return nil, fmt.Errorf("resolver returned no info for %s (format %s)", url, format)
	}

	cmd := exec.CommandContext(ctx, y.binaryPath,
		"-f", format,
		"--newline",
		"--no-warnings",
		"--no-playlist",
		"--socket-timeout", "30",
		"--retries", "3",
		"-o", filepath.Join(outDir, "%(title)s.%(ext)s"),
		url,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach to resolver output: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start resolver for %s: %w", url, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if percent, rate, ok := parseProgressLine(scanner.Text()); ok && onProgress != nil {
			onProgress(percent, rate)
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("download of %s (format %s) failed: %w: %s", url, format, err, firstLine(stderr.String()))
	}

	filename, size, err := findDownloadedFile(outDir)
	if err != nil {
		return nil, err
	}

	info.Filename = filename
	log.Debugf("Downloaded %s (%d bytes) for %s\n", filename, size, url)
	return info, nil
}

func (p *probeOutput) toMediaInfo(format string) *MediaInfo {
	attributes := map[string]any{
		"uploader":    p.Uploader,
		"upload_date": p.UploadDate,
		"source_site": p.Extractor,
		"webpage_url": p.WebpageURL,
		"format_used": format,
		"container":   p.Ext,
		"format_id":   p.FormatID,
	}

	return &MediaInfo{
		Title:           p.Title,
		DurationSeconds: int(p.Duration),
		Attributes:      attributes,
	}
}

func parseProgressLine(line string) (percent float64, rate string, ok bool) {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, "", false
	}

	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, "", false
	}

	return percent, match[2], true
}

// findDownloadedFile locates the single video file the resolver wrote. The
// resolver may leave .part files behind on interruption; those are ignored.
func findDownloadedFile(outDir string) (string, int64, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", 0, fmt.Errorf("failed to inspect download dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}

		fileInfo, err := entry.Info()
		if err != nil {
			continue
		}

		return entry.Name(), fileInfo.Size(), nil
	}

	return "", 0, fmt.Errorf("resolver reported success but no file found in %s", outDir)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}

	return s
}
