// Package resolve turns media page URLs into downloaded video files via an
// external resolver binary.
package resolve

import "context"

// FormatLadder is the ordered list of format selectors tried for each video.
// Earlier entries prefer bandwidth-friendly resolutions; the final entries
// are catch-alls so a video is only abandoned once every option fails.
var FormatLadder = []string{
	"best[height<=720]/best",
	"best[height<=480]/best",
	"best",
	"worst",
}

type (
	// MediaInfo is the resolver's metadata for one video.
	MediaInfo struct {
		Title           string
		DurationSeconds int
		Filename        string
		Attributes      map[string]any
	}

	// ProgressFunc receives download progress as it happens.
	ProgressFunc func(percent float64, rate string)

	// MediaResolver probes and downloads videos from media sites. Probe
	// returning (nil, nil) means the extractor matched the URL but produced
	// no usable info for that format; callers should advance the ladder.
	MediaResolver interface {
		Probe(ctx context.Context, url string, format string) (*MediaInfo, error)
		Download(ctx context.Context, url string, format string, outDir string, onProgress ProgressFunc) (*MediaInfo, error)
	}
)
