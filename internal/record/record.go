package record

import (
	"time"

	"github.com/google/uuid"
)

type (
	// Attributes is the open key->value mapping attached to every record.
	// Upstream resolvers yield heterogeneous fields per source site, so no
	// fixed schema exists for this data; see mergeAttributes for the
	// conflict semantics applied on re-ingest.
	Attributes map[string]any

	// MediaRecord describes one downloaded video, keyed uniquely by its
	// source URL. A record whose BlobObjectName is empty represents a failed
	// or partial ingest and is never reported as downloadable.
	MediaRecord struct {
		ID              uuid.UUID
		SourceURL       string
		Title           string
		DurationSeconds int
		Filename        string
		ByteSize        int64
		BlobObjectName  string
		DownloadedAt    time.Time
		Attributes      Attributes
	}

	// DocumentRecord describes one downloaded document (PDF), keyed
	// uniquely by its source URL.
	DocumentRecord struct {
		ID             uuid.UUID
		SourceURL      string
		Filename       string
		ByteSize       int64
		BlobObjectName string
		DownloadedAt   time.Time
		Attributes     Attributes
	}
)

// mergeAttributes shallow-merges 'next' over 'existing'; keys from the new
// ingest win on conflict. Neither input map is mutated.
func mergeAttributes(existing Attributes, next Attributes) Attributes {
	merged := make(Attributes, len(existing)+len(next))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range next {
		merged[k] = v
	}

	return merged
}
