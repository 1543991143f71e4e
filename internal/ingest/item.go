package ingest

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mbeavitt/Harvest/internal/blob"
	"github.com/mbeavitt/Harvest/internal/record"
	"github.com/mbeavitt/Harvest/internal/resolve"
)

type (
	itemState int

	// VideoResult is the synchronous outcome of a single video ingest.
	// PersistenceError marks the narrow case where the bytes reached blob
	// storage but the metadata write failed; the blob is retrievable even
	// though no record points at it yet.
	VideoResult struct {
		Success          bool
		Message          string
		Filename         string
		RecordID         uuid.UUID
		PersistenceError bool
	}

	// AllFormatsExhaustedError indicates every ladder entry was probed and/or
	// downloaded without success.
	AllFormatsExhaustedError struct {
		URL string
	}
)

const (
	statePending itemState = iota
	stateResolving
	stateDownloading
	stateUploading
	statePersisting
	stateDone
	stateFailed
)

func (s itemState) String() string {
	switch s {
	case statePending:
		return "Pending"
	case stateResolving:
		return "Resolving"
	case stateDownloading:
		return "Downloading"
	case stateUploading:
		return "Uploading"
	case statePersisting:
		return "Persisting"
	case stateDone:
		return "Done"
	case stateFailed:
		return "Failed"
	}

	return "Unknown"
}

func (e *AllFormatsExhaustedError) Error() string {
	return fmt.Sprintf("no downloadable format found for %s", e.URL)
}

// DownloadVideo ingests a single video synchronously, bounded by a hard wall
// clock. If the wall clock expires the worker goroutine is abandoned (its
// context is cancelled so the resolver subprocess dies, but we do not wait
// for it) and a timeout result is returned immediately.
func (orch *orchestrator) DownloadVideo(ctx context.Context, videoURL string) VideoResult {
	timeout := time.Duration(orch.config.VideoTimeoutSeconds) * time.Second
	workerCtx, cancel := context.WithTimeout(ctx, timeout)

	results := make(chan VideoResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- VideoResult{Message: fmt.Sprintf("video ingest panicked: %v", r)}
			}
		}()

		results <- orch.runVideoItem(workerCtx, videoURL)
	}()

	select {
	case result := <-results:
		cancel()
		return result
	case <-time.After(timeout):
		cancel()
		return VideoResult{Message: fmt.Sprintf("video ingest of %s exceeded %s wall clock", videoURL, timeout)}
	}
}

// runVideoItem walks one video through the ingest state machine:
// Pending -> Resolving -> Downloading -> Uploading -> Persisting -> Done,
// dropping to Failed from any stage. Resolving and Downloading share the
// format ladder: a probe that errors or yields null info skips the option,
// and a failed download advances to the next option rather than aborting.
func (orch *orchestrator) runVideoItem(ctx context.Context, videoURL string) VideoResult {
	state := statePending
	advance := func(next itemState) {
		log.Debugf("Video %s: %s -> %s\n", videoURL, state, next)
		state = next
	}

	outDir, err := os.MkdirTemp(orch.config.WorkDir, "harvest-video-*")
	if err != nil {
		return VideoResult{Message: fmt.Sprintf("failed to create download dir: %s", err.Error())}
	}
	defer os.RemoveAll(outDir)

	var info *resolve.MediaInfo
	for _, format := range resolve.FormatLadder {
		if ctx.Err() != nil {
			return VideoResult{Message: fmt.Sprintf("video ingest of %s cancelled: %s", videoURL, ctx.Err())}
		}

		advance(stateResolving)
		probed, err := orch.resolver.Probe(ctx, videoURL, format)
		if err != nil {
			log.Warnf("Probe of %s with format %q failed: %s\n", videoURL, format, err.Error())
			continue
		} else if probed == nil {
			log.Debugf("Format %q yields no info for %s, trying next\n", format, videoURL)
			continue
		}

		advance(stateDownloading)
		info, err = orch.resolver.Download(ctx, videoURL, format, outDir, func(percent float64, rate string) {
			log.Verbosef("Downloading %s: %.1f%% (%s)\n", videoURL, percent, rate)
		})
		if err != nil {
			log.Warnf("Download of %s with format %q failed, advancing ladder: %s\n", videoURL, format, err.Error())
			continue
		}

		break
	}

	if info == nil {
		advance(stateFailed)
		return VideoResult{Message: (&AllFormatsExhaustedError{URL: videoURL}).Error()}
	}

	localPath := filepath.Join(outDir, info.Filename)
	stat, err := os.Stat(localPath)
	if err != nil {
		advance(stateFailed)
		return VideoResult{Message: fmt.Sprintf("downloaded file missing for %s: %s", videoURL, err.Error())}
	}

	// Upload failure is terminal: without the blob there is nothing worth
	// recording, so the ladder is not retried.
	advance(stateUploading)
	objectName := blob.ObjectName(time.Now(), info.Filename)
	if err := orch.blobs.Put(ctx, objectName, localPath, contentTypeFor(info.Filename)); err != nil {
		advance(stateFailed)
		return VideoResult{Message: fmt.Sprintf("failed to upload %s: %s", videoURL, err.Error())}
	}

	advance(statePersisting)
	mediaRecord := &record.MediaRecord{
		ID:              newRecordID(),
		SourceURL:       videoURL,
		Title:           info.Title,
		DurationSeconds: info.DurationSeconds,
		Filename:        info.Filename,
		ByteSize:        stat.Size(),
		BlobObjectName:  objectName,
		DownloadedAt:    time.Now().UTC(),
		Attributes:      record.Attributes(info.Attributes),
	}
	if err := orch.records.SaveMedia(orch.db, mediaRecord); err != nil {
		advance(stateFailed)
		return VideoResult{
			Success:          true,
			Message:          fmt.Sprintf("video stored as %s but metadata write failed: %s", objectName, err.Error()),
			Filename:         info.Filename,
			PersistenceError: true,
		}
	}

	advance(stateDone)
	return VideoResult{
		Success:  true,
		Message:  fmt.Sprintf("stored as %s", objectName),
		Filename: info.Filename,
		RecordID: mediaRecord.ID,
	}
}

func contentTypeFor(filename string) string {
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}

	return "application/octet-stream"
}
