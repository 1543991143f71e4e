package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mbeavitt/Harvest/internal/blob"
	"github.com/mbeavitt/Harvest/internal/discover"
	"github.com/mbeavitt/Harvest/internal/record"
	"golang.org/x/sync/errgroup"
)

func (orch *orchestrator) searchSeed(keyword string) string {
	return discover.SearchQueryURL(keyword)
}

// ingestSeed processes one document seed: a direct PDF URL is fetched as-is
// with no discovery round-trip, while any other page is scraped for PDF
// links first. Discovered links are deduplicated in order, capped, then
// fetched concurrently under the configured parallelism with a fresh limiter
// per seed. A failed link never aborts its siblings.
func (orch *orchestrator) ingestSeed(ctx context.Context, seedURL string) {
	var links []string
	if isPdfURL(seedURL) {
		links = []string{seedURL}
	} else {
		links = dedupAndCap(orch.discoverer.DiscoverLinks(ctx, seedURL), orch.config.MaxLinksPerSeed)
	}

	if len(links) == 0 {
		log.Infof("No document links found for seed %s\n", seedURL)
		return
	}

	linkTimeout := time.Duration(orch.config.LinkTimeoutSeconds) * time.Second

	group := &errgroup.Group{}
	group.SetLimit(orch.config.DocumentParallelism)
	for _, link := range links {
		link := link
		group.Go(func() error {
			linkCtx, cancel := context.WithTimeout(ctx, linkTimeout)
			defer cancel()

			if err := orch.ingestDocument(linkCtx, link, seedURL); err != nil {
				log.Errorf("Document ingest of %s failed: %s\n", link, err.Error())
			}

			// Sibling links always proceed.
			return nil
		})
	}
	group.Wait()

	log.Infof("Seed %s complete (%d link(s) processed)\n", seedURL, len(links))
}

// ingestDocument fetches one PDF link, uploads the bytes, and upserts the
// metadata record, stamping where the link was discovered. The scratch file
// is removed on every path.
func (orch *orchestrator) ingestDocument(ctx context.Context, link string, seedURL string) error {
	file, err := orch.fetcher.Fetch(ctx, link)
	if err != nil {
		return err
	}
	defer file.Cleanup()

	objectName := blob.ObjectName(time.Now(), file.Path)
	if err := orch.blobs.Put(ctx, objectName, file.Path, "application/pdf"); err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}

	doc := &record.DocumentRecord{
		ID:             newRecordID(),
		SourceURL:      link,
		Filename:       contentFilename(file.Path),
		ByteSize:       file.Size,
		BlobObjectName: objectName,
		DownloadedAt:   time.Now().UTC(),
		Attributes: record.Attributes{
			"downloaded":       true,
			"discovery_source": seedURL,
		},
	}
	if err := orch.records.SaveDocument(orch.db, doc); err != nil {
		return fmt.Errorf("failed to persist document record: %w", err)
	}

	log.Infof("Document %s stored as %s (%d bytes)\n", link, objectName, file.Size)
	return nil
}

// dedupAndCap removes duplicate links while preserving first-seen order,
// then truncates to the per-seed cap.
func dedupAndCap(links []string, limit int) []string {
	seen := make(map[string]struct{}, len(links))
	unique := make([]string, 0, len(links))
	for _, link := range links {
		if _, exists := seen[link]; exists {
			continue
		}

		seen[link] = struct{}{}
		unique = append(unique, link)
	}

	if limit > 0 && len(unique) > limit {
		unique = unique[:limit]
	}

	return unique
}

func contentFilename(path string) string {
	return filepath.Base(path)
}
