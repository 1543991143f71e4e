// Package ingest coordinates scrape requests end-to-end: classifying seed
// URLs, resolving and downloading videos, discovering and fetching PDF
// documents, and persisting blobs plus metadata records.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mbeavitt/Harvest/internal/database"
	"github.com/mbeavitt/Harvest/internal/fetch"
	"github.com/mbeavitt/Harvest/internal/record"
	"github.com/mbeavitt/Harvest/internal/resolve"
	"github.com/mbeavitt/Harvest/pkg/logger"
)

var log = logger.Get("Ingest")

type (
	Config struct {
		MediaHosts          []string `yaml:"media_hosts" env:"INGEST_MEDIA_HOSTS" env-default:"youtube.com,youtu.be,vimeo.com"`
		DeniedHosts         []string `yaml:"denied_hosts" env:"INGEST_DENIED_HOSTS" env-default:"twitter.com,x.com,facebook.com,instagram.com"`
		MaxLinksPerSeed     int      `yaml:"max_links_per_seed" env:"INGEST_MAX_LINKS_PER_SEED" env-default:"5"`
		DocumentParallelism int      `yaml:"document_parallelism" env:"INGEST_DOCUMENT_PARALLELISM" env-default:"3"`
		LinkTimeoutSeconds  int      `yaml:"link_timeout_seconds" env:"INGEST_LINK_TIMEOUT_SECONDS" env-default:"60"`
		VideoTimeoutSeconds int      `yaml:"video_timeout_seconds" env:"INGEST_VIDEO_TIMEOUT_SECONDS" env-default:"300"`
		WorkDir             string   `yaml:"work_dir" env:"INGEST_WORK_DIR" env-default:"/tmp/harvest"`
	}

	// BatchRequest is one scrape submission: page/video URLs plus free-text
	// keywords which are turned into PDF search queries.
	BatchRequest struct {
		URLs     []string
		Keywords []string
	}

	// BatchReceipt acknowledges a submission. Status is "started" when at
	// least one item was scheduled, "error" when nothing in the batch was
	// ingestable. The work itself continues in the background.
	BatchReceipt struct {
		Status  string
		Message string
	}

	linkDiscoverer interface {
		DiscoverLinks(ctx context.Context, pageURL string) []string
	}

	documentFetcher interface {
		Fetch(ctx context.Context, url string) (*fetch.TempFile, error)
	}

	blobStore interface {
		Put(ctx context.Context, objectName string, localPath string, contentType string) error
	}

	recordStore interface {
		SaveMedia(db database.Queryable, media *record.MediaRecord) error
		SaveDocument(db database.Queryable, doc *record.DocumentRecord) error
	}

	orchestrator struct {
		config     Config
		db         database.Queryable
		discoverer linkDiscoverer
		fetcher    documentFetcher
		blobs      blobStore
		records    recordStore
		resolver   resolve.MediaResolver

		ctxMutex sync.Mutex
		runCtx   context.Context
		wg       sync.WaitGroup
	}
)

func New(
	config Config,
	db database.Queryable,
	discoverer linkDiscoverer,
	fetcher documentFetcher,
	blobs blobStore,
	records recordStore,
	resolver resolve.MediaResolver,
) *orchestrator {
	return &orchestrator{
		config:     config,
		db:         db,
		discoverer: discoverer,
		fetcher:    fetcher,
		blobs:      blobs,
		records:    records,
		resolver:   resolver,
	}
}

// Run blocks until the provided context is cancelled, then waits for any
// in-flight background ingests to drain.
func (orch *orchestrator) Run(ctx context.Context) error {
	orch.ctxMutex.Lock()
	orch.runCtx = ctx
	orch.ctxMutex.Unlock()

	<-ctx.Done()

	log.Infof("Shutdown requested, draining in-flight ingests...\n")
	orch.wg.Wait()
	return nil
}

// Submit classifies the batch and schedules background work for every
// ingestable item, returning immediately. Video URLs each get their own
// worker under the video wall clock; every other URL (and every keyword) is
// treated as a document seed. A receipt with status "error" is returned only
// when the batch contains nothing schedulable.
func (orch *orchestrator) Submit(batch BatchRequest) BatchReceipt {
	var videos, seeds []string
	for _, raw := range batch.URLs {
		switch classifyURL(raw, orch.config.MediaHosts) {
		case classVideo:
			videos = append(videos, raw)
		case classDocument, classSeed:
			seeds = append(seeds, raw)
		default:
			log.Warnf("Ignoring malformed URL %s\n", raw)
		}
	}

	for _, keyword := range batch.Keywords {
		if strings.TrimSpace(keyword) != "" {
			seeds = append(seeds, orch.searchSeed(keyword))
		}
	}

	if len(videos) == 0 && len(seeds) == 0 {
		return BatchReceipt{Status: "error", Message: "no ingestable URLs or keywords in request"}
	}

	ctx := orch.backgroundContext()
	for _, videoURL := range videos {
		videoURL := videoURL
		orch.spawn(func() {
			result := orch.DownloadVideo(ctx, videoURL)
			if result.Success {
				log.Infof("Video ingest of %s complete: %s\n", videoURL, result.Message)
			} else {
				log.Errorf("Video ingest of %s failed: %s\n", videoURL, result.Message)
			}
		})
	}

	for _, seed := range seeds {
		seed := seed
		orch.spawn(func() { orch.ingestSeed(ctx, seed) })
	}

	message := fmt.Sprintf("scheduled %d video(s) and %d document seed(s)", len(videos), len(seeds))
	log.Infof("Batch accepted: %s\n", message)
	return BatchReceipt{Status: "started", Message: message}
}

func (orch *orchestrator) spawn(f func()) {
	orch.wg.Add(1)
	go func() {
		defer orch.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Ingest worker panicked: %v\n", r)
			}
		}()

		f()
	}()
}

func (orch *orchestrator) backgroundContext() context.Context {
	orch.ctxMutex.Lock()
	defer orch.ctxMutex.Unlock()

	if orch.runCtx != nil {
		return orch.runCtx
	}

	return context.Background()
}

type urlClass int

const (
	classMalformed urlClass = iota
	classVideo
	classDocument
	classSeed
)

// classifyURL decides how a seed URL is ingested: direct ".pdf" paths are
// documents, URLs on an allowlisted media host are videos, and anything else
// well-formed is a discovery seed for the document path.
func classifyURL(raw string, mediaHosts []string) urlClass {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return classMalformed
	}

	if strings.HasSuffix(strings.ToLower(parsed.Path), ".pdf") {
		return classDocument
	}

	if hostMatches(parsed.Hostname(), mediaHosts) {
		return classVideo
	}

	return classSeed
}

func hostMatches(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}

		if host == candidate || strings.HasSuffix(host, "."+candidate) {
			return true
		}
	}

	return false
}

func isPdfURL(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && strings.HasSuffix(strings.ToLower(parsed.Path), ".pdf")
}

func newRecordID() uuid.UUID {
	return uuid.New()
}
