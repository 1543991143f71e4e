package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbeavitt/Harvest/internal/database"
	"github.com/mbeavitt/Harvest/internal/fetch"
	"github.com/mbeavitt/Harvest/internal/record"
	"github.com/mbeavitt/Harvest/internal/resolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	fakeDiscoverer struct {
		calls int32
		links []string
	}

	fakeFetcher struct {
		mutex      sync.Mutex
		inFlight   int32
		maxSeen    int32
		delay      time.Duration
		blockOnCtx bool
		err        error
		fetched    []string
		workDir    string
	}

	fakeBlobs struct {
		mutex sync.Mutex
		puts  []string
		err   error
	}

	fakeRecords struct {
		mu        sync.Mutex
		media     []*record.MediaRecord
		documents []*record.DocumentRecord
		mediaErr  error
	}

	fakeResolver struct {
		probeResults map[string]*resolve.MediaInfo
		probeErrs    map[string]error
		downloadErrs map[string]error
		block        bool
	}
)

func (d *fakeDiscoverer) DiscoverLinks(_ context.Context, _ string) []string {
	atomic.AddInt32(&d.calls, 1)
	return d.links
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.TempFile, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mutex.Lock()
	if current > f.maxSeen {
		f.maxSeen = current
	}
	f.fetched = append(f.fetched, url)
	f.mutex.Unlock()

	if f.blockOnCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}

	dir, err := os.MkdirTemp(f.workDir, "fake-fetch-*")
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7"), 0644); err != nil {
		return nil, err
	}

	return &fetch.TempFile{Path: path, Size: 8}, nil
}

func (b *fakeBlobs) Put(_ context.Context, objectName string, _ string, _ string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.err != nil {
		return b.err
	}

	b.puts = append(b.puts, objectName)
	return nil
}

func (r *fakeRecords) SaveMedia(_ database.Queryable, media *record.MediaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mediaErr != nil {
		return r.mediaErr
	}

	r.media = append(r.media, media)
	return nil
}

func (r *fakeRecords) SaveDocument(_ database.Queryable, doc *record.DocumentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.documents = append(r.documents, doc)
	return nil
}

func (r *fakeResolver) Probe(ctx context.Context, _ string, format string) (*resolve.MediaInfo, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := r.probeErrs[format]; ok {
		return nil, err
	}

	return r.probeResults[format], nil
}

func (r *fakeResolver) Download(ctx context.Context, url string, format string, outDir string, _ resolve.ProgressFunc) (*resolve.MediaInfo, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := r.downloadErrs[format]; ok {
		return nil, err
	}

	info, err := r.Probe(ctx, url, format)
	if err != nil || info == nil {
		return nil, errors.New("no info for format")
	}

	out := *info
	out.Filename = "clip.mp4"
	if err := os.WriteFile(filepath.Join(outDir, out.Filename), []byte("video-bytes"), 0644); err != nil {
		return nil, err
	}

	return &out, nil
}

func testConfig(t *testing.T) Config {
	return Config{
		MediaHosts:          []string{"youtube.com", "youtu.be", "vimeo.com"},
		MaxLinksPerSeed:     5,
		DocumentParallelism: 3,
		LinkTimeoutSeconds:  1,
		VideoTimeoutSeconds: 1,
		WorkDir:             t.TempDir(),
	}
}

func newTestOrchestrator(t *testing.T, discoverer *fakeDiscoverer, fetcher *fakeFetcher, blobs *fakeBlobs, records *fakeRecords, resolver *fakeResolver) *orchestrator {
	config := testConfig(t)
	if fetcher != nil {
		fetcher.workDir = config.WorkDir
	}

	return New(config, nil, discoverer, fetcher, blobs, records, resolver)
}

func Test_ClassifyURL(t *testing.T) {
	mediaHosts := []string{"youtube.com", "youtu.be"}

	tests := []struct {
		URL      string
		Expected urlClass
	}{
		{"https://example.com/paper.pdf", classDocument},
		{"https://example.com/papers/Paper.PDF", classDocument},
		{"https://www.youtube.com/watch?v=abc", classVideo},
		{"https://youtu.be/abc", classVideo},
		{"https://example.com/blog/post", classSeed},
		{"not a url", classMalformed},
		{"ftp://example.com/paper.pdf", classMalformed},
	}

	for _, test := range tests {
		assert.Equal(t, test.Expected, classifyURL(test.URL, mediaHosts), "url %s", test.URL)
	}
}

func Test_Submit_NothingSchedulable(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeDiscoverer{}, &fakeFetcher{}, &fakeBlobs{}, &fakeRecords{}, &fakeResolver{})

	receipt := orch.Submit(BatchRequest{URLs: []string{"not a url"}, Keywords: []string{"  "}})
	assert.Equal(t, "error", receipt.Status)
}

func Test_Submit_SchedulesAndReturnsImmediately(t *testing.T) {
	discoverer := &fakeDiscoverer{}
	fetcher := &fakeFetcher{}
	blobs := &fakeBlobs{}
	records := &fakeRecords{}
	orch := newTestOrchestrator(t, discoverer, fetcher, blobs, records, &fakeResolver{})

	receipt := orch.Submit(BatchRequest{URLs: []string{"https://example.com/paper.pdf"}})
	require.Equal(t, "started", receipt.Status)

	// The receipt arrives before the work completes; drain the background
	// workers before asserting on side effects.
	orch.wg.Wait()

	records.mu.Lock()
	defer records.mu.Unlock()
	require.Len(t, records.documents, 1)
	assert.Equal(t, "https://example.com/paper.pdf", records.documents[0].SourceURL)
}

func Test_IngestSeed_DirectPdfSkipsDiscovery(t *testing.T) {
	discoverer := &fakeDiscoverer{links: []string{"https://example.com/should-not-appear.pdf"}}
	fetcher := &fakeFetcher{}
	orch := newTestOrchestrator(t, discoverer, fetcher, &fakeBlobs{}, &fakeRecords{}, &fakeResolver{})

	orch.ingestSeed(context.Background(), "https://example.com/direct.pdf")

	assert.Zero(t, atomic.LoadInt32(&discoverer.calls))
	assert.Equal(t, []string{"https://example.com/direct.pdf"}, fetcher.fetched)
}

func Test_IngestSeed_RecordsDownloadedAndDiscoverySource(t *testing.T) {
	seedPage := "https://example.com/reading-list"
	discoverer := &fakeDiscoverer{links: []string{"https://files.example.com/one.pdf"}}
	records := &fakeRecords{}
	orch := newTestOrchestrator(t, discoverer, &fakeFetcher{}, &fakeBlobs{}, records, &fakeResolver{})

	orch.ingestSeed(context.Background(), seedPage)

	records.mu.Lock()
	defer records.mu.Unlock()
	require.Len(t, records.documents, 1)
	assert.Equal(t, true, records.documents[0].Attributes["downloaded"])
	assert.Equal(t, seedPage, records.documents[0].Attributes["discovery_source"])
}

func Test_IngestSeed_DirectPdfIsItsOwnDiscoverySource(t *testing.T) {
	directPdf := "https://example.com/direct.pdf"
	records := &fakeRecords{}
	orch := newTestOrchestrator(t, &fakeDiscoverer{}, &fakeFetcher{}, &fakeBlobs{}, records, &fakeResolver{})

	orch.ingestSeed(context.Background(), directPdf)

	records.mu.Lock()
	defer records.mu.Unlock()
	require.Len(t, records.documents, 1)
	assert.Equal(t, true, records.documents[0].Attributes["downloaded"])
	assert.Equal(t, directPdf, records.documents[0].Attributes["discovery_source"])
}

func Test_IngestSeed_CapsAndDedupsLinks(t *testing.T) {
	discoverer := &fakeDiscoverer{links: []string{
		"https://example.com/a.pdf",
		"https://example.com/a.pdf",
		"https://example.com/b.pdf",
		"https://example.com/c.pdf",
		"https://example.com/d.pdf",
		"https://example.com/e.pdf",
		"https://example.com/f.pdf",
		"https://example.com/g.pdf",
	}}
	fetcher := &fakeFetcher{}
	orch := newTestOrchestrator(t, discoverer, fetcher, &fakeBlobs{}, &fakeRecords{}, &fakeResolver{})

	orch.ingestSeed(context.Background(), "https://example.com/links")

	fetcher.mutex.Lock()
	defer fetcher.mutex.Unlock()
	assert.Len(t, fetcher.fetched, 5)
	assert.ElementsMatch(t, []string{
		"https://example.com/a.pdf",
		"https://example.com/b.pdf",
		"https://example.com/c.pdf",
		"https://example.com/d.pdf",
		"https://example.com/e.pdf",
	}, fetcher.fetched)
}

func Test_IngestSeed_ConcurrencyBounded(t *testing.T) {
	discoverer := &fakeDiscoverer{links: []string{
		"https://example.com/a.pdf",
		"https://example.com/b.pdf",
		"https://example.com/c.pdf",
		"https://example.com/d.pdf",
		"https://example.com/e.pdf",
	}}
	fetcher := &fakeFetcher{delay: time.Millisecond * 50}
	orch := newTestOrchestrator(t, discoverer, fetcher, &fakeBlobs{}, &fakeRecords{}, &fakeResolver{})

	orch.ingestSeed(context.Background(), "https://example.com/links")

	fetcher.mutex.Lock()
	defer fetcher.mutex.Unlock()
	assert.LessOrEqual(t, fetcher.maxSeen, int32(3))
	assert.Len(t, fetcher.fetched, 5)
}

func Test_IngestSeed_SlowLinksTimeOutInParallel(t *testing.T) {
	discoverer := &fakeDiscoverer{links: []string{
		"https://example.com/a.pdf",
		"https://example.com/b.pdf",
		"https://example.com/c.pdf",
	}}
	fetcher := &fakeFetcher{blockOnCtx: true}
	orch := newTestOrchestrator(t, discoverer, fetcher, &fakeBlobs{}, &fakeRecords{}, &fakeResolver{})

	start := time.Now()
	orch.ingestSeed(context.Background(), "https://example.com/links")
	elapsed := time.Since(start)

	// Three hanging links under a 1s per-link budget and parallelism 3
	// should complete in roughly one budget, not three.
	assert.Less(t, elapsed, time.Millisecond*2500)
}

func Test_IngestSeed_FailedLinkDoesNotAbortSiblings(t *testing.T) {
	discoverer := &fakeDiscoverer{links: []string{
		"https://example.com/a.pdf",
		"https://example.com/b.pdf",
	}}
	fetcher := &fakeFetcher{err: &fetch.ContentTypeError{URL: "x", ContentType: "text/html"}}
	blobs := &fakeBlobs{}
	records := &fakeRecords{}
	orch := newTestOrchestrator(t, discoverer, fetcher, blobs, records, &fakeResolver{})

	orch.ingestSeed(context.Background(), "https://example.com/links")

	fetcher.mutex.Lock()
	fetchedCount := len(fetcher.fetched)
	fetcher.mutex.Unlock()
	assert.Equal(t, 2, fetchedCount)

	// Rejected payloads never reach the blob store.
	assert.Empty(t, blobs.puts)
	assert.Empty(t, records.documents)
}

func Test_DownloadVideo_FormatLadderFallback(t *testing.T) {
	info := &resolve.MediaInfo{
		Title:           "A Talk",
		DurationSeconds: 300,
		Attributes:      map[string]any{"format_used": resolve.FormatLadder[2]},
	}
	resolver := &fakeResolver{
		probeErrs:    map[string]error{resolve.FormatLadder[0]: errors.New("probe refused")},
		probeResults: map[string]*resolve.MediaInfo{resolve.FormatLadder[2]: info},
	}
	blobs := &fakeBlobs{}
	records := &fakeRecords{}
	orch := newTestOrchestrator(t, &fakeDiscoverer{}, &fakeFetcher{}, blobs, records, resolver)

	result := orch.DownloadVideo(context.Background(), "https://www.youtube.com/watch?v=abc")

	require.True(t, result.Success)
	assert.False(t, result.PersistenceError)
	assert.Equal(t, "clip.mp4", result.Filename)

	// Only the succeeding ladder option uploads anything.
	require.Len(t, blobs.puts, 1)
	require.Len(t, records.media, 1)
	assert.Equal(t, resolve.FormatLadder[2], records.media[0].Attributes["format_used"])
	assert.Equal(t, records.media[0].ID, result.RecordID)
}

func Test_DownloadVideo_DownloadFailureAdvancesLadder(t *testing.T) {
	info := func(format string) *resolve.MediaInfo {
		return &resolve.MediaInfo{Title: "A Talk", Attributes: map[string]any{"format_used": format}}
	}
	resolver := &fakeResolver{
		probeResults: map[string]*resolve.MediaInfo{
			resolve.FormatLadder[0]: info(resolve.FormatLadder[0]),
			resolve.FormatLadder[1]: info(resolve.FormatLadder[1]),
		},
		downloadErrs: map[string]error{resolve.FormatLadder[0]: errors.New("fragment error")},
	}
	records := &fakeRecords{}
	orch := newTestOrchestrator(t, &fakeDiscoverer{}, &fakeFetcher{}, &fakeBlobs{}, records, resolver)

	result := orch.DownloadVideo(context.Background(), "https://www.youtube.com/watch?v=abc")

	require.True(t, result.Success)
	require.Len(t, records.media, 1)
	assert.Equal(t, resolve.FormatLadder[1], records.media[0].Attributes["format_used"])
}

func Test_DownloadVideo_AllFormatsExhausted(t *testing.T) {
	resolver := &fakeResolver{} // every probe yields nil info
	blobs := &fakeBlobs{}
	orch := newTestOrchestrator(t, &fakeDiscoverer{}, &fakeFetcher{}, blobs, &fakeRecords{}, resolver)

	result := orch.DownloadVideo(context.Background(), "https://www.youtube.com/watch?v=abc")

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "no downloadable format")
	assert.Empty(t, blobs.puts)
}

func Test_DownloadVideo_HardTimeout(t *testing.T) {
	resolver := &fakeResolver{block: true}
	orch := newTestOrchestrator(t, &fakeDiscoverer{}, &fakeFetcher{}, &fakeBlobs{}, &fakeRecords{}, resolver)

	start := time.Now()
	result := orch.DownloadVideo(context.Background(), "https://www.youtube.com/watch?v=abc")
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Less(t, elapsed, time.Second*3)
}

func Test_DownloadVideo_PersistenceFailureReportedDistinctly(t *testing.T) {
	info := &resolve.MediaInfo{Title: "A Talk", Attributes: map[string]any{}}
	resolver := &fakeResolver{
		probeResults: map[string]*resolve.MediaInfo{resolve.FormatLadder[0]: info},
	}
	records := &fakeRecords{mediaErr: errors.New("connection refused")}
	blobs := &fakeBlobs{}
	orch := newTestOrchestrator(t, &fakeDiscoverer{}, &fakeFetcher{}, blobs, records, resolver)

	result := orch.DownloadVideo(context.Background(), "https://www.youtube.com/watch?v=abc")

	// The bytes made it to blob storage; only the metadata write failed.
	assert.True(t, result.Success)
	assert.True(t, result.PersistenceError)
	assert.Len(t, blobs.puts, 1)
	assert.Contains(t, result.Message, "metadata write failed")
}

func Test_DedupAndCap(t *testing.T) {
	links := []string{"a", "b", "a", "c", "b", "d"}
	assert.Equal(t, []string{"a", "b", "c"}, dedupAndCap(links, 3))
	assert.Equal(t, []string{"a", "b", "c", "d"}, dedupAndCap(links, 0))
}
