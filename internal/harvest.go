package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mbeavitt/Harvest/internal/api"
	"github.com/mbeavitt/Harvest/internal/blob"
	"github.com/mbeavitt/Harvest/internal/database"
	"github.com/mbeavitt/Harvest/internal/discover"
	"github.com/mbeavitt/Harvest/internal/fetch"
	"github.com/mbeavitt/Harvest/internal/ingest"
	"github.com/mbeavitt/Harvest/internal/record"
	"github.com/mbeavitt/Harvest/internal/resolve"
	"github.com/mbeavitt/Harvest/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// ScrapeService is the ingest orchestrator as seen by the API layer.
	ScrapeService interface {
		RunnableService
		Submit(batch ingest.BatchRequest) ingest.BatchReceipt
		DownloadVideo(ctx context.Context, url string) ingest.VideoResult
	}
)

// Harvest represents the top-level object for the server, responsible for
// connecting the database and blob storage and bringing up the ingest
// orchestrator and REST gateway.
type harvestImpl struct {
	config HarvestConfig

	db          database.Manager
	blobStore   *blob.Store
	recordStore *record.Store

	scrapeService ScrapeService
	restGateway   RunnableService

	crashMutex sync.Mutex
	crashErr   error
}

func New(config HarvestConfig) *harvestImpl {
	log.Debugf("Bootstrapping Harvest services using config: %#v\n", config)
	return &harvestImpl{
		config:      config,
		db:          database.New(),
		recordStore: record.NewStore(),
	}
}

// Run brings up all of Harvest: the database connection (and migrations),
// the blob bucket, the ingest orchestrator, and the REST gateway. It does
// not return until the provided context is cancelled or a service crashes.
func (harvest *harvestImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Fatalf("Service crash (%s)! %s\n", label, err.Error())
		harvest.recordCrash(label, err)
		cancel()
	}

	if err := os.MkdirAll(harvest.config.Ingest.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work dir %s: %w", harvest.config.Ingest.WorkDir, err)
	}

	log.Infof("Connecting to database...\n")
	if err := harvest.db.Connect(harvest.config.Database); err != nil {
		return err
	}

	log.Infof("Connecting to blob storage...\n")
	blobStore, err := blob.NewStore(harvest.config.Blob)
	if err != nil {
		return err
	}
	if err := blobStore.EnsureBucket(ctx); err != nil {
		return err
	}
	harvest.blobStore = blobStore

	sqlxDb := harvest.db.GetSqlxDb()
	harvest.scrapeService = ingest.New(
		harvest.config.Ingest,
		sqlxDb,
		discover.New(time.Second*30, harvest.config.Ingest.DeniedHosts),
		fetch.New(harvest.config.Ingest.WorkDir),
		harvest.blobStore,
		harvest.recordStore,
		resolve.NewYtDlp(harvest.config.YtDlpPath),
	)

	harvest.restGateway = api.NewRestGateway(
		&harvest.config.Rest,
		harvest.scrapeService,
		newDataAccess(sqlxDb, harvest.recordStore, harvest.blobStore),
	)

	wg := &sync.WaitGroup{}
	harvest.spawnAsyncService(ctx, wg, harvest.scrapeService, "scrape-service", crashHandler)
	harvest.spawnAsyncService(ctx, wg, harvest.restGateway, "rest-gateway", crashHandler)
	log.Infof("Harvest services spawned!\n")

	wg.Wait()
	return harvest.crashError()
}

// recordCrash retains the first service crash so Run can report it; later
// crashes are cascade failures of the shutdown the first one triggered.
func (harvest *harvestImpl) recordCrash(label string, err error) {
	harvest.crashMutex.Lock()
	defer harvest.crashMutex.Unlock()

	if harvest.crashErr == nil {
		harvest.crashErr = fmt.Errorf("service crash (%s): %w", label, err)
	}
}

func (harvest *harvestImpl) crashError() error {
	harvest.crashMutex.Lock()
	defer harvest.crashMutex.Unlock()

	return harvest.crashErr
}

// spawnAsyncService runs the provided service as its own goroutine, ensuring
// the service waitgroup is updated correctly and panics are routed to the
// crash handler.
func (harvest *harvestImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Infof("Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// dataAccess adapts the record store (which operates against an explicit
// database handle) and the blob store to the read-only surface the API
// controllers require.
type dataAccess struct {
	db      *sqlx.DB
	records *record.Store
	blobs   *blob.Store
}

func newDataAccess(db *sqlx.DB, records *record.Store, blobs *blob.Store) *dataAccess {
	return &dataAccess{db: db, records: records, blobs: blobs}
}

func (access *dataAccess) GetAllMedia() ([]*record.MediaRecord, error) {
	return access.records.GetAllMedia(access.db)
}

func (access *dataAccess) GetMediaByID(id uuid.UUID) (*record.MediaRecord, error) {
	return access.records.GetMediaByID(access.db, id)
}

func (access *dataAccess) GetAllDocuments() ([]*record.DocumentRecord, error) {
	return access.records.GetAllDocuments(access.db)
}

func (access *dataAccess) GetDocumentByID(id uuid.UUID) (*record.DocumentRecord, error) {
	return access.records.GetDocumentByID(access.db, id)
}

func (access *dataAccess) OpenBlob(ctx context.Context, objectName string) (io.ReadCloser, error) {
	return access.blobs.Get(ctx, objectName)
}
