package record

import (
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mbeavitt/Harvest/internal/database"
	"github.com/mbeavitt/Harvest/pkg/logger"
)

var (
	ErrMediaNotFound    = errors.New("media record does not exist")
	ErrDocumentNotFound = errors.New("document record does not exist")
)

var log = logger.Get("RecordStore")

type (
	mediaModel struct {
		ID              uuid.UUID                       `db:"id"`
		SourceURL       string                          `db:"source_url"`
		Title           string                          `db:"title"`
		DurationSeconds int                             `db:"duration_seconds"`
		Filename        string                          `db:"filename"`
		ByteSize        int64                           `db:"byte_size"`
		BlobObjectName  string                          `db:"blob_object_name"`
		DownloadedAt    pq.NullTime                     `db:"downloaded_at"`
		Attributes      database.JsonColumn[Attributes] `db:"attributes"`
	}

	documentModel struct {
		ID             uuid.UUID                       `db:"id"`
		SourceURL      string                          `db:"source_url"`
		Filename       string                          `db:"filename"`
		ByteSize       int64                           `db:"byte_size"`
		BlobObjectName string                          `db:"blob_object_name"`
		DownloadedAt   pq.NullTime                     `db:"downloaded_at"`
		Attributes     database.JsonColumn[Attributes] `db:"attributes"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

// SaveMedia persists the provided record. The source URL is the unique key
// for the table: a second ingest of a URL that is already known must not
// create a second row. Instead the existing row is read back, its attribute
// map is shallow-merged underneath the new one (new keys win), every other
// column except the identifier is overwritten, and the downloaded-at stamp
// refreshed. The record's ID is updated in place to reflect the row that
// was actually written.
func (store *Store) SaveMedia(db database.Queryable, media *MediaRecord) error {
	_, err := db.Exec(`
		INSERT INTO media_records(id, source_url, title, duration_seconds, filename, byte_size, blob_object_name, downloaded_at, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, media.ID, media.SourceURL, media.Title, media.DurationSeconds, media.Filename,
		media.ByteSize, media.BlobObjectName, media.DownloadedAt, database.NewJsonColumn(&media.Attributes))
	if err == nil {
		return nil
	} else if !isUniqueViolation(err) {
		return fmt.Errorf("failed to insert media record: %w", err)
	}

	existing, getErr := store.GetMediaBySourceURL(db, media.SourceURL)
	if getErr != nil {
		// Raced with a concurrent delete/rollback between the conflict and
		// the read-back. Fall back to an idempotent upsert-by-key and re-read.
		log.Warnf("Duplicate-key signal for %s but existing row unreadable (%s); falling back to upsert\n", media.SourceURL, getErr.Error())
		return store.upsertMediaByKey(db, media)
	}

	media.ID = existing.ID
	media.Attributes = mergeAttributes(existing.Attributes, media.Attributes)

	_, err = db.Exec(`
		UPDATE media_records
		SET title=$2, duration_seconds=$3, filename=$4, byte_size=$5, blob_object_name=$6, downloaded_at=$7, attributes=$8
		WHERE id=$1
	`, media.ID, media.Title, media.DurationSeconds, media.Filename, media.ByteSize,
		media.BlobObjectName, media.DownloadedAt, database.NewJsonColumn(&media.Attributes))
	if err != nil {
		return fmt.Errorf("failed to merge media record %s: %w", media.SourceURL, err)
	}

	return nil
}

// upsertMediaByKey recovers from a lost race: the JSONB concatenation
// performs the same new-keys-win merge server-side, making the write safe
// to repeat.
func (store *Store) upsertMediaByKey(db database.Queryable, media *MediaRecord) error {
	_, err := db.Exec(`
		INSERT INTO media_records(id, source_url, title, duration_seconds, filename, byte_size, blob_object_name, downloaded_at, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_url) DO UPDATE
		SET title=EXCLUDED.title, duration_seconds=EXCLUDED.duration_seconds, filename=EXCLUDED.filename,
			byte_size=EXCLUDED.byte_size, blob_object_name=EXCLUDED.blob_object_name,
			downloaded_at=EXCLUDED.downloaded_at, attributes=media_records.attributes || EXCLUDED.attributes
	`, media.ID, media.SourceURL, media.Title, media.DurationSeconds, media.Filename,
		media.ByteSize, media.BlobObjectName, media.DownloadedAt, database.NewJsonColumn(&media.Attributes))
	if err != nil {
		return fmt.Errorf("failed to upsert media record %s: %w", media.SourceURL, err)
	}

	written, err := store.GetMediaBySourceURL(db, media.SourceURL)
	if err != nil {
		return fmt.Errorf("failed to re-read media record %s after upsert: %w", media.SourceURL, err)
	}

	*media = *written
	return nil
}

// SaveDocument persists the provided record with the same merge-on-duplicate
// contract as SaveMedia.
func (store *Store) SaveDocument(db database.Queryable, doc *DocumentRecord) error {
	_, err := db.Exec(`
		INSERT INTO document_records(id, source_url, filename, byte_size, blob_object_name, downloaded_at, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, doc.SourceURL, doc.Filename, doc.ByteSize, doc.BlobObjectName,
		doc.DownloadedAt, database.NewJsonColumn(&doc.Attributes))
	if err == nil {
		return nil
	} else if !isUniqueViolation(err) {
		return fmt.Errorf("failed to insert document record: %w", err)
	}

	existing, getErr := store.GetDocumentBySourceURL(db, doc.SourceURL)
	if getErr != nil {
		log.Warnf("Duplicate-key signal for %s but existing row unreadable (%s); falling back to upsert\n", doc.SourceURL, getErr.Error())
		return store.upsertDocumentByKey(db, doc)
	}

	doc.ID = existing.ID
	doc.Attributes = mergeAttributes(existing.Attributes, doc.Attributes)

	_, err = db.Exec(`
		UPDATE document_records
		SET filename=$2, byte_size=$3, blob_object_name=$4, downloaded_at=$5, attributes=$6
		WHERE id=$1
	`, doc.ID, doc.Filename, doc.ByteSize, doc.BlobObjectName, doc.DownloadedAt, database.NewJsonColumn(&doc.Attributes))
	if err != nil {
		return fmt.Errorf("failed to merge document record %s: %w", doc.SourceURL, err)
	}

	return nil
}

func (store *Store) upsertDocumentByKey(db database.Queryable, doc *DocumentRecord) error {
	_, err := db.Exec(`
		INSERT INTO document_records(id, source_url, filename, byte_size, blob_object_name, downloaded_at, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_url) DO UPDATE
		SET filename=EXCLUDED.filename, byte_size=EXCLUDED.byte_size, blob_object_name=EXCLUDED.blob_object_name,
			downloaded_at=EXCLUDED.downloaded_at, attributes=document_records.attributes || EXCLUDED.attributes
	`, doc.ID, doc.SourceURL, doc.Filename, doc.ByteSize, doc.BlobObjectName,
		doc.DownloadedAt, database.NewJsonColumn(&doc.Attributes))
	if err != nil {
		return fmt.Errorf("failed to upsert document record %s: %w", doc.SourceURL, err)
	}

	written, err := store.GetDocumentBySourceURL(db, doc.SourceURL)
	if err != nil {
		return fmt.Errorf("failed to re-read document record %s after upsert: %w", doc.SourceURL, err)
	}

	*doc = *written
	return nil
}

// GetAllMedia returns every downloadable media record. Rows without a blob
// object name represent partial ingests and are excluded.
func (store *Store) GetAllMedia(db database.Queryable) ([]*MediaRecord, error) {
	query, args, err := squirrel.
		Select("*").
		From("media_records").
		Where("blob_object_name <> ''").
		OrderBy("downloaded_at DESC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list media query: %w", err)
	}

	var results []mediaModel
	if err := db.Select(&results, query, args...); err != nil {
		return nil, err
	}

	output := make([]*MediaRecord, len(results))
	for k, v := range results {
		output[k] = mediaModelToRecord(&v)
	}

	return output, nil
}

func (store *Store) GetMediaByID(db database.Queryable, id uuid.UUID) (*MediaRecord, error) {
	var result mediaModel
	if err := db.Get(&result, `SELECT * FROM media_records WHERE id=$1`, id); err != nil {
		return nil, ErrMediaNotFound
	}

	return mediaModelToRecord(&result), nil
}

func (store *Store) GetMediaBySourceURL(db database.Queryable, sourceURL string) (*MediaRecord, error) {
	var result mediaModel
	if err := db.Get(&result, `SELECT * FROM media_records WHERE source_url=$1`, sourceURL); err != nil {
		return nil, ErrMediaNotFound
	}

	return mediaModelToRecord(&result), nil
}

// GetAllDocuments returns every downloadable document record.
func (store *Store) GetAllDocuments(db database.Queryable) ([]*DocumentRecord, error) {
	query, args, err := squirrel.
		Select("*").
		From("document_records").
		Where("blob_object_name <> ''").
		OrderBy("downloaded_at DESC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list documents query: %w", err)
	}

	var results []documentModel
	if err := db.Select(&results, query, args...); err != nil {
		return nil, err
	}

	output := make([]*DocumentRecord, len(results))
	for k, v := range results {
		output[k] = documentModelToRecord(&v)
	}

	return output, nil
}

func (store *Store) GetDocumentByID(db database.Queryable, id uuid.UUID) (*DocumentRecord, error) {
	var result documentModel
	if err := db.Get(&result, `SELECT * FROM document_records WHERE id=$1`, id); err != nil {
		return nil, ErrDocumentNotFound
	}

	return documentModelToRecord(&result), nil
}

func (store *Store) GetDocumentBySourceURL(db database.Queryable, sourceURL string) (*DocumentRecord, error) {
	var result documentModel
	if err := db.Get(&result, `SELECT * FROM document_records WHERE source_url=$1`, sourceURL); err != nil {
		return nil, ErrDocumentNotFound
	}

	return documentModelToRecord(&result), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

func mediaModelToRecord(model *mediaModel) *MediaRecord {
	attrs := Attributes{}
	if model.Attributes.Get() != nil {
		attrs = *model.Attributes.Get()
	}

	return &MediaRecord{
		ID:              model.ID,
		SourceURL:       model.SourceURL,
		Title:           model.Title,
		DurationSeconds: model.DurationSeconds,
		Filename:        model.Filename,
		ByteSize:        model.ByteSize,
		BlobObjectName:  model.BlobObjectName,
		DownloadedAt:    model.DownloadedAt.Time,
		Attributes:      attrs,
	}
}

func documentModelToRecord(model *documentModel) *DocumentRecord {
	attrs := Attributes{}
	if model.Attributes.Get() != nil {
		attrs = *model.Attributes.Get()
	}

	return &DocumentRecord{
		ID:             model.ID,
		SourceURL:      model.SourceURL,
		Filename:       model.Filename,
		ByteSize:       model.ByteSize,
		BlobObjectName: model.BlobObjectName,
		DownloadedAt:   model.DownloadedAt.Time,
		Attributes:     attrs,
	}
}
