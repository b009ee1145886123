package docs

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/edgelearn/lti-tutor/internal/db"
	"github.com/edgelearn/lti-tutor/internal/storage"
)

// ErrNotFound is returned for unknown document ids.
var ErrNotFound = errors.New("document not found")

// Document is one uploaded course file attached to a resource link.
type Document struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	Filename   string    `json:"filename"`
	NumChunks  int       `json:"num_chunks"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store ingests documents: the raw blob goes to the blob store, extracted
// chunks to SQL for retrieval.
type Store struct {
	DB    *db.DB
	Blobs storage.BlobStore
	Now   func() time.Time
}

func NewStore(d *db.DB, blobs storage.BlobStore) *Store {
	return &Store{DB: d, Blobs: blobs}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Ingest stores the file and indexes its chunks. Files whose text yields no
// usable chunks are still stored; they just never surface in retrieval.
func (s *Store) Ingest(ctx context.Context, resourceID, filename string, r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("docs: read upload: %w", err)
	}

	doc := Document{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		Filename:   filename,
		UploadedAt: s.now().UTC(),
	}
	blobKey := fmt.Sprintf("docs/%s/%s", resourceID, doc.ID)
	if _, err := s.Blobs.Put(ctx, blobKey, bytes.NewReader(data)); err != nil {
		return Document{}, fmt.Errorf("docs: store blob: %w", err)
	}

	chunks := Chunk(ExtractText(filename, data))
	doc.NumChunks = len(chunks)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO documents (id, resource_id, filename, blob_key, num_chunks, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.ResourceID, doc.Filename, blobKey, doc.NumChunks, doc.UploadedAt.Unix())
	if err != nil {
		_ = s.Blobs.Delete(ctx, blobKey)
		return Document{}, fmt.Errorf("docs: insert: %w", err)
	}
	for i, c := range chunks {
		_, err = tx.ExecContext(ctx, s.DB.Rebind(`
INSERT INTO document_chunks (doc_id, resource_id, seq, content) VALUES (?, ?, ?, ?)`),
			doc.ID, doc.ResourceID, i, c)
		if err != nil {
			_ = s.Blobs.Delete(ctx, blobKey)
			return Document{}, fmt.Errorf("docs: insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		_ = s.Blobs.Delete(ctx, blobKey)
		return Document{}, err
	}
	return doc, nil
}

// List returns a resource's documents, newest first.
func (s *Store) List(ctx context.Context, resourceID string) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, s.DB.Rebind(`
SELECT id, resource_id, filename, num_chunks, uploaded_at
FROM documents WHERE resource_id = ? ORDER BY uploaded_at DESC`), resourceID)
	if err != nil {
		return nil, fmt.Errorf("docs: list: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d          Document
			uploadedAt int64
		)
		if err := rows.Scan(&d.ID, &d.ResourceID, &d.Filename, &d.NumChunks, &uploadedAt); err != nil {
			return nil, err
		}
		d.UploadedAt = time.Unix(uploadedAt, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes a document, its chunks and its blob. The resource id must
// match so one link's instructor cannot delete another's files.
func (s *Store) Delete(ctx context.Context, resourceID, docID string) error {
	var blobKey string
	err := s.DB.QueryRowContext(ctx, s.DB.Rebind(
		`SELECT blob_key FROM documents WHERE id = ? AND resource_id = ?`),
		docID, resourceID).Scan(&blobKey)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("docs: delete lookup: %w", err)
	}

	// chunks go via ON DELETE CASCADE
	if _, err := s.DB.ExecContext(ctx, s.DB.Rebind(
		`DELETE FROM documents WHERE id = ? AND resource_id = ?`), docID, resourceID); err != nil {
		return fmt.Errorf("docs: delete: %w", err)
	}
	if err := s.Blobs.Delete(ctx, blobKey); err != nil {
		return fmt.Errorf("docs: delete blob: %w", err)
	}
	return nil
}
