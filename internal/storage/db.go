package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"poextract/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single connection: workers share it, so no query may run while a rows
	// cursor is still open.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS catalog_entries (
  position INTEGER PRIMARY KEY,
  internalCode TEXT NOT NULL,
  description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS documents (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  filename TEXT NOT NULL,
  mediaType TEXT NOT NULL,
  hash TEXT NOT NULL,
  rawRef TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'waiting',
  errorMsg TEXT NOT NULL DEFAULT '',
  emailId INTEGER,
  extractionJson TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(emailId) REFERENCES emails(id)
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_email ON documents(emailId);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  emailId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// ReplaceCatalog swaps the whole catalog in one transaction.
func (d *DB) ReplaceCatalog(entries []internal.CatalogEntry) error {
	return d.ImportCatalog(entries, nil)
}

// ImportCatalog replaces the catalog and writes metadata in the same
// transaction. On any error neither the catalog nor the metadata change.
func (d *DB) ImportCatalog(entries []internal.CatalogEntry, metadata map[string]string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM catalog_entries`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO catalog_entries (position, internalCode, description) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.Exec(i, e.InternalCode, e.CatalogDescription); err != nil {
			return err
		}
	}

	for key, value := range metadata {
		if _, err := tx.Exec(upsertMetadata, key, value); err != nil {
			return fmt.Errorf("catalog metadata %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (d *DB) ListCatalog() ([]internal.CatalogEntry, error) {
	rows, err := d.conn.Query(`SELECT internalCode, description FROM catalog_entries ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.CatalogEntry{}
	for rows.Next() {
		var e internal.CatalogEntry
		if err := rows.Scan(&e.InternalCode, &e.CatalogDescription); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const documentColumns = `id, filename, mediaType, hash, rawRef, status, errorMsg, emailId, createdAt, updatedAt`

func scanDocument(scan func(dest ...any) error) (internal.DocumentRow, error) {
	var row internal.DocumentRow
	var status string
	var emailID sql.NullInt64
	err := scan(&row.ID, &row.Filename, &row.MediaType, &row.Hash, &row.RawRef, &status, &row.ErrorMsg, &emailID, &row.CreatedAt, &row.UpdatedAt)
	row.Status = internal.DocumentStatus(status)
	if emailID.Valid {
		id := int(emailID.Int64)
		row.EmailID = &id
	}
	return row, err
}

func (d *DB) InsertDocument(doc internal.DocumentRow) error {
	if doc.Status == "" {
		doc.Status = internal.DocumentWaiting
	}
	_, err := d.conn.Exec(`
INSERT INTO documents (id, filename, mediaType, hash, rawRef, status, emailId)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, doc.ID, doc.Filename, doc.MediaType, doc.Hash, doc.RawRef, string(doc.Status), doc.EmailID)
	return err
}

func (d *DB) GetDocument(id string) (*internal.DocumentRow, error) {
	row, err := scanDocument(d.conn.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListDocuments returns documents in submission order. An empty status lists all.
func (d *DB) ListDocuments(status internal.DocumentStatus) ([]internal.DocumentRow, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq ASC`
	return d.queryDocuments(query, args...)
}

func (d *DB) ListDocumentsByEmail(emailID int) ([]internal.DocumentRow, error) {
	return d.queryDocuments(`SELECT `+documentColumns+` FROM documents WHERE emailId = ? ORDER BY seq ASC`, emailID)
}

func (d *DB) queryDocuments(query string, args ...any) ([]internal.DocumentRow, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.DocumentRow
	for rows.Next() {
		row, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ClaimWaitingDocuments moves up to limit waiting documents to processing and
// returns them. A limit <= 0 claims all of them.
func (d *DB) ClaimWaitingDocuments(limit int) ([]internal.DocumentRow, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + documentColumns + ` FROM documents WHERE status = 'waiting' ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := tx.Query(query)
	if err != nil {
		return nil, err
	}
	var claimed []internal.DocumentRow
	for rows.Next() {
		row, err := scanDocument(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		claimed = append(claimed, row)
	}
	_ = rows.Close()

	for i := range claimed {
		if _, err := tx.Exec(`UPDATE documents SET status = 'processing', errorMsg = '', updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, claimed[i].ID); err != nil {
			return nil, err
		}
		claimed[i].Status = internal.DocumentProcessing
		claimed[i].ErrorMsg = ""
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (d *DB) UpdateDocumentStatus(id string, status internal.DocumentStatus, errorMsg string) error {
	res, err := d.conn.Exec(`UPDATE documents SET status = ?, errorMsg = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(status), errorMsg, id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

// RequeueProcessing moves documents left in processing by an interrupted run
// back to waiting.
func (d *DB) RequeueProcessing() (int, error) {
	res, err := d.conn.Exec(`UPDATE documents SET status = 'waiting', updatedAt = CURRENT_TIMESTAMP WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SaveExtraction replaces the extraction stored in a document's slot and marks
// the document done.
func (d *DB) SaveExtraction(id string, extraction internal.Extraction) error {
	blob, err := json.Marshal(extraction)
	if err != nil {
		return err
	}
	res, err := d.conn.Exec(`
UPDATE documents SET extractionJson = ?, status = 'done', errorMsg = '', updatedAt = CURRENT_TIMESTAMP
WHERE id = ?
`, string(blob), id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

// FailDocument records an extraction failure and drops any previous extraction,
// so failed documents never reach an export.
func (d *DB) FailDocument(id string, message string) error {
	res, err := d.conn.Exec(`
UPDATE documents SET extractionJson = NULL, status = 'error', errorMsg = ?, updatedAt = CURRENT_TIMESTAMP
WHERE id = ?
`, message, id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

// ListExtractions returns every stored extraction in submission order,
// optionally restricted to the documents of one email. A document being
// re-processed keeps its previous extraction until the new one is saved or
// the attempt fails.
func (d *DB) ListExtractions(emailID *int) ([]internal.Extraction, error) {
	query := `SELECT id, filename, extractionJson FROM documents WHERE extractionJson IS NOT NULL`
	args := []any{}
	if emailID != nil {
		query += ` AND emailId = ?`
		args = append(args, *emailID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.Extraction{}
	for rows.Next() {
		var id, filename, blob string
		if err := rows.Scan(&id, &filename, &blob); err != nil {
			return nil, err
		}
		var ext internal.Extraction
		if err := json.Unmarshal([]byte(blob), &ext); err != nil {
			return nil, fmt.Errorf("decode stored extraction %s: %w", id, err)
		}
		ext.DocumentID = id
		ext.Filename = filename
		out = append(out, ext)
	}
	return out, rows.Err()
}

func (d *DB) DeleteDocument(id string) error {
	res, err := d.conn.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

func (d *DB) ClearDocuments() (int, error) {
	res, err := d.conn.Exec(`DELETE FROM documents`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (d *DB) UpsertEmail(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.EmailRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.EmailRow{}, err
	}

	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, errors.New("failed to upsert email")
	}
	return *row, nil
}

const emailColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef`

func scanEmail(scan func(dest ...any) error) (internal.EmailRow, error) {
	var row internal.EmailRow
	var subject, sender, receivedAt sql.NullString
	err := scan(&row.ID, &row.Provider, &row.MessageID, &subject, &sender, &receivedAt, &row.Hash, &row.Status, &row.RawRef)
	row.Subject = subject.String
	row.Sender = sender.String
	row.ReceivedAt = receivedAt.String
	return row, err
}

func (d *DB) GetEmailByProviderMessageID(provider, messageID string) (*internal.EmailRow, error) {
	row, err := scanEmail(d.conn.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE provider = ? AND messageId = ?`, provider, messageID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) GetEmailByID(id int) (*internal.EmailRow, error) {
	row, err := scanEmail(d.conn.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListEmailsByStatus returns up to limit mails, oldest first. An empty provider
// matches every provider.
func (d *DB) ListEmailsByStatus(status, provider string, limit int) ([]internal.EmailRow, error) {
	rows, err := d.conn.Query(`
SELECT `+emailColumns+` FROM emails
WHERE status = ? AND (? = '' OR provider = ?)
ORDER BY receivedAt ASC, id ASC
LIMIT ?
`, status, provider, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.EmailRow
	for rows.Next() {
		row, err := scanEmail(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateEmailStatus(emailID int, status string) error {
	_, err := d.conn.Exec(`UPDATE emails SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, emailID)
	return err
}

func (d *DB) MustEmailByProviderMessageID(provider, messageID string) (internal.EmailRow, error) {
	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, fmt.Errorf("email not found: provider=%s messageId=%s", provider, messageID)
	}
	return *row, nil
}

func (d *DB) InsertRun(traceID string, emailID *int, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, emailId, timingsJson, countsJson) VALUES (?, ?, ?, ?)`, traceID, emailID, string(timingsJSON), string(countsJSON))
	return err
}

const upsertMetadata = `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(upsertMetadata, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return &value, nil
}
