package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"poextract/internal"
	"poextract/internal/storage"
)

// MailStore keeps each fetched mail as <sha256>.eml under the raw mail dir and
// records it in the emails table.
type MailStore struct {
	db         *storage.DB
	rawMailDir string
}

func NewMailStore(db *storage.DB, rawMailDir string) *MailStore {
	return &MailStore{db: db, rawMailDir: rawMailDir}
}

// Store reports isNew=false when the same provider message was stored before.
// Known mails keep their status, so processed mails are not picked up again.
func (s *MailStore) Store(msg internal.FetchedMailMessage) (row internal.EmailRow, isNew bool, err error) {
	existing, err := s.db.GetEmailByProviderMessageID(msg.Provider, msg.MessageID)
	if err != nil {
		return internal.EmailRow{}, false, err
	}

	sum := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(sum[:])
	if err := os.MkdirAll(s.rawMailDir, 0o755); err != nil {
		return internal.EmailRow{}, false, err
	}
	rawPath := filepath.Join(s.rawMailDir, hash+".eml")
	if _, statErr := os.Stat(rawPath); os.IsNotExist(statErr) {
		if err := os.WriteFile(rawPath, msg.Raw, 0o644); err != nil {
			return internal.EmailRow{}, false, err
		}
	}

	row, err = s.db.UpsertEmail(msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawPath, internal.EmailFetched)
	return row, existing == nil, err
}
