package connectors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poextract/internal"
	"poextract/internal/storage"
)

const rawMail = "Message-ID: <ne-12@cm-exemplo.pt>\r\n" +
	"From: Compras <compras@cm-exemplo.pt>\r\n" +
	"Subject: =?UTF-8?Q?Nota_de_encomenda_n.=C2=BA_12?=\r\n" +
	"Date: Mon, 09 Feb 2026 10:15:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
	"Segue nota de encomenda.\r\n"

type stubConnector struct {
	messages []internal.FetchedMailMessage
	err      error
}

func (s *stubConnector) Provider() string { return "stub" }

func (s *stubConnector) FetchInbox(_ context.Context, _ string, max int) ([]internal.FetchedMailMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if max > 0 && len(s.messages) > max {
		return s.messages[:max], nil
	}
	return s.messages, nil
}

func TestMessageFromRaw(t *testing.T) {
	msg := MessageFromRaw("imap", "imap-7", []byte(rawMail), time.Time{})
	assert.Equal(t, "imap", msg.Provider)
	assert.Equal(t, "<ne-12@cm-exemplo.pt>", msg.MessageID)
	assert.Equal(t, "Nota de encomenda n.º 12", msg.Subject)
	assert.Contains(t, msg.From, "compras@cm-exemplo.pt")
	assert.Equal(t, "2026-02-09T10:15:00Z", msg.ReceivedAt)

	received := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	msg = MessageFromRaw("gmail", "18d2f", []byte("Subject: hi\r\n\r\nbody"), received)
	assert.Equal(t, "18d2f", msg.MessageID)
	assert.Equal(t, "2026-02-10T08:00:00Z", msg.ReceivedAt)
}

func TestFetchAndStore(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	defer db.Close()

	first := MessageFromRaw("stub", "s-1", []byte(rawMail), time.Time{})
	second := MessageFromRaw("stub", "s-2", []byte("Subject: other\r\n\r\nx"), time.Now())
	conn := &stubConnector{messages: []internal.FetchedMailMessage{first, second}}
	svc := NewFetchService(db, filepath.Join(tmp, "raw"), conn)

	res, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{Fetched: 2, Stored: 2}, res)

	row, err := db.GetEmailByProviderMessageID("stub", "<ne-12@cm-exemplo.pt>")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, internal.EmailFetched, row.Status)
	blob, err := os.ReadFile(row.RawRef)
	require.NoError(t, err)
	assert.Equal(t, rawMail, string(blob))

	require.NoError(t, db.UpdateEmailStatus(row.ID, internal.EmailProcessed))
	res, err = svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{Fetched: 2, Known: 2}, res)

	row, err = db.GetEmailByID(row.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailProcessed, row.Status)
}

func TestFetchAndStoreWrapsConnectorErrors(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection refused")
	svc := NewFetchService(db, t.TempDir(), &stubConnector{err: boom})
	_, err = svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "fetch stub")
}
