package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poextract/internal"
)

type mailPart struct {
	contentType string
	disposition string
	filename    string
	body        []byte
}

func buildMail(subject, text string, parts ...mailPart) []byte {
	var b strings.Builder
	b.WriteString("From: compras@cm-exemplo.pt\r\n")
	b.WriteString("To: vendas@example.com\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n\r\n")
	b.WriteString("--BOUNDARY\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" + text + "\r\n")
	for _, p := range parts {
		b.WriteString("--BOUNDARY\r\n")
		b.WriteString("Content-Type: " + p.contentType + "\r\n")
		b.WriteString(fmt.Sprintf("Content-Disposition: %s; filename=\"%s\"\r\n", p.disposition, p.filename))
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString(p.body) + "\r\n")
	}
	b.WriteString("--BOUNDARY--\r\n")
	return []byte(b.String())
}

func orderMail() []byte {
	return buildMail("Nota de encomenda 7/2026", "Segue em anexo a nota de encomenda.",
		mailPart{contentType: "image/png", disposition: "attachment", filename: "NE-2026-7.png", body: pngDoc("ne7")},
		mailPart{contentType: "text/plain", disposition: "attachment", filename: "notes.txt", body: []byte("hello there")},
		mailPart{contentType: "image/png", disposition: "inline", filename: "logo.png", body: pngDoc("logo")},
	)
}

func TestReadMailKeepsExtractableAttachments(t *testing.T) {
	mail, err := ReadMail(orderMail())
	require.NoError(t, err)

	assert.Equal(t, "Nota de encomenda 7/2026", mail.Subject)
	assert.Contains(t, mail.Text, "Segue em anexo")
	require.Len(t, mail.Attachments, 1)
	assert.Equal(t, "NE-2026-7.png", mail.Attachments[0].Filename)
	assert.Equal(t, "image/png", mail.Attachments[0].MediaType)
	assert.Equal(t, pngDoc("ne7"), mail.Attachments[0].Content)
	assert.Equal(t, []string{"notes.txt"}, mail.Ignored)
	assert.Equal(t, []string{"NE-2026-7.png", "notes.txt"}, mail.AttachmentNames())
}

func storeMail(t *testing.T, svc *ProcessingService, messageID, subject string, raw []byte) internal.EmailRow {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mail.eml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	email, err := svc.db.UpsertEmail("imap", messageID, subject, "compras@cm-exemplo.pt", "2026-02-08T00:00:00Z", "hash-"+messageID, path, internal.EmailFetched)
	require.NoError(t, err)
	return email
}

func TestProcessEmail(t *testing.T) {
	fake := &fakeExtractor{results: map[string]internal.Extraction{
		"ne7": lineExtraction("Câmara Municipal", internal.LineItem{Description: "Parafuso M6", SupplierRef: "P-100"}),
	}}
	svc, db, _ := newTestService(t, fake)
	ctx := context.Background()

	email := storeMail(t, svc, "<ne-7@cm-exemplo.pt>", "Nota de encomenda 7/2026", orderMail())
	res, err := svc.ProcessEmail(ctx, email)
	require.NoError(t, err)
	assert.True(t, res.Detect.IsOrder)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 1, res.Run.Done)

	stored, err := db.GetEmailByID(email.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailProcessed, stored.Status)

	batch, err := svc.Batch(&email.ID)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
	assert.Equal(t, "NE-2026-7.png", batch.Rows[0].Values[ColDocument])
	assert.Equal(t, "P-100", *batch.Rows[0].InternalCode)

	// processing the same mail again does not duplicate documents
	res, err = svc.ProcessEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Submitted)
	docs, err := db.ListDocumentsByEmail(email.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, fake.calls)
}

func TestProcessPendingEmailsSkipsNonOrders(t *testing.T) {
	fake := &fakeExtractor{results: map[string]internal.Extraction{"ne7": lineExtraction("ACME")}}
	svc, db, _ := newTestService(t, fake)
	svc.cfg.MailDetectOrders = true

	newsletter := buildMail("Monthly news", "Hello from the team",
		mailPart{contentType: "image/png", disposition: "attachment", filename: "photo.png", body: pngDoc("photo")})
	skipped := storeMail(t, svc, "<news@example.com>", "Monthly news", newsletter)
	order := storeMail(t, svc, "<ne-7@cm-exemplo.pt>", "Nota de encomenda 7/2026", orderMail())

	results, err := svc.ProcessPendingEmails(context.Background(), 10, "imap")
	require.NoError(t, err)
	require.Len(t, results, 2)

	row, err := db.GetEmailByID(skipped.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailSkipped, row.Status)
	row, err = db.GetEmailByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailProcessed, row.Status)
	assert.Equal(t, 1, fake.calls)

	none, err := svc.ProcessPendingEmails(context.Background(), 10, "gmail")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDetectPurchaseOrder(t *testing.T) {
	res := DetectPurchaseOrder("Nota de Encomenda n.º 12", "", []string{"scan.pdf"}, 1)
	assert.True(t, res.IsOrder)
	assert.Equal(t, "rules_positive", res.Reason)

	res = DetectPurchaseOrder("Fw: documentos", "", []string{"NE_2026_12.pdf"}, 1)
	assert.True(t, res.IsOrder)

	res = DetectPurchaseOrder("Holiday photos", "see you soon", []string{"beach.jpg"}, 1)
	assert.False(t, res.IsOrder)

	res = DetectPurchaseOrder("Nota de encomenda", "", []string{"notes.txt"}, 0)
	assert.False(t, res.IsOrder)
	assert.Equal(t, "no_documents", res.Reason)
}

func TestProcessEmailKeepsDeclaredAttachmentType(t *testing.T) {
	fake := &fakeExtractor{
		results: map[string]internal.Extraction{"ne1": lineExtraction("ACME", internal.LineItem{Description: "Parafuso M6", SupplierRef: "P-100"})},
		fail:    map[string]error{"heic-bytes": errors.New("could not read image")},
	}
	svc, db, _ := newTestService(t, fake)

	raw := buildMail("Nota de encomenda 1/2026", "Segue em anexo.",
		mailPart{contentType: "image/png", disposition: "attachment", filename: "NE-1.png", body: pngDoc("ne1")},
		mailPart{contentType: "image/jpeg", disposition: "attachment", filename: "foto.heic", body: []byte("heic-bytes")},
	)
	email := storeMail(t, svc, "<ne-1@cm-exemplo.pt>", "Nota de encomenda 1/2026", raw)

	res, err := svc.ProcessEmail(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Submitted)
	assert.Equal(t, 1, res.Run.Done)
	assert.Equal(t, 1, res.Run.Failed)

	docs, err := db.ListDocumentsByEmail(email.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "image/jpeg", docs[1].MediaType)
	for _, doc := range docs {
		assert.NotEqual(t, internal.DocumentProcessing, doc.Status, doc.Filename)
		assert.NotEqual(t, internal.DocumentWaiting, doc.Status, doc.Filename)
	}

	stored, err := db.GetEmailByID(email.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailProcessed, stored.Status)
}

func TestProcessEmailFailsSubmittedDocumentsWhenSubmitBreaks(t *testing.T) {
	fake := &fakeExtractor{results: map[string]internal.Extraction{"ne1": lineExtraction("ACME")}}
	svc, db, cfg := newTestService(t, fake)

	// the second attachment's raw file cannot be written
	jpeg := []byte("jpeg-bytes")
	require.NoError(t, os.MkdirAll(cfg.DocsRawDir, 0o755))
	target := filepath.Join(t.TempDir(), "missing", "dir", "x.jpg")
	require.NoError(t, os.Symlink(target, filepath.Join(cfg.DocsRawDir, contentHash(jpeg)+".jpg")))

	raw := buildMail("Nota de encomenda 1/2026", "Segue em anexo.",
		mailPart{contentType: "image/png", disposition: "attachment", filename: "NE-1.png", body: pngDoc("ne1")},
		mailPart{contentType: "image/jpeg", disposition: "attachment", filename: "foto.jpg", body: jpeg},
	)
	email := storeMail(t, svc, "<ne-1@cm-exemplo.pt>", "Nota de encomenda 1/2026", raw)

	results, err := svc.ProcessPendingEmails(context.Background(), 10, "imap")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "submit foto.jpg")
	assert.Zero(t, fake.calls)

	docs, err := db.ListDocumentsByEmail(email.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, internal.DocumentError, docs[0].Status)
	assert.Contains(t, docs[0].ErrorMsg, "submit foto.jpg")

	stored, err := db.GetEmailByID(email.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailFailed, stored.Status)
}

func TestProcessEmailResumesInterruptedDocuments(t *testing.T) {
	fake := &fakeExtractor{results: map[string]internal.Extraction{"ne7": lineExtraction("ACME")}}
	svc, db, _ := newTestService(t, fake)

	email := storeMail(t, svc, "<ne-7@cm-exemplo.pt>", "Nota de encomenda 7/2026", orderMail())
	emailID := email.ID
	doc, err := svc.Submit("NE-2026-7.png", pngDoc("ne7"), &emailID)
	require.NoError(t, err)
	require.NoError(t, db.UpdateDocumentStatus(doc.ID, internal.DocumentProcessing, ""))

	n, err := svc.RequeueInterrupted()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := svc.ProcessEmail(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Submitted)
	assert.Equal(t, 1, res.Run.Done)

	stored, err := db.GetEmailByID(email.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailProcessed, stored.Status)
}

func TestProcessPendingEmailsContinuesAfterFailure(t *testing.T) {
	fake := &fakeExtractor{results: map[string]internal.Extraction{"ne7": lineExtraction("ACME")}}
	svc, db, _ := newTestService(t, fake)

	broken := storeMail(t, svc, "<broken@cm-exemplo.pt>", "Nota de encomenda 6/2026", orderMail())
	require.NoError(t, os.Remove(broken.RawRef))
	order, err := db.UpsertEmail("imap", "<ne-7@cm-exemplo.pt>", "Nota de encomenda 7/2026", "compras@cm-exemplo.pt", "2026-02-09T00:00:00Z", "hash-ne7", writeRaw(t, orderMail()), internal.EmailFetched)
	require.NoError(t, err)

	results, err := svc.ProcessPendingEmails(context.Background(), 10, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, broken.ID, results[0].EmailID)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Run.Done)

	row, err := db.GetEmailByID(broken.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailFailed, row.Status)
	row, err = db.GetEmailByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailProcessed, row.Status)

	again, err := svc.ProcessPendingEmails(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestProcessPendingEmailsLimitAppliesPerProvider(t *testing.T) {
	fake := &fakeExtractor{results: map[string]internal.Extraction{"ne7": lineExtraction("ACME")}}
	svc, db, _ := newTestService(t, fake)

	gmail, err := db.UpsertEmail("gmail", "g-1", "Nota de encomenda 5/2026", "compras@cm-exemplo.pt", "2026-01-01T00:00:00Z", "hash-g1", writeRaw(t, orderMail()), internal.EmailFetched)
	require.NoError(t, err)
	imap := storeMail(t, svc, "<ne-7@cm-exemplo.pt>", "Nota de encomenda 7/2026", orderMail())

	results, err := svc.ProcessPendingEmails(context.Background(), 1, "imap")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, imap.ID, results[0].EmailID)

	row, err := db.GetEmailByID(gmail.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailFetched, row.Status)
}

func writeRaw(t *testing.T, raw []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mail.eml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}
