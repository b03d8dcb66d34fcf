package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"poextract/internal"
)

type EmailResult struct {
	EmailID   int
	Detect    DetectResult
	Skipped   bool
	Submitted int
	Run       RunResult
	Err       error
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (EmailResult, error) {
	email, err := s.db.MustEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return EmailResult{}, err
	}
	return s.ProcessEmail(ctx, email)
}

// ProcessPendingEmails handles fetched mails, oldest first. An empty provider
// accepts every provider. A mail that cannot be processed is marked failed and
// reported in its result; the remaining mails still run.
func (s *ProcessingService) ProcessPendingEmails(ctx context.Context, limit int, provider string) ([]EmailResult, error) {
	pending, err := s.db.ListEmailsByStatus(internal.EmailFetched, provider, limit)
	if err != nil {
		return nil, err
	}

	out := make([]EmailResult, 0, len(pending))
	for _, email := range pending {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res, err := s.ProcessEmail(ctx, email)
		if err != nil {
			fmt.Printf("email failed id=%d messageId=%s err=%v\n", email.ID, email.MessageID, err)
			res.EmailID = email.ID
			res.Err = err
			if serr := s.db.UpdateEmailStatus(email.ID, internal.EmailFailed); serr != nil {
				return out, errors.Join(err, serr)
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// ProcessEmail turns the PDF and image attachments of a stored mail into
// documents and extracts them. Attachments already submitted for the same
// mail are not submitted twice; those left waiting by an interrupted run are
// extracted again.
func (s *ProcessingService) ProcessEmail(ctx context.Context, email internal.EmailRow) (EmailResult, error) {
	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return EmailResult{}, err
	}
	mail, err := ReadMail(raw)
	if err != nil {
		return EmailResult{}, err
	}

	subject := mail.Subject
	if subject == "" {
		subject = email.Subject
	}
	result := EmailResult{EmailID: email.ID}
	result.Detect = DetectPurchaseOrder(subject, mail.Text, mail.AttachmentNames(), len(mail.Attachments))
	if len(mail.Attachments) == 0 || (s.cfg.MailDetectOrders && !result.Detect.IsOrder) {
		result.Skipped = true
		return result, s.db.UpdateEmailStatus(email.ID, internal.EmailSkipped)
	}

	existing, err := s.db.ListDocumentsByEmail(email.ID)
	if err != nil {
		return result, err
	}
	known := map[string]struct{}{}
	var docs []internal.DocumentRow
	for _, doc := range existing {
		known[doc.Hash] = struct{}{}
		if doc.Status == internal.DocumentWaiting {
			docs = append(docs, doc)
		}
	}

	emailID := email.ID
	var submitted []internal.DocumentRow
	for _, att := range mail.Attachments {
		hash := contentHash(att.Content)
		if _, dup := known[hash]; dup {
			continue
		}
		known[hash] = struct{}{}

		doc, err := s.SubmitAs(att.Filename, att.MediaType, att.Content, &emailID)
		if err != nil {
			return result, s.abandon(submitted, fmt.Errorf("submit %s: %w", att.Filename, err))
		}
		submitted = append(submitted, doc)
	}
	result.Submitted = len(submitted)
	docs = append(docs, submitted...)

	for i := range docs {
		if err := s.db.UpdateDocumentStatus(docs[i].ID, internal.DocumentProcessing, ""); err != nil {
			return result, s.abandon(docs, err)
		}
		docs[i].Status = internal.DocumentProcessing
	}

	result.Run, err = s.run(ctx, docs, &emailID)
	if err != nil {
		return result, err
	}
	return result, s.db.UpdateEmailStatus(email.ID, internal.EmailProcessed)
}

// abandon records cause on documents that were queued for a mail that could
// not be processed, so none of them is left waiting or processing.
func (s *ProcessingService) abandon(docs []internal.DocumentRow, cause error) error {
	errs := []error{cause}
	for _, doc := range docs {
		if err := s.db.FailDocument(doc.ID, cause.Error()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
