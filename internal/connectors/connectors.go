package connectors

import (
	"bytes"
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"poextract/internal"
)

// MailConnector fetches recent mails of one mailbox or label as raw RFC 822.
type MailConnector interface {
	Provider() string
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// MessageFromRaw fills a FetchedMailMessage from the headers of a raw mail.
// fallbackID is used when the mail has no Message-ID, received when it has
// no parseable Date.
func MessageFromRaw(provider, fallbackID string, raw []byte, received time.Time) internal.FetchedMailMessage {
	msg := internal.FetchedMailMessage{Provider: provider, MessageID: fallbackID, Raw: raw}
	if !received.IsZero() {
		msg.ReceivedAt = received.UTC().Format(time.RFC3339)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		if msg.ReceivedAt == "" {
			msg.ReceivedAt = time.Now().UTC().Format(time.RFC3339)
		}
		return msg
	}

	if id := strings.TrimSpace(env.GetHeader("Message-ID")); id != "" {
		msg.MessageID = id
	}
	msg.Subject = env.GetHeader("Subject")
	msg.From = env.GetHeader("From")
	if msg.ReceivedAt == "" {
		if t, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
			msg.ReceivedAt = t.UTC().Format(time.RFC3339)
		} else {
			msg.ReceivedAt = time.Now().UTC().Format(time.RFC3339)
		}
	}
	return msg
}
