package pipeline

import (
	"bytes"
	"strings"

	"github.com/jhillyerd/enmime"

	"poextract/internal/extractor"
)

// Attachment is one mail part that can be sent for extraction.
type Attachment struct {
	Filename  string
	MediaType string
	Content   []byte
}

// MailContent is the part of a mail the pipeline cares about.
type MailContent struct {
	Subject     string
	Text        string
	Attachments []Attachment
	// Ignored lists attachment names whose type cannot be extracted.
	Ignored []string
}

func (m MailContent) AttachmentNames() []string {
	names := make([]string, 0, len(m.Attachments)+len(m.Ignored))
	for _, a := range m.Attachments {
		names = append(names, a.Filename)
	}
	return append(names, m.Ignored...)
}

// ReadMail parses a raw RFC 822 message and keeps its PDF and image
// attachments. Inline parts are kept only when they are PDFs, since inline
// images are usually signatures and logos.
func ReadMail(raw []byte) (MailContent, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return MailContent{}, err
	}

	out := MailContent{Subject: env.GetHeader("Subject"), Text: env.Text}
	for _, part := range env.Attachments {
		out.add(part, false)
	}
	for _, part := range env.Inlines {
		out.add(part, true)
	}
	return out, nil
}

func (m *MailContent) add(part *enmime.Part, inline bool) {
	filename := strings.TrimSpace(part.FileName)
	if filename == "" {
		filename = "attachment"
	}

	mediaType := strings.ToLower(strings.TrimSpace(part.ContentType))
	if !extractor.IsSupported(mediaType) {
		detected, err := extractor.DetectMediaType(filename, part.Content)
		if err != nil {
			if !inline {
				m.Ignored = append(m.Ignored, filename)
			}
			return
		}
		mediaType = detected
	}
	if inline && mediaType != extractor.MediaPDF {
		return
	}

	if filename == "attachment" {
		filename += extractor.ExtensionFor(mediaType)
	}
	m.Attachments = append(m.Attachments, Attachment{Filename: filename, MediaType: mediaType, Content: part.Content})
}
