package extractor

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

const (
	MediaPDF  = "application/pdf"
	MediaPNG  = "image/png"
	MediaJPEG = "image/jpeg"
	MediaGIF  = "image/gif"
	MediaWEBP = "image/webp"
)

var extensionMedia = map[string]string{
	".pdf":  MediaPDF,
	".png":  MediaPNG,
	".jpg":  MediaJPEG,
	".jpeg": MediaJPEG,
	".gif":  MediaGIF,
	".webp": MediaWEBP,
}

var mediaExtension = map[string]string{
	MediaPDF:  ".pdf",
	MediaPNG:  ".png",
	MediaJPEG: ".jpg",
	MediaGIF:  ".gif",
	MediaWEBP: ".webp",
}

// DetectMediaType picks a supported media type from the filename, falling
// back to content sniffing. It returns ErrUnsupportedMediaType otherwise.
func DetectMediaType(filename string, content []byte) (string, error) {
	if mt, ok := extensionMedia[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt, nil
	}
	sniffed := http.DetectContentType(content)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	if IsSupported(sniffed) {
		return sniffed, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedMediaType, filename, sniffed)
}

func IsSupported(mediaType string) bool {
	_, ok := mediaExtension[mediaType]
	return ok
}

func ExtensionFor(mediaType string) string {
	return mediaExtension[mediaType]
}

// CheckPDF opens a PDF locally and rejects unreadable or oversized files
// before they are sent for extraction. maxPages <= 0 disables the limit.
func CheckPDF(content []byte, maxPages int) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, &Error{Err: fmt.Errorf("unreadable pdf: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, &Error{Err: fmt.Errorf("unreadable pdf: %w", err)}
	}
	pages = reader.NumPage()
	if pages == 0 {
		return 0, &Error{Err: fmt.Errorf("pdf has no pages")}
	}
	if maxPages > 0 && pages > maxPages {
		return pages, &Error{Err: fmt.Errorf("pdf has %d pages, limit is %d", pages, maxPages)}
	}
	return pages, nil
}
