package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"poextract/internal"
	"poextract/internal/config"
	"poextract/internal/extractor"
	"poextract/internal/storage"
)

// Extractor turns one document into an extraction.
type Extractor interface {
	Extract(ctx context.Context, content []byte, mediaType string) (internal.Extraction, error)
}

type ProcessingService struct {
	db        *storage.DB
	cfg       config.Config
	extractor Extractor
}

func NewProcessingService(db *storage.DB, cfg config.Config, ext Extractor) *ProcessingService {
	return &ProcessingService{db: db, cfg: cfg, extractor: ext}
}

type RunResult struct {
	TraceID string
	Done    int
	Failed  int
	Errors  []error
}

// Submit stores the file under its content hash and registers it as a
// waiting document.
func (s *ProcessingService) Submit(filename string, content []byte, emailID *int) (internal.DocumentRow, error) {
	mediaType, err := extractor.DetectMediaType(filename, content)
	if err != nil {
		return internal.DocumentRow{}, err
	}
	return s.submit(filename, mediaType, content, emailID)
}

// SubmitAs is Submit for content whose media type is already known, such as
// a mail attachment with a declared type. Unsupported types fall back to
// detection.
func (s *ProcessingService) SubmitAs(filename, mediaType string, content []byte, emailID *int) (internal.DocumentRow, error) {
	if !extractor.IsSupported(mediaType) {
		return s.Submit(filename, content, emailID)
	}
	return s.submit(filename, mediaType, content, emailID)
}

func (s *ProcessingService) submit(filename, mediaType string, content []byte, emailID *int) (internal.DocumentRow, error) {
	hash := contentHash(content)
	rawRef := filepath.Join(s.cfg.DocsRawDir, hash+extractor.ExtensionFor(mediaType))
	if err := os.MkdirAll(s.cfg.DocsRawDir, 0o755); err != nil {
		return internal.DocumentRow{}, err
	}
	if _, err := os.Stat(rawRef); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(rawRef, content, 0o644); err != nil {
			return internal.DocumentRow{}, err
		}
	}

	doc := internal.DocumentRow{
		ID:        uuid.NewString(),
		Filename:  filepath.Base(filename),
		MediaType: mediaType,
		Hash:      hash,
		RawRef:    rawRef,
		Status:    internal.DocumentWaiting,
		EmailID:   emailID,
	}
	if err := s.db.InsertDocument(doc); err != nil {
		return internal.DocumentRow{}, err
	}
	return doc, nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *ProcessingService) SubmitFile(path string) (internal.DocumentRow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return internal.DocumentRow{}, err
	}
	return s.Submit(path, content, nil)
}

// ProcessPending extracts up to limit waiting documents. A failed document is
// recorded and counted; it never stops the others.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int) (RunResult, error) {
	claimed, err := s.db.ClaimWaitingDocuments(limit)
	if err != nil {
		return RunResult{}, err
	}
	return s.run(ctx, claimed, nil)
}

// ProcessDocument re-extracts one document. Its previous extraction is
// replaced on success and dropped on failure.
func (s *ProcessingService) ProcessDocument(ctx context.Context, id string) (RunResult, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return RunResult{}, err
	}
	if doc == nil {
		return RunResult{}, fmt.Errorf("document not found: %s", id)
	}
	if doc.Status == internal.DocumentProcessing {
		return RunResult{}, fmt.Errorf("document %s is already processing", id)
	}
	if err := s.db.UpdateDocumentStatus(id, internal.DocumentProcessing, ""); err != nil {
		return RunResult{}, err
	}
	return s.run(ctx, []internal.DocumentRow{*doc}, doc.EmailID)
}

func (s *ProcessingService) run(ctx context.Context, docs []internal.DocumentRow, emailID *int) (RunResult, error) {
	start := time.Now()
	result := RunResult{TraceID: uuid.NewString()}
	if len(docs) == 0 {
		return result, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, max(1, s.cfg.ExtractConcurrency))
	)
	for _, doc := range docs {
		wg.Add(1)
		go func(doc internal.DocumentRow) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := s.processOne(ctx, doc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err)
				fmt.Printf("document failed id=%s file=%s err=%v\n", doc.ID, doc.Filename, err)
				return
			}
			result.Done++
		}(doc)
	}
	wg.Wait()

	timings := map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())}
	counts := map[string]int{"documents": len(docs), "done": result.Done, "error": result.Failed}
	if err := s.db.InsertRun(result.TraceID, emailID, timings, counts); err != nil {
		return result, err
	}
	return result, nil
}

func (s *ProcessingService) processOne(ctx context.Context, doc internal.DocumentRow) error {
	extraction, err := s.extract(ctx, doc)
	if err != nil {
		err = extractor.WithDocument(err, doc.ID)
		if ferr := s.db.FailDocument(doc.ID, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	return s.db.SaveExtraction(doc.ID, extraction)
}

func (s *ProcessingService) extract(ctx context.Context, doc internal.DocumentRow) (internal.Extraction, error) {
	content, err := os.ReadFile(doc.RawRef)
	if err != nil {
		return internal.Extraction{}, err
	}
	if doc.MediaType == extractor.MediaPDF {
		if _, err := extractor.CheckPDF(content, s.cfg.PDFMaxPages); err != nil {
			return internal.Extraction{}, err
		}
	}
	return s.extractor.Extract(ctx, content, doc.MediaType)
}

// Retry puts failed documents back in the queue. An empty id retries every
// failed document; a single id may also name a document stuck in processing.
func (s *ProcessingService) Retry(id string) (int, error) {
	if id != "" {
		doc, err := s.db.GetDocument(id)
		if err != nil {
			return 0, err
		}
		if doc == nil {
			return 0, fmt.Errorf("document not found: %s", id)
		}
		if doc.Status != internal.DocumentError && doc.Status != internal.DocumentProcessing {
			return 0, fmt.Errorf("document %s is %s, not %s", id, doc.Status, internal.DocumentError)
		}
		return 1, s.db.UpdateDocumentStatus(id, internal.DocumentWaiting, "")
	}

	failed, err := s.db.ListDocuments(internal.DocumentError)
	if err != nil {
		return 0, err
	}
	for _, doc := range failed {
		if err := s.db.UpdateDocumentStatus(doc.ID, internal.DocumentWaiting, ""); err != nil {
			return 0, err
		}
	}
	return len(failed), nil
}

// RequeueInterrupted returns documents left in processing by a run that never
// finished to the waiting queue. Call it before any run starts.
func (s *ProcessingService) RequeueInterrupted() (int, error) {
	return s.db.RequeueProcessing()
}

func (s *ProcessingService) Remove(id string) error {
	return s.db.DeleteDocument(id)
}

func (s *ProcessingService) Clear() (int, error) {
	return s.db.ClearDocuments()
}

// Batch flattens the completed documents, optionally only those of one email,
// against the stored catalog.
func (s *ProcessingService) Batch(emailID *int) (FlatBatch, error) {
	extractions, err := s.db.ListExtractions(emailID)
	if err != nil {
		return FlatBatch{}, err
	}
	entries, err := s.db.ListCatalog()
	if err != nil {
		return FlatBatch{}, err
	}
	return FlattenWith(extractions, NewMatcher(entries, s.cfg.MatchThreshold)), nil
}

// Export writes the current batch as xlsx or csv, picked by the extension of
// outputPath.
func (s *ProcessingService) Export(emailID *int, outputPath string) (Summary, error) {
	batch, err := s.Batch(emailID)
	if err != nil {
		return Summary{}, err
	}
	sheet := SheetFor(batch, LocaleFor(s.cfg.ExportLocale))

	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".csv":
		err = WriteCSVFile(sheet, outputPath)
	default:
		err = WriteXLSX(sheet, outputPath, ExportOptions{NumericCells: s.cfg.ExportNumericCells})
	}
	if err != nil {
		return Summary{}, err
	}
	return Summarize(batch), nil
}
