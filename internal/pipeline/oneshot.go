package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"poextract/internal"
	"poextract/internal/extractor"
)

type OneShotResult struct {
	Batch   FlatBatch
	Summary Summary
	Failed  map[string]error
}

// RunOneShot extracts the given files without touching storage and flattens
// the successful ones against entries, keeping the order of paths.
func RunOneShot(ctx context.Context, ext Extractor, paths []string, entries []internal.CatalogEntry, threshold float64, concurrency int, pdfMaxPages int) OneShotResult {
	extractions := make([]*internal.Extraction, len(paths))
	failed := map[string]error{}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, max(1, concurrency))
	)
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := extractFile(ctx, ext, path, pdfMaxPages)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[path] = err
				return
			}
			res.DocumentID = path
			res.Filename = filepath.Base(path)
			extractions[i] = &res
		}(i, path)
	}
	wg.Wait()

	ordered := make([]internal.Extraction, 0, len(paths))
	for _, e := range extractions {
		if e != nil {
			ordered = append(ordered, *e)
		}
	}

	batch := FlattenWith(ordered, NewMatcher(entries, threshold))
	return OneShotResult{Batch: batch, Summary: Summarize(batch), Failed: failed}
}

func extractFile(ctx context.Context, ext Extractor, path string, pdfMaxPages int) (internal.Extraction, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return internal.Extraction{}, err
	}
	mediaType, err := extractor.DetectMediaType(path, content)
	if err != nil {
		return internal.Extraction{}, extractor.WithDocument(err, path)
	}
	if mediaType == extractor.MediaPDF {
		if _, err := extractor.CheckPDF(content, pdfMaxPages); err != nil {
			return internal.Extraction{}, extractor.WithDocument(err, path)
		}
	}
	res, err := ext.Extract(ctx, content, mediaType)
	if err != nil {
		return internal.Extraction{}, extractor.WithDocument(err, path)
	}
	return res, nil
}

func (r OneShotResult) String() string {
	return fmt.Sprintf("documents=%d rows=%d missing_refs=%d delivery_columns=%d failed=%d",
		r.Summary.Documents, r.Summary.Rows, r.Summary.MissingRefs, r.Summary.MaxDeliveryCount, len(r.Failed))
}
