package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"poextract/internal"
	"poextract/internal/config"
	"poextract/internal/connectors"
	gmailconnector "poextract/internal/connectors/gmail"
	imapconnector "poextract/internal/connectors/imap"
	"poextract/internal/pipeline"
	"poextract/internal/storage"
)

type Service struct {
	db        *storage.DB
	cfg       config.Config
	processor *pipeline.ProcessingService
	connector connectors.MailConnector
}

func NewService(db *storage.DB, cfg config.Config, processor *pipeline.ProcessingService) *Service {
	return &Service{db: db, cfg: cfg, processor: processor}
}

// WithConnector replaces the provider picked from the configuration.
func (s *Service) WithConnector(c connectors.MailConnector) *Service {
	s.connector = c
	return s
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(max(1, s.cfg.MailListenerIntervalSec)) * time.Second
	requeued, err := s.processor.RequeueInterrupted()
	if err != nil {
		return err
	}
	if requeued > 0 {
		fmt.Printf("listener requeued interrupted documents=%d\n", requeued)
	}
	for {
		if err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("listener cycle error: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// RunCycle fetches new mail, extracts the attached orders and, when enabled,
// writes one workbook per processed mail.
func (s *Service) RunCycle(ctx context.Context) error {
	conn, err := s.mailConnector(ctx)
	if err != nil {
		return err
	}
	provider := conn.Provider()

	fetchResult, err := connectors.NewFetchService(s.db, s.cfg.RawMailDir, conn).FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return err
	}

	results, err := s.processor.ProcessPendingEmails(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return err
	}
	documents, failed := 0, 0
	for _, r := range results {
		documents += r.Submitted
		failed += r.Run.Failed
	}

	exported := 0
	if s.cfg.MailListenerAutoExport {
		if exported, err = s.ExportProcessed(provider); err != nil {
			return err
		}
	}

	fmt.Printf("listener cycle done provider=%s fetched=%d stored=%d emails=%d documents=%d failed=%d exported=%d\n",
		provider, fetchResult.Fetched, fetchResult.Stored, len(results), documents, failed, exported)
	return nil
}

// ExportProcessed writes <OutputDir>/listener/<emailID>_<messageID>.xlsx for
// every processed mail of provider that produced rows.
func (s *Service) ExportProcessed(provider string) (int, error) {
	emails, err := s.db.ListEmailsByStatus(internal.EmailProcessed, provider, 200)
	if err != nil {
		return 0, err
	}

	exported := 0
	for _, email := range emails {
		emailID := email.ID
		batch, err := s.processor.Batch(&emailID)
		if err != nil {
			return exported, err
		}
		if len(batch.Rows) == 0 {
			continue
		}

		filename := fmt.Sprintf("%d_%s.xlsx", email.ID, sanitizeMessageID(email.MessageID))
		outputPath := filepath.Join(s.cfg.OutputDir, "listener", filename)
		if _, err := s.processor.Export(&emailID, outputPath); err != nil {
			return exported, err
		}
		if err := s.db.UpdateEmailStatus(email.ID, internal.EmailExported); err != nil {
			return exported, err
		}
		exported++
	}
	return exported, nil
}

func (s *Service) mailConnector(ctx context.Context) (connectors.MailConnector, error) {
	if s.connector != nil {
		return s.connector, nil
	}
	return NewConnector(ctx, s.cfg, s.cfg.MailListenerProvider)
}

// NewConnector builds the connector for a provider name ("gmail" or "imap").
func NewConnector(ctx context.Context, cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", provider)
	}
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "", ">", "", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "@", "_at_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
