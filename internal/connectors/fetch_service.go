package connectors

import (
	"context"
	"fmt"

	"poextract/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *MailStore
}

type FetchResult struct {
	Fetched int
	Stored  int
	Known   int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector) *FetchService {
	return &FetchService{
		connector: connector,
		store:     NewMailStore(db, rawMailDir),
	}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", s.connector.Provider(), err)
	}

	result := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		_, isNew, err := s.store.Store(msg)
		if err != nil {
			return result, err
		}
		if isNew {
			result.Stored++
		} else {
			result.Known++
		}
	}
	return result, nil
}
