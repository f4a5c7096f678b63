package cache

import (
	"context"
	"time"

	"apotekita/backend/internal/domain"
)

// InvoiceSearchCache keeps ranked typeahead results for a short time.
type InvoiceSearchCache interface {
	Get(ctx context.Context, key string) ([]domain.InvoiceSummary, bool, error)
	Set(ctx context.Context, key string, value []domain.InvoiceSummary, ttl time.Duration) error
}

type NoopInvoiceSearchCache struct{}

func (NoopInvoiceSearchCache) Get(_ context.Context, _ string) ([]domain.InvoiceSummary, bool, error) {
	return nil, false, nil
}

func (NoopInvoiceSearchCache) Set(_ context.Context, _ string, _ []domain.InvoiceSummary, _ time.Duration) error {
	return nil
}
