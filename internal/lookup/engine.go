// Package lookup ranks invoice matches for the returns counter typeahead.
package lookup

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"apotekita/backend/internal/cache"
	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/logger"
	"apotekita/backend/internal/refund"
	"apotekita/backend/internal/store"
)

const (
	DefaultLimit = 8
	MaxLimit     = 25
)

type Source interface {
	FindInvoice(ctx context.Context, id string) (*domain.SourceInvoice, error)
	SearchInvoices(ctx context.Context, keyword string, limit int) ([]domain.SourceInvoice, error)
}

type Engine struct {
	cache    cache.InvoiceSearchCache
	cacheTTL time.Duration
	log      zerolog.Logger
}

func NewEngine(cacheStore cache.InvoiceSearchCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopInvoiceSearchCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		log:      logger.WithComponent("lookup"),
	}
}

// Search returns at most limit invoices matching keyword, best match first:
// exact id, id prefix, id substring, then customer name.
func (e *Engine) Search(ctx context.Context, src Source, keyword string, limit int) ([]domain.InvoiceSummary, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []domain.InvoiceSummary{}, nil
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	cacheKey := buildCacheKey(keyword, limit)
	cached, ok, err := e.cache.Get(ctx, cacheKey)
	if err != nil {
		e.log.Warn().Err(err).Msg("invoice search cache read failed")
	} else if ok {
		return cached, nil
	}

	candidates, err := src.SearchInvoices(ctx, keyword, limit*4)
	if err != nil {
		return nil, err
	}
	// Stores return candidates newest first, so an older exact id can fall
	// outside the window.
	if exact, ok := e.exactMatch(ctx, src, keyword, candidates); ok {
		candidates = append([]domain.SourceInvoice{exact}, candidates...)
	}

	type scored struct {
		invoice domain.SourceInvoice
		score   int
	}
	needle := strings.ToLower(keyword)
	ranked := make([]scored, 0, len(candidates))
	for _, invoice := range candidates {
		score := matchScore(needle, invoice)
		if score == 0 {
			continue
		}
		ranked = append(ranked, scored{invoice: invoice, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].invoice.CreatedAt.Equal(ranked[j].invoice.CreatedAt) {
			return ranked[i].invoice.CreatedAt.After(ranked[j].invoice.CreatedAt)
		}
		return ranked[i].invoice.ID < ranked[j].invoice.ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	result := make([]domain.InvoiceSummary, 0, len(ranked))
	for _, item := range ranked {
		result = append(result, Summarize(item.invoice))
	}
	if err := e.cache.Set(ctx, cacheKey, result, e.cacheTTL); err != nil {
		e.log.Warn().Err(err).Msg("invoice search cache write failed")
	}
	return result, nil
}

func (e *Engine) exactMatch(ctx context.Context, src Source, keyword string, candidates []domain.SourceInvoice) (domain.SourceInvoice, bool) {
	for _, invoice := range candidates {
		if strings.EqualFold(invoice.ID, keyword) {
			return domain.SourceInvoice{}, false
		}
	}
	ids := []string{keyword}
	if upper := strings.ToUpper(keyword); upper != keyword {
		ids = append(ids, upper)
	}
	for _, id := range ids {
		found, err := src.FindInvoice(ctx, id)
		if err == nil {
			return *found, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn().Err(err).Str("keyword", keyword).Msg("exact invoice lookup failed")
			break
		}
	}
	return domain.SourceInvoice{}, false
}

// Summarize reduces an invoice to its typeahead row. Total is the
// tax-inclusive invoice amount.
func Summarize(invoice domain.SourceInvoice) domain.InvoiceSummary {
	lines := make([]refund.Line, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		lines = append(lines, refund.Line{UnitPrice: line.UnitPrice, Qty: line.Qty, TaxRatePercent: line.TaxRatePercent})
	}
	return domain.InvoiceSummary{
		ID:           invoice.ID,
		CustomerName: invoice.CustomerLabel(),
		CreatedAt:    invoice.CreatedAt,
		LineCount:    len(invoice.Lines),
		Total:        refund.Total(lines),
	}
}

func matchScore(needle string, invoice domain.SourceInvoice) int {
	id := strings.ToLower(invoice.ID)
	switch {
	case id == needle:
		return 4
	case strings.HasPrefix(id, needle):
		return 3
	case strings.Contains(id, needle):
		return 2
	case strings.Contains(strings.ToLower(invoice.CustomerName), needle):
		return 1
	}
	return 0
}

func buildCacheKey(keyword string, limit int) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%s|%d", strings.ToLower(keyword), limit)))
	return "returns:invoice-search:" + hex.EncodeToString(hash[:])
}
