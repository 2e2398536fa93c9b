package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/betmatch/betmatch/internal/domain"
)

// SettledMarketStore provides read access to settled markets for archival.
// The archiver only needs this single query, not the full market store.
type SettledMarketStore interface {
	ListSettledBetween(ctx context.Context, after, before time.Time, limit int) ([]domain.Market, error)
}

// MarketTransactionStore provides read access to a market's transaction log.
type MarketTransactionStore interface {
	ListByMarket(ctx context.Context, marketID int64) ([]domain.Transaction, error)
}

// BlobWriter uploads a blob to object storage. Satisfied by *Writer.
type BlobWriter interface {
	Put(ctx context.Context, key string, r *bytes.Reader, contentType string) error
}

// archiveRecord is one JSONL line: a settled market together with its full
// transaction log, so each line is independently auditable.
type archiveRecord struct {
	Market       domain.Market        `json:"market"`
	Transactions []domain.Transaction `json:"transactions"`
}

// Archiver exports settled markets and their transaction logs to object
// storage as newline-delimited JSON, partitioned by settlement month. A
// settled-at watermark advances after each successful upload, so every run
// picks up where the previous one stopped and no settlement is exported to
// the same key twice. The watermark lives in memory: after a restart the
// history is re-exported under fresh run-stamped keys, which the append-only
// archive tolerates.
//
// Deletion of archived rows from the primary store is intentionally not
// performed here; the database remains the source of truth and the export
// exists for off-site audit retention.
type Archiver struct {
	writer  BlobWriter
	markets SettledMarketStore
	txns    MarketTransactionStore
	logger  *slog.Logger

	// watermark is the settled-at time of the newest market already
	// exported. Only the Run loop mutates it.
	watermark time.Time

	// Interval between runs and the age a settlement must reach before it
	// is exported. Zero values fall back to defaults in Run.
	Interval time.Duration
	MinAge   time.Duration
	Limit    int
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, markets SettledMarketStore, txns MarketTransactionStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer:  writer,
		markets: markets,
		txns:    txns,
		logger:  logger.With("component", "archiver"),
	}
}

// ArchiveSettled exports the next batch of markets settled after the
// watermark and strictly before the cutoff, one JSONL object per settlement
// month, keyed archive/markets/YYYY-MM/<run-stamp>.jsonl. The watermark only
// advances once every object of the batch has uploaded, so a failed run
// re-exports the same batch on the next tick. It returns the number of
// markets archived.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	limit := a.Limit
	if limit <= 0 {
		limit = 1000
	}

	markets, err := a.markets.ListSettledBetween(ctx, a.watermark, before, limit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	// Group by settlement month; markets arrive oldest-first so each group
	// keeps that order.
	months := make(map[string][]archiveRecord)
	var order []string
	newest := a.watermark
	for _, m := range markets {
		txns, err := a.txns.ListByMarket(ctx, m.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive market %d transactions: %w", m.ID, err)
		}
		month := m.SettledAt.UTC().Format("2006-01")
		if _, ok := months[month]; !ok {
			order = append(order, month)
		}
		months[month] = append(months[month], archiveRecord{Market: m, Transactions: txns})
		if m.SettledAt.After(newest) {
			newest = *m.SettledAt
		}
	}

	stamp := time.Now().UTC().Format("20060102T150405.000000000Z")
	for _, month := range order {
		buf, err := marshalJSONL(months[month])
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive settled marshal: %w", err)
		}
		path := archivePath(month, stamp)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive settled upload %s: %w", path, err)
		}
		a.logger.Info("archived settled markets",
			"path", path,
			"count", len(months[month]),
		)
	}

	a.watermark = newest
	return int64(len(markets)), nil
}

// Run executes ArchiveSettled on a fixed interval until the context is
// cancelled. Errors are logged and the loop continues; a failed export is
// retried on the next tick since the watermark does not advance on failure.
func (a *Archiver) Run(ctx context.Context) error {
	interval := a.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	minAge := a.MinAge
	if minAge <= 0 {
		minAge = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-minAge)
			if _, err := a.ArchiveSettled(ctx, cutoff); err != nil {
				a.logger.Error("archive run failed", "error", err)
			}
		}
	}
}

// archivePath builds the S3 key for one export object: partitioned by the
// settlement month, unique per run, e.g.
// archive/markets/2026-08/20260830T140000.000000000Z.jsonl.
func archivePath(month, stamp string) string {
	return fmt.Sprintf("archive/markets/%s/%s.jsonl", month, stamp)
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
