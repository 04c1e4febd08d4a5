package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// Uploader is the narrow blob surface the archiver needs.
type Uploader interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Archiver exports a run's persisted records (orders, account snapshots,
// strategy logs) to object storage as newline-delimited JSON, one file per
// record kind under runs/<runID>/.
//
// Exports are read-only over the repository; nothing is deleted from the
// primary store.
type Archiver struct {
	uploader  Uploader
	repo      domain.Repository
	accountID string
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that reads from repo and uploads through
// uploader. accountID selects which account's snapshot history is exported.
func NewArchiver(uploader Uploader, repo domain.Repository, accountID string, logger *slog.Logger) *Archiver {
	return &Archiver{
		uploader:  uploader,
		repo:      repo,
		accountID: accountID,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ExportRun uploads every record persisted since the given start time.
// Record kinds with no rows are skipped rather than uploaded empty.
func (a *Archiver) ExportRun(ctx context.Context, runID string, since time.Time) error {
	opts := domain.ListOpts{Since: &since}

	orders, err := a.repo.GetOrderHistory(ctx, "", opts)
	if err != nil {
		return fmt.Errorf("s3blob: export orders query: %w", err)
	}
	if err := exportKind(ctx, a.uploader, runID, "orders", orders); err != nil {
		return err
	}

	snaps, err := a.repo.GetAccountHistory(ctx, a.accountID, opts)
	if err != nil {
		return fmt.Errorf("s3blob: export account history query: %w", err)
	}
	if err := exportKind(ctx, a.uploader, runID, "account", snaps); err != nil {
		return err
	}

	logs, err := a.repo.GetStrategyLogs(ctx, "", opts)
	if err != nil {
		return fmt.Errorf("s3blob: export strategy logs query: %w", err)
	}
	if err := exportKind(ctx, a.uploader, runID, "strategy_logs", logs); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "run exported",
		slog.String("run_id", runID),
		slog.Int("orders", len(orders)),
		slog.Int("snapshots", len(snaps)),
		slog.Int("strategy_logs", len(logs)),
	)
	return nil
}

// exportKind uploads one record kind, skipping empty slices.
func exportKind[T any](ctx context.Context, up Uploader, runID, kind string, records []T) error {
	if len(records) == 0 {
		return nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: export %s marshal: %w", kind, err)
	}

	key := exportKey(runID, kind)
	if err := up.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: export %s upload: %w", kind, err)
	}
	return nil
}

// exportKey builds the object key for one record kind of a run.
//
//	runs/3f2a.../orders.jsonl
//	runs/3f2a.../account.jsonl
//	runs/3f2a.../strategy_logs.jsonl
func exportKey(runID, kind string) string {
	return fmt.Sprintf("runs/%s/%s.jsonl", runID, kind)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes one compact JSON line.
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
