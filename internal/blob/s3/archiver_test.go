package s3blob

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/store/memory"
)

type fakeUploader struct {
	objects map[string]string
	err     error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: make(map[string]string)}
}

func (f *fakeUploader) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = string(b)
	return nil
}

func TestArchiverExportsRunRecords(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveOrder(ctx, domain.Order{
		ID:        "ord-1",
		Symbol:    "SIM1",
		Direction: domain.DirectionBuy,
		Quantity:  10,
		Status:    domain.OrderStatusFilled,
		CreatedAt: start.Add(time.Minute),
		UpdatedAt: start.Add(time.Minute),
	}))
	require.NoError(t, repo.SaveAccountSnapshot(ctx, domain.AccountSnapshot{
		AccountID: "acct-1",
		Cash:      99_000,
		Timestamp: start.Add(2 * time.Minute),
	}))
	require.NoError(t, repo.LogStrategyExecution(ctx, domain.StrategyLogEntry{
		StrategyID: "strat-1",
		Strategy:   "ma_cross",
		Level:      "info",
		Message:    "signal emitted",
		Timestamp:  start.Add(3 * time.Minute),
	}))

	up := newFakeUploader()
	arch := NewArchiver(up, repo, "acct-1", slog.New(slog.DiscardHandler))

	require.NoError(t, arch.ExportRun(ctx, "run-abc", start))

	require.Contains(t, up.objects, "runs/run-abc/orders.jsonl")
	require.Contains(t, up.objects, "runs/run-abc/account.jsonl")
	require.Contains(t, up.objects, "runs/run-abc/strategy_logs.jsonl")

	orders := up.objects["runs/run-abc/orders.jsonl"]
	require.Contains(t, orders, `"ord-1"`)
	require.Equal(t, 1, strings.Count(orders, "\n"))
}

func TestArchiverSkipsEmptyKinds(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	start := time.Now().UTC()

	require.NoError(t, repo.SaveOrder(ctx, domain.Order{
		ID:        "ord-1",
		Symbol:    "SIM1",
		CreatedAt: start.Add(time.Second),
		UpdatedAt: start.Add(time.Second),
	}))

	up := newFakeUploader()
	arch := NewArchiver(up, repo, "acct-1", slog.New(slog.DiscardHandler))

	require.NoError(t, arch.ExportRun(ctx, "run-abc", start))

	require.Len(t, up.objects, 1)
	require.Contains(t, up.objects, "runs/run-abc/orders.jsonl")
}

func TestArchiverExcludesRecordsBeforeRunStart(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveOrder(ctx, domain.Order{
		ID:        "old-order",
		Symbol:    "SIM1",
		CreatedAt: start.Add(-time.Hour),
		UpdatedAt: start.Add(-time.Hour),
	}))
	require.NoError(t, repo.SaveOrder(ctx, domain.Order{
		ID:        "new-order",
		Symbol:    "SIM1",
		CreatedAt: start.Add(time.Minute),
		UpdatedAt: start.Add(time.Minute),
	}))

	up := newFakeUploader()
	arch := NewArchiver(up, repo, "acct-1", slog.New(slog.DiscardHandler))

	require.NoError(t, arch.ExportRun(ctx, "run-abc", start))

	orders := up.objects["runs/run-abc/orders.jsonl"]
	require.Contains(t, orders, `"new-order"`)
	require.NotContains(t, orders, `"old-order"`)
}
