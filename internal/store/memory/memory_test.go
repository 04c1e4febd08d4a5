package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajcrowley/tradesim/internal/domain"
)

func TestOrderHistoryUpsertAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := New()
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, repo.SaveOrder(ctx, domain.Order{
		ID: "o1", Symbol: "SIM1", Status: domain.OrderStatusSubmitted, CreatedAt: base,
	}))
	require.NoError(t, repo.SaveOrder(ctx, domain.Order{
		ID: "o2", Symbol: "SIM2", Status: domain.OrderStatusSubmitted, CreatedAt: base.Add(time.Minute),
	}))
	// Same id again replaces the stored state, not the position in history.
	require.NoError(t, repo.SaveOrder(ctx, domain.Order{
		ID: "o1", Symbol: "SIM1", Status: domain.OrderStatusFilled, CreatedAt: base,
	}))

	all, err := repo.GetOrderHistory(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "o2", all[0].ID, "newest first")
	assert.Equal(t, domain.OrderStatusFilled, all[1].Status, "upsert kept latest state")

	sim1, err := repo.GetOrderHistory(ctx, "SIM1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, sim1, 1)
	assert.Equal(t, "o1", sim1[0].ID)
}

func TestOrderHistoryPagination(t *testing.T) {
	ctx := context.Background()
	repo := New()
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveOrder(ctx, domain.Order{
			ID:        string(rune('a' + i)),
			Symbol:    "SIM1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := repo.GetOrderHistory(ctx, "SIM1", domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].ID)
	assert.Equal(t, "c", page[1].ID)

	empty, err := repo.GetOrderHistory(ctx, "SIM1", domain.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAccountHistoryTimeWindow(t *testing.T) {
	ctx := context.Background()
	repo := New()
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.SaveAccountSnapshot(ctx, domain.AccountSnapshot{
			AccountID: "acct-1",
			Cash:      1000 + float64(i),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	since := base.Add(time.Hour)
	until := base.Add(2 * time.Hour)
	window, err := repo.GetAccountHistory(ctx, "acct-1", domain.ListOpts{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, 1002.0, window[0].Cash)
	assert.Equal(t, 1001.0, window[1].Cash)

	other, err := repo.GetAccountHistory(ctx, "acct-2", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStrategyLogsAssignIDs(t *testing.T) {
	ctx := context.Background()
	repo := New()
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.LogStrategyExecution(ctx, domain.StrategyLogEntry{
			StrategyID: "s1",
			Level:      "info",
			Message:    "tick",
			Timestamp:  now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.LogStrategyExecution(ctx, domain.StrategyLogEntry{
		StrategyID: "s2",
		Level:      "warn",
		Message:    "other strategy",
		Timestamp:  now,
	}))

	logs, err := repo.GetStrategyLogs(ctx, "s1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, int64(3), logs[0].ID, "newest first with monotonic ids")
	assert.Equal(t, int64(1), logs[2].ID)
}
