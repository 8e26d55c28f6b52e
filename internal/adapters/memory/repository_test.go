package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

func newTrade(pair string) *domain.Trade {
	return &domain.Trade{
		Pair:     pair,
		IsOpen:   true,
		Amount:   money.One,
		OpenRate: money.NewFromInt(100),
		OpenDate: time.Now().UTC(),
	}
}

func TestRepository_SaveAndQueryTrade(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(nil)

	tr := newTrade("ETHUSDT")
	require.NoError(t, repo.SaveTrade(ctx, tr))
	require.Equal(t, int64(1), tr.ID)

	order := &domain.Order{TradeID: tr.ID, OrderID: "ex-1", Side: domain.Buy, Status: domain.OrderStatusCreated, IsOpen: true}
	require.NoError(t, repo.SaveOrder(ctx, order))

	got, err := repo.QueryTradeByID(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, "ex-1", got.Orders[0].OrderID)

	// mutating the returned copy does not leak into the store
	got.Pair = "changed"
	again, err := repo.QueryTradeByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", again.Pair)

	byExchangeID, err := repo.QueryOrderByExchangeID(ctx, "ex-1")
	require.NoError(t, err)
	require.NotNil(t, byExchangeID)
	assert.Equal(t, order.ID, byExchangeID.ID)

	missing, err := repo.QueryTradeByID(ctx, 42)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_SaveOrderRequiresTrade(t *testing.T) {
	repo := NewRepository(nil)
	err := repo.SaveOrder(context.Background(), &domain.Order{TradeID: 9})
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRepository_QueryTradesFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(nil)

	for _, pair := range []string{"ETHUSDT", "BTCUSDT", "ETHUSDT"} {
		require.NoError(t, repo.SaveTrade(ctx, newTrade(pair)))
	}
	closed, err := repo.QueryTradeByID(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, closed.MarkClosed(money.NewFromInt(101), time.Now().UTC(), domain.ExitReasonROI))
	require.NoError(t, repo.SaveTrade(ctx, closed))

	open, err := repo.QueryOpenTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	eth, err := repo.QueryTrades(ctx, ports.TradeFilter{Pair: "ETHUSDT"})
	require.NoError(t, err)
	assert.Len(t, eth, 2)

	byID, err := repo.QueryTrades(ctx, ports.TradeFilter{IDs: []int64{1, 2}})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	recent, err := repo.QueryTrades(ctx, ports.TradeFilter{ClosedAfter: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(2), recent[0].ID)
}

func TestRepository_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(nil)
	tr := newTrade("ETHUSDT")
	require.NoError(t, repo.SaveTrade(ctx, tr))

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(tx ports.Repository) error {
		tr.Amount = money.NewFromInt(5)
		if err := tx.SaveTrade(ctx, tr); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, &domain.Order{TradeID: tr.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.QueryTradeByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(money.One), "amount change must be rolled back")
	assert.Empty(t, got.Orders)
}

func TestRepository_InTxCommits(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(nil)

	var id int64
	err := repo.InTx(ctx, func(tx ports.Repository) error {
		tr := newTrade("ETHUSDT")
		if err := tx.SaveTrade(ctx, tr); err != nil {
			return err
		}
		id = tr.ID
		return tx.SaveOrder(ctx, &domain.Order{TradeID: tr.ID, Status: domain.OrderStatusCreated})
	})
	require.NoError(t, err)

	got, err := repo.QueryTradeByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Orders, 1)
}

func TestRepository_Locks(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	lock := &domain.PairLock{Pair: "ETHUSDT", LockTime: now, LockEndTime: now.Add(time.Minute), Active: true}
	require.NoError(t, repo.SavePairLock(ctx, lock))

	active, err := repo.QueryLocks(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, active, 1)

	n, err := repo.PurgeLocks(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err = repo.QueryLocks(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, active)
}
