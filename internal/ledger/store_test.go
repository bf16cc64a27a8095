package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quicktrade-sim-go/internal/database"
	"quicktrade-sim-go/internal/models"
)

// setupStore creates a Store on a fresh in-memory database.
func setupStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return NewStore(db, 1000)
}

func openTrade(id, user string, opened time.Time) *models.Trade {
	return &models.Trade{
		ID: id, UserID: user, Symbol: "EUR/USD", Side: models.SideBuy,
		Amount: 100, EntryPrice: 1.085, DurationSeconds: 60,
		OpenedAt: opened, Status: models.TradeStatusOpen,
	}
}

func TestStore_TradableBalance_OpensAccount(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Account(ctx, "alice")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	balance, err := s.TradableBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, balance)

	account, err := s.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, account.TradableBalance)
	assert.Zero(t, account.RealizedProfit)
}

func TestStore_DebitStake(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		s := setupStore(t)
		require.NoError(t, s.DebitStake(ctx, "alice", "t1", 250))

		balance, err := s.TradableBalance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 750.0, balance)
	})

	t.Run("Idempotent", func(t *testing.T) {
		s := setupStore(t)
		require.NoError(t, s.DebitStake(ctx, "alice", "t1", 250))
		require.NoError(t, s.DebitStake(ctx, "alice", "t1", 250))

		balance, _ := s.TradableBalance(ctx, "alice")
		assert.Equal(t, 750.0, balance)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		s := setupStore(t)
		err := s.DebitStake(ctx, "alice", "t1", 1000.01)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		balance, _ := s.TradableBalance(ctx, "alice")
		assert.Equal(t, 1000.0, balance)
	})
}

func TestStore_ApplyBalanceDelta(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	require.NoError(t, s.DebitStake(ctx, "bob", "t1", 100))
	require.NoError(t, s.ApplyBalanceDelta(ctx, "bob", "t1", 100, 10.25))
	// A retried credit must not pay twice.
	require.NoError(t, s.ApplyBalanceDelta(ctx, "bob", "t1", 100, 10.25))

	require.NoError(t, s.DebitStake(ctx, "bob", "t2", 100))
	require.NoError(t, s.ApplyBalanceDelta(ctx, "bob", "t2", 100, -4.5))

	account, err := s.Account(ctx, "bob")
	require.NoError(t, err)
	assert.InDelta(t, 1005.75, account.TradableBalance, 1e-9)
	assert.InDelta(t, 5.75, account.RealizedProfit, 1e-9)
}

func TestStore_PersistTrade(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	opened := time.Now().Add(-time.Minute).UTC()

	trade := openTrade("t1", "alice", opened)
	require.NoError(t, s.PersistTrade(ctx, trade))

	trade.Close(1.08609, 10, true, opened.Add(time.Minute), models.CloseReasonExpired)
	trade.CreditStatus = models.CreditStatusApplied
	require.NoError(t, s.PersistTrade(ctx, trade))
	require.NoError(t, s.PersistTrade(ctx, trade))

	got, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, got.Status)
	require.NotNil(t, got.PnL)
	assert.Equal(t, 10.0, *got.PnL)
	assert.Equal(t, models.CreditStatusApplied, got.CreditStatus)

	all, err := s.ListTrades(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.GetTrade(ctx, "missing")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestStore_PersistTrade_ClosedRowIsNotReopened(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	opened := time.Now().Add(-time.Minute).UTC()

	closed := openTrade("t1", "alice", opened)
	closed.Close(1.08, -4, false, opened.Add(time.Minute), models.CloseReasonExpired)
	closed.CreditStatus = models.CreditStatusApplied
	require.NoError(t, s.PersistTrade(ctx, closed))

	// The open snapshot arrives after the close.
	require.NoError(t, s.PersistTrade(ctx, openTrade("t1", "alice", opened)))

	got, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, got.Status)
	assert.Equal(t, models.CreditStatusApplied, got.CreditStatus)
	require.NotNil(t, got.PnL)
	assert.Equal(t, -4.0, *got.PnL)

	unfinished, err := s.UnfinishedTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestStore_UnfinishedTrades(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.PersistTrade(ctx, openTrade("open", "a", now.Add(-3*time.Second))))

	settling := openTrade("settling", "a", now.Add(-2*time.Second))
	settling.Status = models.TradeStatusSettling
	require.NoError(t, s.PersistTrade(ctx, settling))

	pending := openTrade("pending", "a", now.Add(-time.Second))
	pending.Close(1.1, 5, true, now, models.CloseReasonExpired)
	pending.CreditStatus = models.CreditStatusPending
	require.NoError(t, s.PersistTrade(ctx, pending))

	done := openTrade("done", "a", now)
	done.Close(1.1, 5, true, now, models.CloseReasonExpired)
	done.CreditStatus = models.CreditStatusApplied
	require.NoError(t, s.PersistTrade(ctx, done))

	got, err := s.UnfinishedTrades(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, tr := range got {
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"open", "settling", "pending"}, ids)
}

func TestStore_ListAndClosedSince(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	now := time.Now().UTC()

	old := openTrade("old", "alice", now.Add(-48*time.Hour))
	old.Close(1.1, -3, false, now.Add(-47*time.Hour), models.CloseReasonExpired)
	require.NoError(t, s.PersistTrade(ctx, old))

	recent := openTrade("recent", "alice", now.Add(-time.Hour))
	recent.Close(1.1, 8, true, now.Add(-time.Hour+time.Minute), models.CloseReasonExpired)
	require.NoError(t, s.PersistTrade(ctx, recent))

	require.NoError(t, s.PersistTrade(ctx, openTrade("bob-open", "bob", now)))

	alice, err := s.ListTrades(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, "recent", alice[0].ID)

	limited, err := s.ListTrades(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	closed, err := s.ClosedTradesSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "recent", closed[0].ID)

	everything, err := s.ClosedTradesSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, everything, 2)
}
