// Package ledger persists trades and user balances with gorm.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quicktrade-sim-go/internal/models"
)

var (
	// ErrInsufficientFunds is returned when a debit would take the balance below zero.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrAccountNotFound is returned for users that never traded.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrTradeNotFound is returned when no trade has the requested id.
	ErrTradeNotFound = errors.New("ledger: trade not found")
)

// Store is the gorm-backed balance ledger and trade repository.
type Store struct {
	db              *gorm.DB
	startingBalance float64
}

// NewStore creates a Store. Accounts seen for the first time are opened
// with startingBalance.
func NewStore(db *gorm.DB, startingBalance float64) *Store {
	return &Store{db: db, startingBalance: startingBalance}
}

func (s *Store) ensureAccount(tx *gorm.DB, userID string) (*models.Account, error) {
	account := models.Account{UserID: userID}
	if err := tx.Where(models.Account{UserID: userID}).
		Attrs(models.Account{TradableBalance: s.startingBalance}).
		FirstOrCreate(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to open account for user '%s': %w", userID, err)
	}
	return &account, nil
}

func entryExists(tx *gorm.DB, tradeID string, kind models.LedgerEntryKind) (bool, error) {
	var count int64
	if err := tx.Model(&models.LedgerEntry{}).
		Where("trade_id = ? AND kind = ?", tradeID, kind).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// TradableBalance returns the user's balance available for new trades.
func (s *Store) TradableBalance(ctx context.Context, userID string) (float64, error) {
	account, err := s.ensureAccount(s.db.WithContext(ctx), userID)
	if err != nil {
		return 0, err
	}
	return account.TradableBalance, nil
}

// Account returns the user's account.
func (s *Store) Account(ctx context.Context, userID string) (models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return account, ErrAccountNotFound
	}
	if err != nil {
		return account, fmt.Errorf("failed to load account '%s': %w", userID, err)
	}
	return account, nil
}

// DebitStake moves amount out of the tradable balance while the trade is open.
// A second debit for the same trade is a no-op.
func (s *Store) DebitStake(ctx context.Context, userID, tradeID string, amount float64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		done, err := entryExists(tx, tradeID, models.LedgerDebit)
		if err != nil {
			return fmt.Errorf("failed to check debit for trade '%s': %w", tradeID, err)
		}
		if done {
			return nil
		}
		if _, err := s.ensureAccount(tx, userID); err != nil {
			return err
		}

		res := tx.Model(&models.Account{}).
			Where("user_id = ? AND tradable_balance >= ?", userID, amount).
			Update("tradable_balance", gorm.Expr("tradable_balance - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("failed to debit stake for trade '%s': %w", tradeID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientFunds
		}

		return tx.Create(&models.LedgerEntry{TradeID: tradeID, Kind: models.LedgerDebit, UserID: userID, Stake: amount}).Error
	})
}

// ApplyBalanceDelta credits stakeReturned+pnl to the tradable balance and pnl
// to realized profit. A second credit for the same trade is a no-op.
func (s *Store) ApplyBalanceDelta(ctx context.Context, userID, tradeID string, stakeReturned, pnl float64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		done, err := entryExists(tx, tradeID, models.LedgerCredit)
		if err != nil {
			return fmt.Errorf("failed to check credit for trade '%s': %w", tradeID, err)
		}
		if done {
			return nil
		}
		if _, err := s.ensureAccount(tx, userID); err != nil {
			return err
		}

		if err := tx.Model(&models.Account{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"tradable_balance": gorm.Expr("tradable_balance + ?", stakeReturned+pnl),
				"realized_profit":  gorm.Expr("realized_profit + ?", pnl),
			}).Error; err != nil {
			return fmt.Errorf("failed to credit trade '%s': %w", tradeID, err)
		}

		return tx.Create(&models.LedgerEntry{TradeID: tradeID, Kind: models.LedgerCredit, UserID: userID, Stake: stakeReturned, PnL: pnl}).Error
	})
}

// PersistTrade upserts the trade. Writing the same final state twice is
// harmless, and a late write of an earlier status never reopens a closed row.
func (s *Store) PersistTrade(ctx context.Context, trade *models.Trade) error {
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			UpdateAll: true,
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{
					SQL:  "trades.status <> ? OR excluded.status = ?",
					Vars: []any{models.TradeStatusClosed, models.TradeStatusClosed},
				},
			}},
		}).
		Create(trade).Error; err != nil {
		return fmt.Errorf("failed to persist trade '%s': %w", trade.ID, err)
	}
	return nil
}

// UnfinishedTrades returns trades a previous process left open or mid-settlement,
// plus closed trades whose credit never reached the ledger.
func (s *Store) UnfinishedTrades(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.TradeStatus{models.TradeStatusOpen, models.TradeStatusSettling}).
		Or("status = ? AND credit_status = ?", models.TradeStatusClosed, models.CreditStatusPending).
		Order("opened_at").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load unfinished trades: %w", err)
	}
	return trades, nil
}

// GetTrade returns a single trade by id.
func (s *Store) GetTrade(ctx context.Context, id string) (models.Trade, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).First(&trade, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return trade, ErrTradeNotFound
	}
	if err != nil {
		return trade, fmt.Errorf("failed to load trade '%s': %w", id, err)
	}
	return trade, nil
}

// ListTrades returns the user's trades, most recent first. An empty userID lists everyone's.
func (s *Store) ListTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).Order("opened_at desc")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var trades []models.Trade
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// ClosedTradesSince returns closed trades with closed_at on or after since.
// A zero since returns every closed trade.
func (s *Store) ClosedTradesSince(ctx context.Context, since time.Time) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).Where("status = ?", models.TradeStatusClosed)
	if !since.IsZero() {
		q = q.Where("closed_at >= ?", since)
	}
	var trades []models.Trade
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load closed trades: %w", err)
	}
	return trades, nil
}
