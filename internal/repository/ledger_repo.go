package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const reservationColumns = `id, wallet_address, subscription_id, entry_type, amount, idempotency_key,
	managed_qualified_balance, reserved_balance_after, available_balance_after, note, created_at`

const reserveFundColumns = `id, entry_type, amount, balance_after, subscription_id, note, created_at`

// ── Net deposits (external, read-only) ────────────────────────────────────────

// SumNetDeposits totals DEPOSIT and WITHDRAW rows for the wallet.
func (s *PGStore) SumNetDeposits(ctx context.Context, wallet string) (decimal.Decimal, decimal.Decimal, error) {
	var row struct {
		Deposits    decimal.Decimal `db:"deposits"`
		Withdrawals decimal.Decimal `db:"withdrawals"`
	}
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT
			COALESCE(SUM(usd_amount) FILTER (WHERE direction = 'DEPOSIT'), 0)  AS deposits,
			COALESCE(SUM(usd_amount) FILTER (WHERE direction = 'WITHDRAW'), 0) AS withdrawals
		FROM net_deposit_ledger
		WHERE wallet_address = $1`, wallet)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger_repo.SumNetDeposits: %w", err)
	}
	return row.Deposits, row.Withdrawals, nil
}

// ── Principal reservations ────────────────────────────────────────────────────

// SumReservations totals RESERVE and RELEASE entries for the wallet.
func (s *PGStore) SumReservations(ctx context.Context, wallet string) (decimal.Decimal, decimal.Decimal, error) {
	var row struct {
		Reserved decimal.Decimal `db:"reserved"`
		Released decimal.Decimal `db:"released"`
	}
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'RESERVE'), 0) AS reserved,
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'RELEASE'), 0) AS released
		FROM managed_principal_reservation_ledger
		WHERE wallet_address = $1`, wallet)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger_repo.SumReservations: %w", err)
	}
	return row.Reserved, row.Released, nil
}

// GetReservationByKey returns the entry with the idempotency key, or nil.
func (s *PGStore) GetReservationByKey(ctx context.Context, key string) (*domain.ReservationEntry, error) {
	var e domain.ReservationEntry
	err := sqlx.GetContext(ctx, s.q, &e, `
		SELECT `+reservationColumns+`
		FROM managed_principal_reservation_ledger
		WHERE idempotency_key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger_repo.GetReservationByKey: %w", err)
	}
	return &e, nil
}

// UpsertReservation writes the entry keyed by idempotency_key. A retry with
// the same key overwrites the amounts instead of appending a second row.
func (s *PGStore) UpsertReservation(ctx context.Context, e *domain.ReservationEntry) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_principal_reservation_ledger
			(id, wallet_address, subscription_id, entry_type, amount, idempotency_key,
			 managed_qualified_balance, reserved_balance_after, available_balance_after, note, created_at)
		VALUES
			(:id, :wallet_address, :subscription_id, :entry_type, :amount, :idempotency_key,
			 :managed_qualified_balance, :reserved_balance_after, :available_balance_after, :note, :created_at)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			amount                    = EXCLUDED.amount,
			managed_qualified_balance = EXCLUDED.managed_qualified_balance,
			reserved_balance_after    = EXCLUDED.reserved_balance_after,
			available_balance_after   = EXCLUDED.available_balance_after,
			note                      = EXCLUDED.note`, e)
	if err != nil {
		return fmt.Errorf("ledger_repo.UpsertReservation: %w", err)
	}
	return nil
}

// InsertReservationIfAbsent inserts the entry unless its key exists.
func (s *PGStore) InsertReservationIfAbsent(ctx context.Context, e *domain.ReservationEntry) (bool, error) {
	res, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO managed_principal_reservation_ledger
			(id, wallet_address, subscription_id, entry_type, amount, idempotency_key,
			 managed_qualified_balance, reserved_balance_after, available_balance_after, note, created_at)
		VALUES
			(:id, :wallet_address, :subscription_id, :entry_type, :amount, :idempotency_key,
			 :managed_qualified_balance, :reserved_balance_after, :available_balance_after, :note, :created_at)
		ON CONFLICT (idempotency_key) DO NOTHING`, e)
	if err != nil {
		return false, fmt.Errorf("ledger_repo.InsertReservationIfAbsent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ── Reserve fund ──────────────────────────────────────────────────────────────

// ReserveFundBalance is the signed sum of every reserve fund entry.
func (s *PGStore) ReserveFundBalance(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := sqlx.GetContext(ctx, s.q, &total, `
		SELECT COALESCE(SUM(
			CASE WHEN entry_type IN ('WITHDRAW', 'GUARANTEE_TOPUP') THEN -amount ELSE amount END
		), 0)
		FROM reserve_fund_ledger`)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_repo.ReserveFundBalance: %w", err)
	}
	return total, nil
}

// AppendReserveEntry appends a reserve fund entry.
func (s *PGStore) AppendReserveEntry(ctx context.Context, e *domain.ReserveFundEntry) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO reserve_fund_ledger
			(id, entry_type, amount, balance_after, subscription_id, note, created_at)
		VALUES
			(:id, :entry_type, :amount, :balance_after, :subscription_id, :note, :created_at)`, e)
	if err != nil {
		return fmt.Errorf("ledger_repo.AppendReserveEntry: %w", err)
	}
	return nil
}

// ListReserveEntries returns the most recent reserve fund entries.
func (s *PGStore) ListReserveEntries(ctx context.Context, limit int) ([]*domain.ReserveFundEntry, error) {
	var out []*domain.ReserveFundEntry
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT `+reserveFundColumns+`
		FROM reserve_fund_ledger
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.ListReserveEntries: %w", err)
	}
	return out, nil
}
