package core

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// WalletService manages seller wallet balances and their transaction ledger.
// Debits run under an optimistic version check: a concurrent mutation fails the
// debit with ErrVersionConflict instead of silently double-spending.
type WalletService interface {
	Get(ctx context.Context, companyID int) (*Wallet, error)
	// Debit subtracts amount from the company wallet if the version still
	// matches and the balance suffices, recording exactly one transaction.
	// idempotencyKey deduplicates retries of the same logical debit.
	Debit(ctx context.Context, companyID int, expectedVersion int, amount decimal.Decimal, reference, narration, idempotencyKey string) (*WalletTransaction, error)
	Credit(ctx context.Context, companyID int, amount decimal.Decimal, reference, narration string) (*WalletTransaction, error)
	// Reverse compensates a debit with a matching credit. A transaction can be
	// reversed at most once.
	Reverse(ctx context.Context, txnID int, reason string) (*WalletTransaction, error)
}

type walletService struct {
	pool *pgxpool.Pool
}

func NewWalletService(pool *pgxpool.Pool) WalletService {
	return &walletService{pool: pool}
}

func (s *walletService) Get(ctx context.Context, companyID int) (*Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		SELECT company_id, balance, version, updated_at FROM wallets WHERE company_id = $1
	`, companyID).Scan(&w.CompanyID, &w.Balance, &w.Version, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet for company %d: %w", companyID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch wallet: %w", err)
	}
	return &w, nil
}

func (s *walletService) Debit(ctx context.Context, companyID int, expectedVersion int, amount decimal.Decimal, reference, narration, idempotencyKey string) (*WalletTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: debit amount must be positive", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	var balanceAfter decimal.Decimal
	err = tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance - $1, version = version + 1, updated_at = NOW()
		WHERE company_id = $2 AND version = $3 AND balance >= $1
		RETURNING balance
	`, amount, companyID, expectedVersion).Scan(&balanceAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.classifyDebitFailure(ctx, companyID, expectedVersion, amount)
		}
		return nil, fmt.Errorf("debit wallet: %w", err)
	}

	txn := WalletTransaction{
		CompanyID:      companyID,
		TxnType:        "debit",
		Amount:         amount,
		BalanceAfter:   balanceAfter,
		Reference:      reference,
		Narration:      narration,
		IdempotencyKey: idempotencyKey,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (company_id, txn_type, amount, balance_after, reference, narration, idempotency_key)
		VALUES ($1, 'debit', $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, created_at
	`, companyID, amount, balanceAfter, reference, narration, idempotencyKey).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("debit with idempotency key %s already recorded: %w", idempotencyKey, ErrValidation)
		}
		return nil, fmt.Errorf("record debit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit debit: %w", err)
	}
	return &txn, nil
}

// classifyDebitFailure distinguishes a stale version from an insufficient
// balance after the conditional update matched no row.
func (s *walletService) classifyDebitFailure(ctx context.Context, companyID, expectedVersion int, amount decimal.Decimal) error {
	w, err := s.Get(ctx, companyID)
	if err != nil {
		return err
	}
	if w.Version != expectedVersion {
		return fmt.Errorf("wallet version %d, expected %d: %w", w.Version, expectedVersion, ErrVersionConflict)
	}
	return fmt.Errorf("balance %s, debit %s: %w", w.Balance, amount, ErrInsufficientBalance)
}

func (s *walletService) Credit(ctx context.Context, companyID int, amount decimal.Decimal, reference, narration string) (*WalletTransaction, error) {
	return s.credit(ctx, companyID, amount, reference, narration, nil)
}

func (s *walletService) credit(ctx context.Context, companyID int, amount decimal.Decimal, reference, narration string, reversalOf *int) (*WalletTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: credit amount must be positive", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback(ctx)

	var balanceAfter decimal.Decimal
	err = tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE company_id = $2
		RETURNING balance
	`, amount, companyID).Scan(&balanceAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet for company %d: %w", companyID, ErrNotFound)
		}
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	txn := WalletTransaction{
		CompanyID:    companyID,
		TxnType:      "credit",
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Reference:    reference,
		Narration:    narration,
		ReversalOf:   reversalOf,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (company_id, txn_type, amount, balance_after, reference, narration, reversal_of)
		VALUES ($1, 'credit', $2, $3, $4, $5, $6)
		ON CONFLICT (reversal_of) WHERE reversal_of IS NOT NULL DO NOTHING
		RETURNING id, created_at
	`, companyID, amount, balanceAfter, reference, narration, reversalOf).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		// The partial unique index on reversal_of absorbs the insert when a
		// concurrent reversal committed first; the balance update above rolls
		// back with the transaction.
		if errors.Is(err, pgx.ErrNoRows) && reversalOf != nil {
			return nil, fmt.Errorf("transaction %d: %w", *reversalOf, ErrAlreadyReversed)
		}
		return nil, fmt.Errorf("record credit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit credit: %w", err)
	}
	return &txn, nil
}

func (s *walletService) Reverse(ctx context.Context, txnID int, reason string) (*WalletTransaction, error) {
	var companyID int
	var amount decimal.Decimal
	var reference string
	err := s.pool.QueryRow(ctx, `
		SELECT company_id, amount, reference FROM wallet_transactions WHERE id = $1 AND txn_type = 'debit'
	`, txnID).Scan(&companyID, &amount, &reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("debit transaction %d: %w", txnID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch transaction %d: %w", txnID, err)
	}

	var count int
	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM wallet_transactions WHERE reversal_of = $1
	`, txnID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("check reversal status: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("transaction %d: %w", txnID, ErrAlreadyReversed)
	}

	narration := fmt.Sprintf("Reversal of transaction %d: %s", txnID, reason)
	rev, err := s.credit(ctx, companyID, amount, reference, narration, &txnID)
	if err != nil {
		return nil, err
	}
	// Compensations must be auditable even when the triggering error is
	// swallowed for the caller, so always log.
	log.Printf("wallet: reversed debit %d for company %d, amount %s (%s)", txnID, companyID, amount, reason)
	return rev, nil
}
