package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CODService reconciles collected COD amounts against what was expected and
// manages the resulting discrepancies.
type CODService interface {
	// Reconcile compares the reported collection against the shipment's
	// expected COD. An exact match reconciles; any mismatch opens a
	// discrepancy and marks the collection disputed. Reconciling an already
	// reconciled shipment is a no-op.
	Reconcile(ctx context.Context, shipmentID int, collected decimal.Decimal, collectedAt time.Time, source string) (*CODDiscrepancy, error)
	// ResolveDiscrepancy writes the adjusted amount as the authoritative
	// collection and closes the discrepancy.
	ResolveDiscrepancy(ctx context.Context, companyID, discrepancyID int, method string, adjustedAmount decimal.Decimal) error
	GetDiscrepancy(ctx context.Context, companyID, discrepancyID int) (*CODDiscrepancy, error)
	ListDiscrepancies(ctx context.Context, companyID int, status string) ([]CODDiscrepancy, error)
}

type codService struct {
	pool *pgxpool.Pool
}

func NewCODService(pool *pgxpool.Pool) CODService {
	return &codService{pool: pool}
}

func (s *codService) Reconcile(ctx context.Context, shipmentID int, collected decimal.Decimal, collectedAt time.Time, source string) (*CODDiscrepancy, error) {
	sh, err := scanShipment(ctx, s.pool, `WHERE id = $1`, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.PaymentMode != PaymentCOD {
		return nil, fmt.Errorf("%w: shipment %d is not COD", ErrValidation, shipmentID)
	}
	if sh.CollectionStatus == CollectionReconciled {
		return nil, nil
	}
	if collectedAt.IsZero() {
		collectedAt = time.Now()
	}

	if collected.Equal(sh.CODAmount) {
		_, err := s.pool.Exec(ctx, `
			UPDATE shipments
			SET collection_status = 'reconciled', actual_collection = $2, cod_collected_at = $3
			WHERE id = $1
		`, shipmentID, collected, collectedAt)
		if err != nil {
			return nil, fmt.Errorf("reconcile shipment: %w", err)
		}
		return nil, nil
	}

	difference := collected.Sub(sh.CODAmount)
	percentage := decimal.Zero
	if !sh.CODAmount.IsZero() {
		percentage = difference.Div(sh.CODAmount).Mul(decimal.NewFromInt(100)).Round(4)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback(ctx)

	d := CODDiscrepancy{
		ShipmentID:     &sh.ID,
		CompanyID:      &sh.CompanyID,
		AWB:            sh.AWB,
		Kind:           DiscrepancyAmountMismatch,
		ExpectedAmount: sh.CODAmount,
		ActualAmount:   collected,
		Difference:     difference,
		Percentage:     percentage,
		Source:         source,
		Status:         "detected",
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO cod_discrepancies (shipment_id, company_id, awb, kind, expected_amount, actual_amount, difference, percentage, source)
		VALUES ($1, $2, $3, 'amount_mismatch', $4, $5, $6, $7, $8)
		RETURNING id, detected_at
	`, sh.ID, sh.CompanyID, sh.AWB, sh.CODAmount, collected, difference, percentage, source).
		Scan(&d.ID, &d.DetectedAt)
	if err != nil {
		return nil, fmt.Errorf("create discrepancy: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE shipments
		SET collection_status = 'disputed', actual_collection = $2, cod_collected_at = $3, discrepancy_id = $4
		WHERE id = $1
	`, shipmentID, collected, collectedAt, d.ID)
	if err != nil {
		return nil, fmt.Errorf("mark shipment disputed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}

	log.Printf("cod: discrepancy %d on shipment %d: expected %s, collected %s (diff %s)",
		d.ID, shipmentID, sh.CODAmount, collected, difference)
	return &d, nil
}

func (s *codService) ResolveDiscrepancy(ctx context.Context, companyID, discrepancyID int, method string, adjustedAmount decimal.Decimal) error {
	if method == "" {
		return fmt.Errorf("%w: resolution method is required", ErrValidation)
	}
	if adjustedAmount.IsNegative() {
		return fmt.Errorf("%w: adjusted amount cannot be negative", ErrValidation)
	}

	d, err := s.GetDiscrepancy(ctx, companyID, discrepancyID)
	if err != nil {
		return err
	}
	if d.Status == "resolved" {
		return fmt.Errorf("%w: discrepancy %d already resolved", ErrValidation, discrepancyID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE cod_discrepancies
		SET status = 'resolved', resolution = $2, adjusted_amount = $3, resolved_at = NOW()
		WHERE id = $1
	`, discrepancyID, method, adjustedAmount)
	if err != nil {
		return fmt.Errorf("resolve discrepancy: %w", err)
	}

	if d.ShipmentID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE shipments
			SET collection_status = 'reconciled', actual_collection = $2
			WHERE id = $1
		`, *d.ShipmentID, adjustedAmount)
		if err != nil {
			return fmt.Errorf("apply adjusted collection: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resolve: %w", err)
	}
	log.Printf("cod: discrepancy %d resolved via %s, adjusted to %s", discrepancyID, method, adjustedAmount)
	return nil
}

const discrepancyColumns = `
	id, shipment_id, company_id, awb, kind, expected_amount, actual_amount, difference,
	percentage, source, status, resolution, adjusted_amount, detected_at, resolved_at`

func scanDiscrepancy(row pgx.Row) (*CODDiscrepancy, error) {
	var d CODDiscrepancy
	err := row.Scan(&d.ID, &d.ShipmentID, &d.CompanyID, &d.AWB, &d.Kind, &d.ExpectedAmount,
		&d.ActualAmount, &d.Difference, &d.Percentage, &d.Source, &d.Status,
		&d.Resolution, &d.AdjustedAmount, &d.DetectedAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *codService) GetDiscrepancy(ctx context.Context, companyID, discrepancyID int) (*CODDiscrepancy, error) {
	d, err := scanDiscrepancy(s.pool.QueryRow(ctx, `
		SELECT `+discrepancyColumns+` FROM cod_discrepancies WHERE id = $1
	`, discrepancyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("discrepancy %d: %w", discrepancyID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch discrepancy: %w", err)
	}
	if d.CompanyID != nil && *d.CompanyID != companyID {
		return nil, fmt.Errorf("discrepancy %d: %w", discrepancyID, ErrAccessDenied)
	}
	return d, nil
}

func (s *codService) ListDiscrepancies(ctx context.Context, companyID int, status string) ([]CODDiscrepancy, error) {
	query := `SELECT ` + discrepancyColumns + ` FROM cod_discrepancies WHERE company_id = $1`
	args := []any{companyID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY detected_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query discrepancies: %w", err)
	}
	defer rows.Close()

	var out []CODDiscrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discrepancy: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
