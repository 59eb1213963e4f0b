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

// Early-remittance program thresholds.
const (
	minAccountAgeDays    = 90
	minDeliveredCOD      = 50
	maxRTORatePct        = 25
	maxDisputeRatePct    = 5
	earlyPayoutFeePctInt = 3
)

var earlyPayoutFeeRate = decimal.New(earlyPayoutFeePctInt, -2) // 0.03

// EligibilityChecker decides whether a company may enroll in early remittance.
// The production checker reads account history; tests substitute a stub.
type EligibilityChecker interface {
	Check(ctx context.Context, companyID int) (*EligibilityReport, error)
}

// RemittanceService runs the early COD payout program: enrollment, batch
// creation, and settlement reconciliation.
type RemittanceService interface {
	Eligibility(ctx context.Context, companyID int) (*EligibilityReport, error)
	Enroll(ctx context.Context, companyID int, tier string) error
	// CreateBatch collects every newly payable reconciled COD shipment into one
	// batch. Idempotent: a run with nothing newly eligible returns a zero-count
	// result and creates no batch.
	CreateBatch(ctx context.Context, companyID int) (*BatchResult, error)
	GetBatch(ctx context.Context, companyID, batchID int) (*RemittanceBatch, error)
	// EnrolledCompanies lists companies with an active tier, for the sweep.
	EnrolledCompanies(ctx context.Context) ([]int, error)
	// ApplySettlement reconciles a carrier settlement report line by line.
	// Unknown AWBs and amount mismatches become discrepancies; they never abort
	// the remaining lines.
	ApplySettlement(ctx context.Context, payload SettlementPayload) error
}

type remittanceService struct {
	pool        *pgxpool.Pool
	eligibility EligibilityChecker
}

func NewRemittanceService(pool *pgxpool.Pool, eligibility EligibilityChecker) RemittanceService {
	return &remittanceService{pool: pool, eligibility: eligibility}
}

// ── Eligibility ──

// dbEligibilityChecker reads the thresholds from live account data.
type dbEligibilityChecker struct {
	pool *pgxpool.Pool
}

func NewEligibilityChecker(pool *pgxpool.Pool) EligibilityChecker {
	return &dbEligibilityChecker{pool: pool}
}

func (c *dbEligibilityChecker) Check(ctx context.Context, companyID int) (*EligibilityReport, error) {
	company, err := GetCompany(ctx, c.pool, companyID)
	if err != nil {
		return nil, err
	}

	var deliveredCOD, rtoCount, disputeCount, totalShipments int
	err = c.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE payment_mode = 'cod' AND status = 'delivered'),
			count(*) FILTER (WHERE status IN ('rto_triggered', 'rto_delivered')),
			count(*) FILTER (WHERE collection_status = 'disputed'),
			count(*)
		FROM shipments WHERE company_id = $1
	`, companyID).Scan(&deliveredCOD, &rtoCount, &disputeCount, &totalShipments)
	if err != nil {
		return nil, fmt.Errorf("aggregate shipment stats: %w", err)
	}

	report := &EligibilityReport{
		AccountAgeDays:    int(time.Since(company.CreatedAt).Hours() / 24),
		DeliveredCODCount: deliveredCOD,
	}
	if totalShipments > 0 {
		total := decimal.NewFromInt(int64(totalShipments))
		report.RTORatePct = decimal.NewFromInt(int64(rtoCount)).Div(total).Mul(decimal.NewFromInt(100)).Round(2)
		report.DisputeRatePct = decimal.NewFromInt(int64(disputeCount)).Div(total).Mul(decimal.NewFromInt(100)).Round(2)
	}

	if report.AccountAgeDays < minAccountAgeDays {
		report.Reasons = append(report.Reasons, fmt.Sprintf("account age %d days, need %d", report.AccountAgeDays, minAccountAgeDays))
	}
	if deliveredCOD < minDeliveredCOD {
		report.Reasons = append(report.Reasons, fmt.Sprintf("%d delivered COD shipments, need %d", deliveredCOD, minDeliveredCOD))
	}
	if report.RTORatePct.GreaterThan(decimal.NewFromInt(maxRTORatePct)) {
		report.Reasons = append(report.Reasons, fmt.Sprintf("RTO rate %s%%, max %d%%", report.RTORatePct, maxRTORatePct))
	}
	if report.DisputeRatePct.GreaterThan(decimal.NewFromInt(maxDisputeRatePct)) {
		report.Reasons = append(report.Reasons, fmt.Sprintf("dispute rate %s%%, max %d%%", report.DisputeRatePct, maxDisputeRatePct))
	}
	report.Eligible = len(report.Reasons) == 0
	return report, nil
}

func (s *remittanceService) Eligibility(ctx context.Context, companyID int) (*EligibilityReport, error) {
	return s.eligibility.Check(ctx, companyID)
}

func (s *remittanceService) Enroll(ctx context.Context, companyID int, tier string) error {
	if _, ok := tierDayOffsets[tier]; !ok {
		return fmt.Errorf("%w: unknown tier %q", ErrValidation, tier)
	}
	report, err := s.eligibility.Check(ctx, companyID)
	if err != nil {
		return err
	}
	if !report.Eligible {
		return fmt.Errorf("company %d: %v: %w", companyID, report.Reasons, ErrNotEligible)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE companies SET cod_tier = $2, cod_enrolled_at = NOW() WHERE id = $1
	`, companyID, tier)
	if err != nil {
		return fmt.Errorf("enroll company: %w", err)
	}
	log.Printf("remittance: company %d enrolled in %s", companyID, tier)
	return nil
}

// ── Batch creation ──

type claimedShipment struct {
	id             int
	awb            string
	collected      decimal.Decimal
	shippingCharge decimal.Decimal
}

func (s *remittanceService) CreateBatch(ctx context.Context, companyID int) (*BatchResult, error) {
	company, err := GetCompany(ctx, s.pool, companyID)
	if err != nil {
		return nil, err
	}
	if company.CODTier == nil {
		return nil, fmt.Errorf("company %d: %w", companyID, ErrNotEnrolled)
	}
	tier := *company.CODTier
	offsetDays := tierDayOffsets[tier]

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	// Claim and select in one statement: the inclusion flag flips atomically,
	// so a shipment can never land in two batches even under concurrent runs.
	rows, err := tx.Query(ctx, `
		UPDATE shipments
		SET remittance_included = TRUE
		WHERE company_id = $1
		  AND payment_mode = 'cod'
		  AND status = 'delivered'
		  AND collection_status = 'reconciled'
		  AND NOT remittance_included
		  AND cod_collected_at <= NOW() - make_interval(days => $2)
		RETURNING id, awb, actual_collection, shipping_charge
	`, companyID, offsetDays)
	if err != nil {
		return nil, fmt.Errorf("claim shipments: %w", err)
	}
	var claimed []claimedShipment
	for rows.Next() {
		var c claimedShipment
		if err := rows.Scan(&c.id, &c.awb, &c.collected, &c.shippingCharge); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claimed shipment: %w", err)
		}
		claimed = append(claimed, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(claimed) == 0 {
		// Nothing newly payable: no empty batch, and the rollback releases
		// nothing because nothing was claimed.
		return &BatchResult{Included: 0}, nil
	}

	totalCOD := decimal.Zero
	shippingDeduction := decimal.Zero
	for _, c := range claimed {
		totalCOD = totalCOD.Add(c.collected)
		shippingDeduction = shippingDeduction.Add(c.shippingCharge)
	}
	fee := totalCOD.Mul(earlyPayoutFeeRate).Round(2)
	netPayable := totalCOD.Sub(shippingDeduction).Sub(fee)

	batch := RemittanceBatch{
		BatchNumber:       fmt.Sprintf("RB-%d-%d", companyID, time.Now().UnixMilli()),
		CompanyID:         companyID,
		Tier:              tier,
		ShipmentCount:     len(claimed),
		TotalCOD:          totalCOD,
		ShippingDeduction: shippingDeduction,
		EarlyPayoutFee:    fee,
		NetPayable:        netPayable,
		Status:            "created",
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO remittance_batches (batch_number, company_id, tier, shipment_count, total_cod, shipping_deduction, early_payout_fee, net_payable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, batch.BatchNumber, companyID, tier, len(claimed), totalCOD, shippingDeduction, fee, netPayable).
		Scan(&batch.ID, &batch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	for _, c := range claimed {
		feeShare := c.collected.Mul(earlyPayoutFeeRate).Round(2)
		net := c.collected.Sub(c.shippingCharge).Sub(feeShare)
		if _, err := tx.Exec(ctx, `
			INSERT INTO remittance_batch_items (batch_id, shipment_id, awb, collected, fee_share, net_amount)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, batch.ID, c.id, c.awb, c.collected, feeShare, net); err != nil {
			return nil, fmt.Errorf("insert batch item: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE shipments SET remittance_batch_id = $2 WHERE id = $1
		`, c.id, batch.ID); err != nil {
			return nil, fmt.Errorf("stamp batch reference: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	log.Printf("remittance: batch %s for company %d: %d shipments, total %s, net %s",
		batch.BatchNumber, companyID, len(claimed), totalCOD, netPayable)
	return &BatchResult{Batch: &batch, Included: len(claimed)}, nil
}

func (s *remittanceService) GetBatch(ctx context.Context, companyID, batchID int) (*RemittanceBatch, error) {
	var b RemittanceBatch
	err := s.pool.QueryRow(ctx, `
		SELECT id, batch_number, company_id, tier, shipment_count, total_cod, shipping_deduction,
			early_payout_fee, net_payable, status, carrier_settlement_id, bank_reference, created_at, settled_at
		FROM remittance_batches WHERE id = $1
	`, batchID).Scan(&b.ID, &b.BatchNumber, &b.CompanyID, &b.Tier, &b.ShipmentCount, &b.TotalCOD,
		&b.ShippingDeduction, &b.EarlyPayoutFee, &b.NetPayable, &b.Status,
		&b.CarrierSettlementID, &b.BankReference, &b.CreatedAt, &b.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("batch %d: %w", batchID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	if b.CompanyID != companyID {
		return nil, fmt.Errorf("batch %d: %w", batchID, ErrAccessDenied)
	}
	return &b, nil
}

func (s *remittanceService) EnrolledCompanies(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM companies WHERE cod_tier IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query enrolled companies: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan company id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ── Settlement ──

func (s *remittanceService) ApplySettlement(ctx context.Context, payload SettlementPayload) error {
	touchedBatches := make(map[int]bool)

	for _, line := range payload.Lines {
		batchID, err := s.applySettlementLine(ctx, payload.SettlementID, line)
		if err != nil {
			log.Printf("remittance: settlement line %s: %v", line.AWB, err)
			continue
		}
		if batchID != 0 {
			touchedBatches[batchID] = true
		}
	}

	for batchID := range touchedBatches {
		if err := s.settleBatchIfComplete(ctx, batchID, payload.SettlementID, payload.BankReference); err != nil {
			log.Printf("remittance: settle batch %d: %v", batchID, err)
		}
	}
	return nil
}

func (s *remittanceService) applySettlementLine(ctx context.Context, settlementID string, line SettlementLine) (int, error) {
	var batchID, shipmentID int
	var recordedNet decimal.Decimal
	var settled bool
	err := s.pool.QueryRow(ctx, `
		SELECT i.batch_id, i.shipment_id, i.net_amount, i.settled
		FROM remittance_batch_items i
		JOIN remittance_batches b ON b.id = i.batch_id
		WHERE i.awb = $1 AND b.status = 'created'
		ORDER BY i.id DESC LIMIT 1
	`, line.AWB).Scan(&batchID, &shipmentID, &recordedNet, &settled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, s.recordSettlementDiscrepancy(ctx, nil, nil, line.AWB,
				DiscrepancyShipmentNotFound, decimal.Zero, line.NetAmount, settlementID)
		}
		return 0, fmt.Errorf("lookup settlement line: %w", err)
	}
	if settled {
		return batchID, nil
	}

	if !line.NetAmount.Equal(recordedNet) {
		var companyID int
		if err := s.pool.QueryRow(ctx, `SELECT company_id FROM shipments WHERE id = $1`, shipmentID).Scan(&companyID); err != nil {
			return 0, fmt.Errorf("lookup shipment company: %w", err)
		}
		if err := s.recordSettlementDiscrepancy(ctx, &shipmentID, &companyID, line.AWB,
			DiscrepancySettlementMismatch, recordedNet, line.NetAmount, settlementID); err != nil {
			return 0, err
		}
		// The mismatch is recorded; the line still counts as processed so the
		// rest of the batch can settle.
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE remittance_batch_items SET settled = TRUE WHERE batch_id = $1 AND shipment_id = $2
	`, batchID, shipmentID); err != nil {
		return 0, fmt.Errorf("mark item settled: %w", err)
	}
	return batchID, nil
}

func (s *remittanceService) recordSettlementDiscrepancy(ctx context.Context, shipmentID, companyID *int, awb, kind string, expected, actual decimal.Decimal, settlementID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cod_discrepancies (shipment_id, company_id, awb, kind, expected_amount, actual_amount, difference, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, shipmentID, companyID, awb, kind, expected, actual, actual.Sub(expected), "settlement:"+settlementID)
	if err != nil {
		return fmt.Errorf("record settlement discrepancy: %w", err)
	}
	log.Printf("remittance: %s discrepancy on awb %s (settlement %s)", kind, awb, settlementID)
	return nil
}

func (s *remittanceService) settleBatchIfComplete(ctx context.Context, batchID int, settlementID, bankReference string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE remittance_batches
		SET status = 'settled', carrier_settlement_id = $2, bank_reference = $3, settled_at = NOW()
		WHERE id = $1 AND status = 'created'
		  AND NOT EXISTS (SELECT 1 FROM remittance_batch_items WHERE batch_id = $1 AND NOT settled)
	`, batchID, settlementID, bankReference)
	if err != nil {
		return fmt.Errorf("settle batch: %w", err)
	}
	if tag.RowsAffected() > 0 {
		log.Printf("remittance: batch %d settled (%s / %s)", batchID, settlementID, bankReference)
	}
	return nil
}
