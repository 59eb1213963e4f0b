package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fulfillment-core/internal/notify"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReasonClassifier buckets a free-text failure reason into an NDR type.
// Implementations may call out to a model; failures fall back to keywords.
type ReasonClassifier interface {
	Classify(ctx context.Context, reason string) (string, error)
}

// classifierTimeout bounds the AI classifier call; classification must never
// block NDR creation.
const classifierTimeout = 10 * time.Second

// ndrActionPayload is the scheduled-job payload for delayed workflow steps.
type ndrActionPayload struct {
	NDREventID int    `json:"ndr_event_id"`
	Sequence   int    `json:"sequence"`
	Action     string `json:"action"`
}

// NDRService detects, classifies, and resolves non-delivery events.
type NDRService interface {
	// CreateFromStatusUpdate inspects an applied tracking change and creates an
	// NDR event when it describes a failed delivery. Returns (nil, nil) when
	// the update is not an NDR or a duplicate within the dedup window.
	CreateFromStatusUpdate(ctx context.Context, change *StatusChange) (*NDREvent, error)
	Get(ctx context.Context, eventID int) (*NDREvent, error)
	Actions(ctx context.Context, eventID int) ([]NDRAction, error)
	// ExecuteAction runs one workflow step and appends its outcome. A step for
	// an NDR that already left the active states is recorded as skipped.
	ExecuteAction(ctx context.Context, eventID, sequence int, action string) error
	Resolve(ctx context.Context, companyID, eventID int, note string) error
	// SweepDeadlines escalates or auto-RTOs overdue NDRs. Safe to run
	// concurrently: each event is claimed with a conditional update.
	SweepDeadlines(ctx context.Context) (int, error)
	// CheckAndTriggerAutoRTO evaluates one NDR against its workflow's trigger
	// conditions and, when met, triggers the RTO exactly once.
	CheckAndTriggerAutoRTO(ctx context.Context, eventID int) (bool, error)
}

type ndrService struct {
	pool       *pgxpool.Pool
	notifier   notify.Sender
	classifier ReasonClassifier // optional
	jobs       JobService
	rto        RTOService
}

func NewNDRService(pool *pgxpool.Pool, notifier notify.Sender, classifier ReasonClassifier, jobs JobService, rto RTOService) NDRService {
	return &ndrService{pool: pool, notifier: notifier, classifier: classifier, jobs: jobs, rto: rto}
}

func (s *ndrService) CreateFromStatusUpdate(ctx context.Context, change *StatusChange) (*NDREvent, error) {
	if change == nil || !change.NDR {
		return nil, nil
	}
	sh := change.Shipment
	update := change.Update

	if !IsNonDelivery(update.StatusCode, update.Remarks) && change.Current != ShipmentNDR {
		return nil, nil
	}
	reason := ExtractReason(update.StatusCode, update.Remarks)
	ndrType := s.classify(ctx, reason)

	deadline := time.Now().Add(time.Duration(s.deadlineHours(ctx, ndrType)) * time.Hour)

	// Dedup and attempt counting in one statement: the insert is suppressed
	// when an NDR for this shipment exists inside the 24h window.
	ev := NDREvent{
		ShipmentID: sh.ID,
		CompanyID:  sh.CompanyID,
		AWB:        sh.AWB,
		NDRType:    ndrType,
		RawReason:  reason,
		StatusCode: update.StatusCode,
		Deadline:   deadline,
		Status:     NDRDetected,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ndr_events (shipment_id, company_id, awb, ndr_type, raw_reason, status_code, attempt_count, deadline)
		SELECT $1, $2, $3, $4, $5, $6,
			(SELECT count(*) + 1 FROM ndr_events WHERE shipment_id = $1), $7
		WHERE NOT EXISTS (
			SELECT 1 FROM ndr_events
			WHERE shipment_id = $1 AND created_at > NOW() - INTERVAL '24 hours'
		)
		RETURNING id, attempt_count, created_at
	`, sh.ID, sh.CompanyID, sh.AWB, ndrType, reason, update.StatusCode, deadline).
		Scan(&ev.ID, &ev.AttemptCount, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Printf("ndr: duplicate within 24h for shipment %d, skipping", sh.ID)
			return nil, nil
		}
		return nil, fmt.Errorf("create ndr event: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `UPDATE shipments SET ndr_event_id = $2 WHERE id = $1`, sh.ID, ev.ID); err != nil {
		return nil, fmt.Errorf("link ndr to shipment: %w", err)
	}

	log.Printf("ndr: detected %s on shipment %d (attempt %d): %s", ndrType, sh.ID, ev.AttemptCount, reason)
	if err := s.startResolution(ctx, &ev); err != nil {
		// Resolution kickoff failing must not lose the detection.
		log.Printf("ndr: start resolution for event %d: %v", ev.ID, err)
	}
	return &ev, nil
}

func (s *ndrService) classify(ctx context.Context, reason string) string {
	if s.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, classifierTimeout)
		defer cancel()
		ndrType, err := s.classifier.Classify(cctx, reason)
		if err == nil && validNDRType(ndrType) {
			return ndrType
		}
		if err != nil {
			log.Printf("ndr: classifier failed, falling back to keywords: %v", err)
		}
	}
	return ClassifyKeywords(reason)
}

func validNDRType(t string) bool {
	switch t {
	case NDRAddressIssue, NDRCustomerUnavailable, NDRRefused, NDRPaymentIssue, NDROther:
		return true
	}
	return false
}

// deadlineHours reads the configured RTO window for a type, defaulting to 48.
func (s *ndrService) deadlineHours(ctx context.Context, ndrType string) int {
	var hours int
	err := s.pool.QueryRow(ctx, `
		SELECT rto_after_hours FROM ndr_workflows WHERE ndr_type = $1 ORDER BY sequence LIMIT 1
	`, ndrType).Scan(&hours)
	if err != nil {
		return 48
	}
	return hours
}

func (s *ndrService) workflow(ctx context.Context, ndrType string) ([]WorkflowStep, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ndr_type, sequence, action, delay_minutes, auto_execute, rto_auto_trigger, rto_after_hours, rto_max_attempts
		FROM ndr_workflows
		WHERE ndr_type = $1
		ORDER BY sequence
	`, ndrType)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	defer rows.Close()

	var steps []WorkflowStep
	for rows.Next() {
		var st WorkflowStep
		if err := rows.Scan(&st.NDRType, &st.Sequence, &st.Action, &st.DelayMinutes, &st.AutoExecute,
			&st.RTOAutoTrigger, &st.RTOAfterHours, &st.RTOMaxAttempts); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// startResolution kicks off the configured workflow: immediate steps run now,
// delayed steps become scheduled jobs.
func (s *ndrService) startResolution(ctx context.Context, ev *NDREvent) error {
	steps, err := s.workflow(ctx, ev.NDRType)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return nil
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE ndr_events SET status = 'in_resolution' WHERE id = $1 AND status = 'detected'
	`, ev.ID); err != nil {
		return fmt.Errorf("mark ndr in_resolution: %w", err)
	}

	for _, st := range steps {
		if !st.AutoExecute {
			continue
		}
		if st.DelayMinutes == 0 {
			if err := s.ExecuteAction(ctx, ev.ID, st.Sequence, st.Action); err != nil {
				log.Printf("ndr: immediate action %s for event %d: %v", st.Action, ev.ID, err)
			}
			continue
		}
		due := time.Now().Add(time.Duration(st.DelayMinutes) * time.Minute)
		payload := ndrActionPayload{NDREventID: ev.ID, Sequence: st.Sequence, Action: st.Action}
		if _, err := s.jobs.Schedule(ctx, JobNDRAction, payload, due); err != nil {
			log.Printf("ndr: schedule action %s for event %d: %v", st.Action, ev.ID, err)
		}
	}
	return nil
}

func (s *ndrService) Get(ctx context.Context, eventID int) (*NDREvent, error) {
	var ev NDREvent
	err := s.pool.QueryRow(ctx, `
		SELECT id, shipment_id, company_id, awb, ndr_type, raw_reason, status_code, attempt_count, deadline, status, created_at, resolved_at
		FROM ndr_events WHERE id = $1
	`, eventID).Scan(&ev.ID, &ev.ShipmentID, &ev.CompanyID, &ev.AWB, &ev.NDRType, &ev.RawReason,
		&ev.StatusCode, &ev.AttemptCount, &ev.Deadline, &ev.Status, &ev.CreatedAt, &ev.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ndr event %d: %w", eventID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch ndr event: %w", err)
	}
	return &ev, nil
}

func (s *ndrService) Actions(ctx context.Context, eventID int) ([]NDRAction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ndr_event_id, sequence, action, outcome, detail, executed_at
		FROM ndr_actions WHERE ndr_event_id = $1 ORDER BY executed_at, id
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query ndr actions: %w", err)
	}
	defer rows.Close()

	var out []NDRAction
	for rows.Next() {
		var a NDRAction
		if err := rows.Scan(&a.ID, &a.NDREventID, &a.Sequence, &a.Action, &a.Outcome, &a.Detail, &a.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan ndr action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ndrService) ExecuteAction(ctx context.Context, eventID, sequence int, action string) error {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Status != NDRDetected && ev.Status != NDRInResolution {
		return s.appendAction(ctx, eventID, sequence, action, "skipped",
			fmt.Sprintf("ndr already %s", ev.Status))
	}

	outcome, detail := "success", ""
	if err := s.performAction(ctx, ev, action); err != nil {
		outcome, detail = "failed", err.Error()
	}
	return s.appendAction(ctx, eventID, sequence, action, outcome, detail)
}

// performAction dispatches one workflow step by action name. Adding an action
// type means adding a case here and rows in ndr_workflows, nothing else.
func (s *ndrService) performAction(ctx context.Context, ev *NDREvent, action string) error {
	phone, email, err := s.contacts(ctx, ev.ShipmentID)
	if err != nil {
		return err
	}
	data := map[string]any{"awb": ev.AWB, "reason": ev.RawReason, "ndr_type": ev.NDRType}

	switch action {
	case "notify_customer_whatsapp":
		_, err = s.notifier.SendWhatsApp(ctx, phone, "ndr_customer_update", data)
	case "notify_customer_call":
		_, err = s.notifier.SendCall(ctx, phone, "ndr_customer_call", data)
	case "notify_seller_email":
		_, err = s.notifier.SendEmail(ctx, email, "ndr_seller_alert", data)
	case "request_address_update":
		_, err = s.notifier.SendWhatsApp(ctx, phone, "ndr_address_request", data)
	case "reattempt_delivery":
		// Carriers reattempt automatically on the next cycle; the customer is
		// told to expect it.
		_, err = s.notifier.SendWhatsApp(ctx, phone, "ndr_reattempt_notice", data)
	case "trigger_rto":
		_, err = s.rto.Trigger(ctx, ev.ShipmentID, &ev.ID, "auto", ev.RawReason)
	default:
		return fmt.Errorf("unknown workflow action %q", action)
	}
	return err
}

// contacts returns the customer phone and a seller alert address for a
// shipment.
func (s *ndrService) contacts(ctx context.Context, shipmentID int) (phone, email string, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT o.customer_phone, c.company_code || '@sellers.internal'
		FROM shipments sh
		JOIN orders o ON o.id = sh.order_id
		JOIN companies c ON c.id = sh.company_id
		WHERE sh.id = $1
	`, shipmentID).Scan(&phone, &email)
	if err != nil {
		return "", "", fmt.Errorf("fetch ndr contacts: %w", err)
	}
	return phone, email, nil
}

func (s *ndrService) appendAction(ctx context.Context, eventID, sequence int, action, outcome, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ndr_actions (ndr_event_id, sequence, action, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, sequence, action, outcome, detail)
	if err != nil {
		return fmt.Errorf("append ndr action: %w", err)
	}
	return nil
}

func (s *ndrService) Resolve(ctx context.Context, companyID, eventID int, note string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ndr_events SET status = 'resolved', resolved_at = NOW()
		WHERE id = $1 AND company_id = $2 AND status IN ('detected', 'in_resolution')
	`, eventID, companyID)
	if err != nil {
		return fmt.Errorf("resolve ndr: %w", err)
	}
	if tag.RowsAffected() == 0 {
		ev, err := s.Get(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.CompanyID != companyID {
			return fmt.Errorf("ndr event %d: %w", eventID, ErrAccessDenied)
		}
		return fmt.Errorf("%w: ndr event %d is %s", ErrValidation, eventID, ev.Status)
	}
	return s.appendAction(ctx, eventID, 0, "manual_resolve", "success", note)
}

func (s *ndrService) SweepDeadlines(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM ndr_events
		WHERE status IN ('detected', 'in_resolution') AND deadline < NOW()
		ORDER BY deadline
	`)
	if err != nil {
		return 0, fmt.Errorf("query overdue ndrs: %w", err)
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan overdue ndr: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range ids {
		triggered, err := s.CheckAndTriggerAutoRTO(ctx, id)
		if err != nil {
			log.Printf("ndr sweep: event %d: %v", id, err)
			continue
		}
		if triggered {
			processed++
			continue
		}
		// Not auto-triggerable: escalate for human handling. The conditional
		// update loses gracefully to a concurrent sweep or resolution.
		tag, err := s.pool.Exec(ctx, `
			UPDATE ndr_events SET status = 'escalated'
			WHERE id = $1 AND status IN ('detected', 'in_resolution')
		`, id)
		if err != nil {
			log.Printf("ndr sweep: escalate event %d: %v", id, err)
			continue
		}
		if tag.RowsAffected() > 0 {
			log.Printf("ndr sweep: event %d escalated", id)
			processed++
		}
	}
	return processed, nil
}

func (s *ndrService) CheckAndTriggerAutoRTO(ctx context.Context, eventID int) (bool, error) {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return false, err
	}
	if ev.Status != NDRDetected && ev.Status != NDRInResolution {
		return false, nil
	}

	steps, err := s.workflow(ctx, ev.NDRType)
	if err != nil {
		return false, err
	}
	if len(steps) == 0 || !steps[0].RTOAutoTrigger {
		return false, nil
	}
	cond := steps[0]

	elapsed := time.Since(ev.CreatedAt)
	if ev.AttemptCount < cond.RTOMaxAttempts && elapsed < time.Duration(cond.RTOAfterHours)*time.Hour {
		return false, nil
	}

	// Claim before triggering so two concurrent sweeps cannot both book the
	// reverse shipment.
	tag, err := s.pool.Exec(ctx, `
		UPDATE ndr_events SET status = 'rto_triggered'
		WHERE id = $1 AND status IN ('detected', 'in_resolution')
	`, eventID)
	if err != nil {
		return false, fmt.Errorf("claim ndr for rto: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := s.rto.Trigger(ctx, ev.ShipmentID, &ev.ID, "auto", ev.RawReason); err != nil {
		if errors.Is(err, ErrRTOAlreadyTriggered) {
			return false, nil
		}
		// Put the event back so the next sweep retries.
		if _, uerr := s.pool.Exec(ctx, `
			UPDATE ndr_events SET status = 'in_resolution' WHERE id = $1
		`, eventID); uerr != nil {
			log.Printf("ndr: ALERT failed to unclaim event %d: %v", eventID, uerr)
		}
		return false, err
	}
	if err := s.appendAction(ctx, eventID, 0, "trigger_rto", "success", "auto-triggered by deadline sweep"); err != nil {
		log.Printf("ndr: record auto-rto action for event %d: %v", eventID, err)
	}
	return true, nil
}
