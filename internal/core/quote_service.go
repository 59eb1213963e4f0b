package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"fulfillment-core/internal/carrier"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AdapterSource resolves carrier adapters. *carrier.Registry satisfies it;
// tests substitute fakes.
type AdapterSource interface {
	Get(ctx context.Context, companyID int, provider string) (carrier.Adapter, error)
	Active(ctx context.Context, companyID int) ([]carrier.Adapter, error)
}

const (
	// sessionTTL bounds how long a quoted price stays bookable.
	sessionTTL = 30 * time.Minute
	// providerTimeout bounds each individual carrier rate call; a slow provider
	// degrades confidence instead of blocking the whole request.
	providerTimeout = 8 * time.Second
	// liveRateConfidence is assigned to options fetched live from a carrier.
	liveRateConfidence = 0.92
)

// sellMarkup is the platform margin applied on top of the carrier's charge.
var sellMarkup = decimal.NewFromFloat(1.10)

// QuoteService fans out rate requests to every active carrier adapter and
// assembles the results into a ranked, time-boxed booking session.
type QuoteService interface {
	GenerateQuotes(ctx context.Context, companyID int, req QuoteRequest) (*QuoteSession, error)
	// ClaimOption atomically consumes a session for booking. The claim fails
	// with ErrQuoteExpired, ErrSessionConsumed, or ErrNotFound.
	ClaimOption(ctx context.Context, companyID int, sessionID uuid.UUID, optionID string) (*CourierOption, error)
	// Release undoes a claim after a failed booking so the seller can retry
	// within the TTL.
	Release(ctx context.Context, sessionID uuid.UUID) error
}

type quoteService struct {
	pool     *pgxpool.Pool
	adapters AdapterSource
}

func NewQuoteService(pool *pgxpool.Pool, adapters AdapterSource) QuoteService {
	return &quoteService{pool: pool, adapters: adapters}
}

func (s *quoteService) GenerateQuotes(ctx context.Context, companyID int, req QuoteRequest) (*QuoteSession, error) {
	if err := validateQuoteRequest(req); err != nil {
		return nil, err
	}

	adapters, err := s.adapters.Active(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no active carrier integrations: %w", carrier.ErrNotServiceable)
	}

	options, timeouts := collectRates(ctx, adapters, req, providerTimeout)
	if len(options) == 0 {
		return nil, fmt.Errorf("no provider returned options: %w", carrier.ErrNotServiceable)
	}

	session := assembleSession(companyID, options, timeouts)
	if err := s.persist(ctx, session, req); err != nil {
		return nil, err
	}
	return session, nil
}

type rateResult struct {
	provider string
	options  []carrier.RateOption
	err      error
	timedOut bool
}

// collectRates issues one concurrent rate call per adapter, each bounded by its
// own timeout. Partial results are a first-class outcome: provider failures and
// timeouts are recorded, never propagated.
func collectRates(ctx context.Context, adapters []carrier.Adapter, req QuoteRequest, timeout time.Duration) ([]CourierOption, map[string]bool) {
	results := make(chan rateResult, len(adapters))
	for _, a := range adapters {
		go func(a carrier.Adapter) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			opts, err := a.GetRates(callCtx, carrier.RateRequest{
				OriginPincode: req.OriginPincode,
				DestPincode:   req.DestPincode,
				WeightKG:      req.WeightKG,
				LengthCM:      req.LengthCM,
				WidthCM:       req.WidthCM,
				HeightCM:      req.HeightCM,
				PaymentMode:   req.PaymentMode,
				DeclaredValue: req.DeclaredValue,
			})
			results <- rateResult{
				provider: a.Provider(),
				options:  opts,
				err:      err,
				timedOut: errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded,
			}
		}(a)
	}

	var options []CourierOption
	timeouts := make(map[string]bool)
	for range adapters {
		res := <-results
		switch {
		case res.timedOut:
			timeouts[res.provider] = true
			log.Printf("quote: provider %s timed out", res.provider)
		case res.err != nil:
			// Not serviceable or provider error: skip, the corridor may still
			// be coverable by another carrier.
			log.Printf("quote: provider %s: %v", res.provider, res.err)
		default:
			for _, o := range res.options {
				options = append(options, normalizeOption(res.provider, o))
			}
		}
	}
	return options, timeouts
}

func normalizeOption(provider string, o carrier.RateOption) CourierOption {
	quoted := o.TotalPrice.Mul(sellMarkup).Round(2)
	return CourierOption{
		OptionID:         fmt.Sprintf("%s:%s:%s", provider, o.CourierCode, o.ServiceType),
		Provider:         provider,
		CourierCode:      o.CourierCode,
		CourierName:      o.CourierName,
		ServiceType:      o.ServiceType,
		QuotedAmount:     quoted,
		CostAmount:       o.TotalPrice,
		Margin:           quoted.Sub(o.TotalPrice),
		ChargeableWeight: o.ChargeableWeight,
		Zone:             o.Zone,
		PricingSource:    "live",
		Confidence:       liveRateConfidence,
		EstimatedDays:    o.EstimatedDays,
	}
}

// assembleSession tags, ranks, and wraps options into a new session. Overall
// confidence is the minimum option confidence, downgraded when any provider
// timed out.
func assembleSession(companyID int, options []CourierOption, timeouts map[string]bool) *QuoteSession {
	tagOptions(options)
	rankOptions(options)
	if len(options) > 0 {
		options[0].Tags = append(options[0].Tags, TagRecommended)
	}

	confidence := 1.0
	for _, o := range options {
		if o.Confidence < confidence {
			confidence = o.Confidence
		}
	}
	if len(timeouts) > 0 {
		confidence *= 0.8
		if confidence < 0.1 {
			confidence = 0.1
		}
	}

	now := time.Now()
	return &QuoteSession{
		ID:               uuid.New(),
		CompanyID:        companyID,
		Options:          options,
		ProviderTimeouts: timeouts,
		Recommendation:   options[0].OptionID,
		Confidence:       confidence,
		ExpiresAt:        now.Add(sessionTTL),
		CreatedAt:        now,
	}
}

func tagOptions(options []CourierOption) {
	if len(options) == 0 {
		return
	}
	cheapest, fastest := 0, 0
	for i, o := range options {
		if o.QuotedAmount.LessThan(options[cheapest].QuotedAmount) {
			cheapest = i
		}
		if o.EstimatedDays > 0 && (options[fastest].EstimatedDays == 0 || o.EstimatedDays < options[fastest].EstimatedDays) {
			fastest = i
		}
	}
	options[cheapest].Tags = append(options[cheapest].Tags, TagCheapest)
	options[fastest].Tags = append(options[fastest].Tags, TagFastest)
}

// rankOptions orders options by a composite of price and confidence; a lower
// score ranks first. Tag bonuses nudge cheapest/fastest options upward on ties.
func rankOptions(options []CourierOption) {
	sort.SliceStable(options, func(i, j int) bool {
		return optionScore(options[i]) < optionScore(options[j])
	})
}

func optionScore(o CourierOption) float64 {
	price, _ := o.QuotedAmount.Float64()
	score := price * (1.3 - 0.3*o.Confidence)
	for _, t := range o.Tags {
		if t == TagCheapest || t == TagFastest {
			score *= 0.98
		}
	}
	return score
}

func validateQuoteRequest(req QuoteRequest) error {
	if req.OriginPincode == "" || req.DestPincode == "" {
		return fmt.Errorf("%w: origin and destination pincodes are required", ErrValidation)
	}
	if req.WeightKG.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: weight must be positive", ErrValidation)
	}
	if req.PaymentMode != PaymentPrepaid && req.PaymentMode != PaymentCOD {
		return fmt.Errorf("%w: payment mode must be prepaid or cod", ErrValidation)
	}
	return nil
}

func (s *quoteService) persist(ctx context.Context, session *QuoteSession, req QuoteRequest) error {
	optionsJSON, err := json.Marshal(session.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	timeoutsJSON, err := json.Marshal(session.ProviderTimeouts)
	if err != nil {
		return fmt.Errorf("marshal timeouts: %w", err)
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO quote_sessions (id, company_id, request, options, provider_timeouts, recommendation, confidence, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.CompanyID, reqJSON, optionsJSON, timeoutsJSON,
		session.Recommendation, session.Confidence, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("persist quote session: %w", err)
	}
	return nil
}

func (s *quoteService) ClaimOption(ctx context.Context, companyID int, sessionID uuid.UUID, optionID string) (*CourierOption, error) {
	var optionsJSON []byte
	err := s.pool.QueryRow(ctx, `
		UPDATE quote_sessions
		SET consumed = TRUE, consumed_option_id = $3
		WHERE id = $1 AND company_id = $2 AND NOT consumed AND expires_at > NOW()
		RETURNING options
	`, sessionID, companyID, optionID).Scan(&optionsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.classifyClaimFailure(ctx, companyID, sessionID)
		}
		return nil, fmt.Errorf("claim quote session: %w", err)
	}

	var options []CourierOption
	if err := json.Unmarshal(optionsJSON, &options); err != nil {
		return nil, fmt.Errorf("decode session options: %w", err)
	}
	for i := range options {
		if options[i].OptionID == optionID {
			return &options[i], nil
		}
	}

	// Unknown option: undo the claim so the session stays usable.
	if err := s.Release(ctx, sessionID); err != nil {
		log.Printf("quote: release after unknown option: %v", err)
	}
	return nil, fmt.Errorf("%w: option %s not in session", ErrValidation, optionID)
}

func (s *quoteService) classifyClaimFailure(ctx context.Context, companyID int, sessionID uuid.UUID) error {
	var consumed bool
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT consumed, expires_at FROM quote_sessions WHERE id = $1 AND company_id = $2
	`, sessionID, companyID).Scan(&consumed, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("quote session %s: %w", sessionID, ErrNotFound)
		}
		return fmt.Errorf("inspect quote session: %w", err)
	}
	if consumed {
		return fmt.Errorf("quote session %s: %w", sessionID, ErrSessionConsumed)
	}
	if !expiresAt.After(time.Now()) {
		return fmt.Errorf("quote session %s expired at %s: %w", sessionID, expiresAt.Format(time.RFC3339), ErrQuoteExpired)
	}
	return fmt.Errorf("quote session %s not claimable", sessionID)
}

func (s *quoteService) Release(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE quote_sessions SET consumed = FALSE, consumed_option_id = NULL WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("release quote session: %w", err)
	}
	return nil
}
