package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// OrderService manages seller orders ahead of booking.
type OrderService interface {
	Create(ctx context.Context, companyID int, o *Order) (*Order, error)
	Get(ctx context.Context, companyID, orderID int) (*Order, error)
}

type orderService struct {
	pool *pgxpool.Pool
}

func NewOrderService(pool *pgxpool.Pool) OrderService {
	return &orderService{pool: pool}
}

func (s *orderService) Create(ctx context.Context, companyID int, o *Order) (*Order, error) {
	if o.OrderNumber == "" {
		return nil, fmt.Errorf("%w: order number is required", ErrValidation)
	}
	if o.TotalAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: total amount must be positive", ErrValidation)
	}
	if o.PaymentMode != PaymentPrepaid && o.PaymentMode != PaymentCOD {
		return nil, fmt.Errorf("%w: payment mode must be prepaid or cod", ErrValidation)
	}
	if o.Currency == "" {
		o.Currency = "INR"
	}

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal order items: %w", err)
	}

	o.CompanyID = companyID
	o.Status = OrderCreated
	err = s.pool.QueryRow(ctx, `
		INSERT INTO orders (company_id, order_number, customer_name, customer_phone, address, city, state, pincode,
			items, currency, total_amount, total_base_amount, payment_mode, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'created')
		RETURNING id, created_at
	`, companyID, o.OrderNumber, o.CustomerName, o.CustomerPhone, o.Address, o.City, o.State, o.Pincode,
		itemsJSON, o.Currency, o.TotalAmount, o.TotalBaseAmount, o.PaymentMode).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

func (s *orderService) Get(ctx context.Context, companyID, orderID int) (*Order, error) {
	var o Order
	var itemsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, order_number, customer_name, customer_phone, address, city, state, pincode,
			items, currency, total_amount, total_base_amount, payment_mode, status, created_at
		FROM orders WHERE id = $1 AND company_id = $2
	`, orderID, companyID).Scan(
		&o.ID, &o.CompanyID, &o.OrderNumber, &o.CustomerName, &o.CustomerPhone, &o.Address, &o.City,
		&o.State, &o.Pincode, &itemsJSON, &o.Currency, &o.TotalAmount, &o.TotalBaseAmount,
		&o.PaymentMode, &o.Status, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
	}
	return &o, nil
}

// GetCompany loads a company row. Shared by services that gate on KYC tier or
// need the base currency.
func GetCompany(ctx context.Context, pool *pgxpool.Pool, companyID int) (*Company, error) {
	var c Company
	err := pool.QueryRow(ctx, `
		SELECT id, company_code, name, base_currency, kyc_tier, cod_tier, cod_enrolled_at, created_at
		FROM companies WHERE id = $1
	`, companyID).Scan(&c.ID, &c.CompanyCode, &c.Name, &c.BaseCurrency, &c.KYCTier, &c.CODTier, &c.CODEnrolledAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("company %d: %w", companyID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch company: %w", err)
	}
	return &c, nil
}
