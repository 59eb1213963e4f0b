package carrier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIntegrationNotFound means no active integration exists for the lookup.
var ErrIntegrationNotFound = errors.New("carrier integration not found")

// Integration is one seller company's configuration for one carrier, including
// the persisted token cache. The cache lives on the record, not in process
// memory, so every instance observes the same token and expiry.
type Integration struct {
	ID             int
	CompanyID      int
	Provider       string
	BaseURL        string
	APIKey         string
	APISecret      string
	WebhookSecret  string
	Active         bool
	APIToken       *string
	TokenExpiresAt *time.Time
}

// WarehouseInfo is the pickup location detail adapters register with carriers.
type WarehouseInfo struct {
	ID      int
	Name    string
	Address string
	City    string
	State   string
	Pincode string
	Phone   string
}

// Store is the persistence surface adapters depend on. The pgx implementation
// is used in production; tests substitute an in-memory one.
type Store interface {
	Integration(ctx context.Context, companyID int, provider string) (*Integration, error)
	ActiveIntegrations(ctx context.Context, companyID int) ([]Integration, error)
	// WebhookSecret returns the shared secret for a provider, used by the webhook
	// endpoint before the target shipment (and company) is known.
	WebhookSecret(ctx context.Context, provider string) (string, error)
	// Token reads the persisted token cache for an integration.
	Token(ctx context.Context, integrationID int) (token string, expiresAt *time.Time, err error)
	SaveToken(ctx context.Context, integrationID int, token string, expiresAt time.Time) error
	Warehouse(ctx context.Context, warehouseID int) (*WarehouseInfo, error)
	DefaultWarehouse(ctx context.Context, companyID int) (*WarehouseInfo, error)
	CarrierRef(ctx context.Context, warehouseID int, provider string) (string, error)
	SaveCarrierRef(ctx context.Context, warehouseID int, provider, ref string) error
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore returns the pgx-backed Store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Integration(ctx context.Context, companyID int, provider string) (*Integration, error) {
	var in Integration
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, provider, base_url, api_key, api_secret, webhook_secret, active, api_token, token_expires_at
		FROM carrier_integrations
		WHERE company_id = $1 AND provider = $2 AND active
	`, companyID, provider).Scan(
		&in.ID, &in.CompanyID, &in.Provider, &in.BaseURL, &in.APIKey, &in.APISecret,
		&in.WebhookSecret, &in.Active, &in.APIToken, &in.TokenExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: company %d provider %s", ErrIntegrationNotFound, companyID, provider)
		}
		return nil, fmt.Errorf("fetch integration: %w", err)
	}
	return &in, nil
}

func (s *pgStore) ActiveIntegrations(ctx context.Context, companyID int) ([]Integration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, provider, base_url, api_key, api_secret, webhook_secret, active, api_token, token_expires_at
		FROM carrier_integrations
		WHERE company_id = $1 AND active
		ORDER BY provider
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("query integrations: %w", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.ID, &in.CompanyID, &in.Provider, &in.BaseURL, &in.APIKey,
			&in.APISecret, &in.WebhookSecret, &in.Active, &in.APIToken, &in.TokenExpiresAt); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *pgStore) WebhookSecret(ctx context.Context, provider string) (string, error) {
	var secret string
	err := s.pool.QueryRow(ctx, `
		SELECT webhook_secret FROM carrier_integrations
		WHERE provider = $1 AND active AND webhook_secret <> ''
		ORDER BY id LIMIT 1
	`, provider).Scan(&secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: provider %s", ErrIntegrationNotFound, provider)
		}
		return "", fmt.Errorf("fetch webhook secret: %w", err)
	}
	return secret, nil
}

func (s *pgStore) Token(ctx context.Context, integrationID int) (string, *time.Time, error) {
	var token *string
	var expiresAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT api_token, token_expires_at FROM carrier_integrations WHERE id = $1
	`, integrationID).Scan(&token, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, fmt.Errorf("%w: integration %d", ErrIntegrationNotFound, integrationID)
		}
		return "", nil, fmt.Errorf("fetch token: %w", err)
	}
	if token == nil {
		return "", expiresAt, nil
	}
	return *token, expiresAt, nil
}

// SaveToken persists a freshly issued token. Last writer wins: concurrent
// refreshes both produce valid tokens, so overwriting is harmless.
func (s *pgStore) SaveToken(ctx context.Context, integrationID int, token string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE carrier_integrations SET api_token = $2, token_expires_at = $3 WHERE id = $1
	`, integrationID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *pgStore) Warehouse(ctx context.Context, warehouseID int) (*WarehouseInfo, error) {
	var w WarehouseInfo
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, address, city, state, pincode, phone FROM warehouses WHERE id = $1
	`, warehouseID).Scan(&w.ID, &w.Name, &w.Address, &w.City, &w.State, &w.Pincode, &w.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("warehouse %d not found", warehouseID)
		}
		return nil, fmt.Errorf("fetch warehouse: %w", err)
	}
	return &w, nil
}

func (s *pgStore) DefaultWarehouse(ctx context.Context, companyID int) (*WarehouseInfo, error) {
	var w WarehouseInfo
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, address, city, state, pincode, phone
		FROM warehouses
		WHERE company_id = $1
		ORDER BY is_default DESC, id
		LIMIT 1
	`, companyID).Scan(&w.ID, &w.Name, &w.Address, &w.City, &w.State, &w.Pincode, &w.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no warehouse configured for company %d", companyID)
		}
		return nil, fmt.Errorf("fetch default warehouse: %w", err)
	}
	return &w, nil
}

func (s *pgStore) CarrierRef(ctx context.Context, warehouseID int, provider string) (string, error) {
	var ref string
	err := s.pool.QueryRow(ctx, `
		SELECT carrier_ref FROM warehouse_carrier_refs WHERE warehouse_id = $1 AND provider = $2
	`, warehouseID, provider).Scan(&ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fetch carrier ref: %w", err)
	}
	return ref, nil
}

func (s *pgStore) SaveCarrierRef(ctx context.Context, warehouseID int, provider, ref string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO warehouse_carrier_refs (warehouse_id, provider, carrier_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (warehouse_id, provider) DO UPDATE SET carrier_ref = EXCLUDED.carrier_ref
	`, warehouseID, provider, ref)
	if err != nil {
		return fmt.Errorf("save carrier ref: %w", err)
	}
	return nil
}
