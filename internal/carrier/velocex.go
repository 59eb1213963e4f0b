package carrier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// tokenSafetyWindow forces a refresh when the cached token expires this soon.
const tokenSafetyWindow = 15 * time.Minute

// Velocex is the adapter for the Velocex courier aggregator API, which uses
// short-lived bearer tokens issued from an api_key/api_secret pair.
type Velocex struct {
	integ  *Integration
	store  Store
	client *httpClient
}

func NewVelocex(integ *Integration, store Store) *Velocex {
	return &Velocex{
		integ:  integ,
		store:  store,
		client: newHTTPClient(ProviderVelocex, 20*time.Second),
	}
}

func (v *Velocex) Provider() string { return ProviderVelocex }

func (v *Velocex) baseURL() string {
	if v.integ.BaseURL != "" {
		return v.integ.BaseURL
	}
	return "https://api.velocex.example.com"
}

type velocexAuthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// getValidToken returns the persisted cached token, re-authenticating
// synchronously when it is absent or expiring within the safety window.
// Concurrent refreshes are harmless: both tokens are valid, last writer wins.
func (v *Velocex) getValidToken(ctx context.Context) (string, error) {
	token, expiresAt, err := v.store.Token(ctx, v.integ.ID)
	if err != nil {
		return "", err
	}
	if token != "" && expiresAt != nil && time.Until(*expiresAt) > tokenSafetyWindow {
		return token, nil
	}

	var resp velocexAuthResponse
	err = v.client.doJSON(ctx, http.MethodPost, v.baseURL()+"/v1/auth/login", nil, map[string]string{
		"api_key":    v.integ.APIKey,
		"api_secret": v.integ.APISecret,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("velocex auth: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("velocex auth: empty token in response")
	}

	exp := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if err := v.store.SaveToken(ctx, v.integ.ID, resp.Token, exp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (v *Velocex) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := v.getValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

type velocexRate struct {
	CourierCode      string          `json:"courier_code"`
	CourierName      string          `json:"courier_name"`
	ServiceType      string          `json:"service_type"`
	TotalCharge      decimal.Decimal `json:"total_charge"`
	ChargeableWeight decimal.Decimal `json:"chargeable_weight"`
	Zone             string          `json:"zone"`
	EstimatedDays    int             `json:"etd_days"`
}

type velocexRatesResponse struct {
	ServiceableCouriers []velocexRate `json:"serviceable_couriers"`
}

func (v *Velocex) GetRates(ctx context.Context, req RateRequest) ([]RateOption, error) {
	headers, err := v.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"pickup_pincode":   req.OriginPincode,
		"delivery_pincode": req.DestPincode,
		"weight_kg":        req.WeightKG,
		"length_cm":        req.LengthCM,
		"width_cm":         req.WidthCM,
		"height_cm":        req.HeightCM,
		"payment_mode":     req.PaymentMode,
		"declared_value":   req.DeclaredValue,
	}

	var resp velocexRatesResponse
	if err := v.client.doJSON(ctx, http.MethodPost, v.baseURL()+"/v1/rates", headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.ServiceableCouriers) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s via velocex", ErrNotServiceable, req.OriginPincode, req.DestPincode)
	}

	options := make([]RateOption, 0, len(resp.ServiceableCouriers))
	for _, r := range resp.ServiceableCouriers {
		options = append(options, RateOption{
			CourierCode:      r.CourierCode,
			CourierName:      r.CourierName,
			ServiceType:      r.ServiceType,
			TotalPrice:       r.TotalCharge,
			ChargeableWeight: r.ChargeableWeight,
			Zone:             r.Zone,
			EstimatedDays:    r.EstimatedDays,
		})
	}
	sortOptionsByPrice(options)
	return options, nil
}

// ensureWarehouse resolves the carrier-side warehouse reference, registering the
// warehouse with Velocex on first use and caching the reference.
func (v *Velocex) ensureWarehouse(ctx context.Context, warehouseID int) (string, error) {
	ref, err := v.store.CarrierRef(ctx, warehouseID, ProviderVelocex)
	if err != nil {
		return "", err
	}
	if ref != "" {
		return ref, nil
	}

	w, err := v.store.Warehouse(ctx, warehouseID)
	if err != nil {
		return "", err
	}

	headers, err := v.authHeaders(ctx)
	if err != nil {
		return "", err
	}
	var resp struct {
		WarehouseID string `json:"warehouse_id"`
	}
	err = v.client.doJSON(ctx, http.MethodPost, v.baseURL()+"/v1/warehouses", headers, map[string]string{
		"name":    w.Name,
		"address": w.Address,
		"city":    w.City,
		"state":   w.State,
		"pincode": w.Pincode,
		"phone":   w.Phone,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("velocex warehouse sync: %w", err)
	}
	if err := v.store.SaveCarrierRef(ctx, warehouseID, ProviderVelocex, resp.WarehouseID); err != nil {
		return "", err
	}
	return resp.WarehouseID, nil
}

type velocexShipmentResponse struct {
	AWB         string `json:"awb"`
	LabelURL    string `json:"label_url"`
	CourierName string `json:"courier_name"`
}

func (v *Velocex) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	if err := validateDestination(req); err != nil {
		return nil, err
	}
	warehouseRef, err := v.ensureWarehouse(ctx, req.WarehouseID)
	if err != nil {
		return nil, err
	}
	headers, err := v.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"order_number":   req.OrderNumber,
		"warehouse_id":   warehouseRef,
		"courier_code":   req.CourierCode,
		"consignee":      req.CustomerName,
		"phone":          req.CustomerPhone,
		"address":        req.Address,
		"city":           req.City,
		"state":          req.State,
		"pincode":        req.Pincode,
		"weight_kg":      req.WeightKG,
		"payment_mode":   req.PaymentMode,
		"cod_amount":     req.CODAmount,
		"declared_value": req.DeclaredValue,
		"is_reverse":     req.Reverse,
	}

	var resp velocexShipmentResponse
	if err := v.client.doJSON(ctx, http.MethodPost, v.baseURL()+"/v1/shipments", headers, body, &resp); err != nil {
		return nil, err
	}
	if resp.AWB == "" {
		return nil, fmt.Errorf("velocex shipment: no AWB in response")
	}
	return &ShipmentResult{AWB: resp.AWB, LabelURL: resp.LabelURL, CourierName: resp.CourierName}, nil
}

type velocexTrackResponse struct {
	AWB        string `json:"awb"`
	Status     string `json:"status"`
	StatusCode string `json:"status_code"`
	Location   string `json:"current_location"`
	Remarks    string `json:"remarks"`
	UpdatedAt  string `json:"updated_at"`
}

// velocexTerminal are remote states after which cancellation is impossible.
var velocexTerminal = map[string]bool{
	"delivered":     true,
	"rto_delivered": true,
	"cancelled":     true,
}

func (v *Velocex) TrackShipment(ctx context.Context, awb string) (*TrackingStatus, error) {
	headers, err := v.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	var resp velocexTrackResponse
	if err := v.client.doJSON(ctx, http.MethodGet, v.baseURL()+"/v1/track/"+awb, headers, nil, &resp); err != nil {
		return nil, err
	}
	occurred, _ := time.Parse(time.RFC3339, resp.UpdatedAt)
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return &TrackingStatus{
		AWB:        resp.AWB,
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Location:   resp.Location,
		Remarks:    resp.Remarks,
		OccurredAt: occurred,
		Terminal:   velocexTerminal[resp.Status],
	}, nil
}

func (v *Velocex) CancelShipment(ctx context.Context, awb string) error {
	status, err := v.TrackShipment(ctx, awb)
	if err != nil {
		return err
	}
	if status.Terminal {
		return fmt.Errorf("%w: remote status %q", ErrNotCancellable, status.Status)
	}
	headers, err := v.authHeaders(ctx)
	if err != nil {
		return err
	}
	return v.client.doJSON(ctx, http.MethodPost, v.baseURL()+"/v1/shipments/"+awb+"/cancel", headers, nil, nil)
}

func (v *Velocex) VerifyWebhook(payload []byte, signature, timestamp string) error {
	return verifySignature(v.integ.WebhookSecret, payload, signature, timestamp)
}
