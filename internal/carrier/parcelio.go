package carrier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Parcelio is the adapter for the Parcelio courier API. Unlike Velocex it uses
// a static API key header, so there is no token lifecycle to manage.
type Parcelio struct {
	integ  *Integration
	store  Store
	client *httpClient
}

func NewParcelio(integ *Integration, store Store) *Parcelio {
	return &Parcelio{
		integ:  integ,
		store:  store,
		client: newHTTPClient(ProviderParcelio, 20*time.Second),
	}
}

func (p *Parcelio) Provider() string { return ProviderParcelio }

func (p *Parcelio) baseURL() string {
	if p.integ.BaseURL != "" {
		return p.integ.BaseURL
	}
	return "https://api.parcelio.example.com"
}

func (p *Parcelio) headers() map[string]string {
	return map[string]string{"X-Api-Key": p.integ.APIKey}
}

type parcelioService struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Mode         string          `json:"mode"`
	Charge       decimal.Decimal `json:"charge"`
	BilledWeight decimal.Decimal `json:"billed_weight"`
	Zone         string          `json:"zone"`
	TATDays      int             `json:"tat_days"`
}

func (p *Parcelio) GetRates(ctx context.Context, req RateRequest) ([]RateOption, error) {
	body := map[string]any{
		"from_pincode": req.OriginPincode,
		"to_pincode":   req.DestPincode,
		"weight":       req.WeightKG,
		"dimensions":   map[string]int{"l": req.LengthCM, "w": req.WidthCM, "h": req.HeightCM},
		"cod":          req.PaymentMode == "cod",
		"order_value":  req.DeclaredValue,
	}

	var resp struct {
		Services []parcelioService `json:"services"`
	}
	if err := p.client.doJSON(ctx, http.MethodPost, p.baseURL()+"/api/v2/serviceability", p.headers(), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Services) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s via parcelio", ErrNotServiceable, req.OriginPincode, req.DestPincode)
	}

	options := make([]RateOption, 0, len(resp.Services))
	for _, s := range resp.Services {
		options = append(options, RateOption{
			CourierCode:      s.Code,
			CourierName:      s.Name,
			ServiceType:      s.Mode,
			TotalPrice:       s.Charge,
			ChargeableWeight: s.BilledWeight,
			Zone:             s.Zone,
			EstimatedDays:    s.TATDays,
		})
	}
	sortOptionsByPrice(options)
	return options, nil
}

func (p *Parcelio) ensurePickupLocation(ctx context.Context, warehouseID int) (string, error) {
	ref, err := p.store.CarrierRef(ctx, warehouseID, ProviderParcelio)
	if err != nil {
		return "", err
	}
	if ref != "" {
		return ref, nil
	}

	w, err := p.store.Warehouse(ctx, warehouseID)
	if err != nil {
		return "", err
	}
	var resp struct {
		LocationID string `json:"location_id"`
	}
	err = p.client.doJSON(ctx, http.MethodPost, p.baseURL()+"/api/v2/pickup-locations", p.headers(), map[string]string{
		"label":   w.Name,
		"street":  w.Address,
		"city":    w.City,
		"state":   w.State,
		"pin":     w.Pincode,
		"contact": w.Phone,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("parcelio pickup location sync: %w", err)
	}
	if err := p.store.SaveCarrierRef(ctx, warehouseID, ProviderParcelio, resp.LocationID); err != nil {
		return "", err
	}
	return resp.LocationID, nil
}

func (p *Parcelio) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	if err := validateDestination(req); err != nil {
		return nil, err
	}
	locationRef, err := p.ensurePickupLocation(ctx, req.WarehouseID)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"reference":       req.OrderNumber,
		"pickup_location": locationRef,
		"service_code":    req.CourierCode,
		"recipient": map[string]string{
			"name":    req.CustomerName,
			"phone":   req.CustomerPhone,
			"street":  req.Address,
			"city":    req.City,
			"state":   req.State,
			"pincode": req.Pincode,
		},
		"weight":      req.WeightKG,
		"cod_amount":  req.CODAmount,
		"order_value": req.DeclaredValue,
		"reverse":     req.Reverse,
	}

	var resp struct {
		TrackingNumber string `json:"tracking_number"`
		Label          string `json:"label"`
		Courier        string `json:"courier"`
	}
	if err := p.client.doJSON(ctx, http.MethodPost, p.baseURL()+"/api/v2/shipments", p.headers(), body, &resp); err != nil {
		return nil, err
	}
	if resp.TrackingNumber == "" {
		return nil, fmt.Errorf("parcelio shipment: no tracking number in response")
	}
	return &ShipmentResult{AWB: resp.TrackingNumber, LabelURL: resp.Label, CourierName: resp.Courier}, nil
}

var parcelioTerminal = map[string]bool{
	"DELIVERED": true,
	"RTO_DONE":  true,
	"CANCELLED": true,
}

func (p *Parcelio) TrackShipment(ctx context.Context, awb string) (*TrackingStatus, error) {
	var resp struct {
		TrackingNumber string `json:"tracking_number"`
		State          string `json:"state"`
		StateCode      string `json:"state_code"`
		Hub            string `json:"hub"`
		Note           string `json:"note"`
		EventTime      string `json:"event_time"`
	}
	if err := p.client.doJSON(ctx, http.MethodGet, p.baseURL()+"/api/v2/shipments/"+awb+"/track", p.headers(), nil, &resp); err != nil {
		return nil, err
	}
	occurred, _ := time.Parse(time.RFC3339, resp.EventTime)
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return &TrackingStatus{
		AWB:        resp.TrackingNumber,
		Status:     resp.State,
		StatusCode: resp.StateCode,
		Location:   resp.Hub,
		Remarks:    resp.Note,
		OccurredAt: occurred,
		Terminal:   parcelioTerminal[resp.State],
	}, nil
}

func (p *Parcelio) CancelShipment(ctx context.Context, awb string) error {
	status, err := p.TrackShipment(ctx, awb)
	if err != nil {
		return err
	}
	if status.Terminal {
		return fmt.Errorf("%w: remote status %q", ErrNotCancellable, status.Status)
	}
	return p.client.doJSON(ctx, http.MethodDelete, p.baseURL()+"/api/v2/shipments/"+awb, p.headers(), nil, nil)
}

func (p *Parcelio) VerifyWebhook(payload []byte, signature, timestamp string) error {
	return verifySignature(p.integ.WebhookSecret, payload, signature, timestamp)
}
