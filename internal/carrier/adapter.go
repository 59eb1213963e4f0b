package carrier

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared by every adapter. Callers branch with errors.Is.
var (
	// ErrNotServiceable means the carrier returned zero options for the corridor.
	ErrNotServiceable = errors.New("corridor not serviceable")
	// ErrNotCancellable means the shipment is in a terminal remote state.
	ErrNotCancellable = errors.New("shipment not cancellable")
	// ErrInvalidDestination means the destination contact details failed format checks.
	ErrInvalidDestination = errors.New("invalid destination contact details")
	// ErrBadSignature means the webhook signature or timestamp check failed.
	ErrBadSignature = errors.New("webhook signature verification failed")
)

// RateRequest describes the corridor and package a rate quote is wanted for.
type RateRequest struct {
	OriginPincode string
	DestPincode   string
	WeightKG      decimal.Decimal
	LengthCM      int
	WidthCM       int
	HeightCM      int
	PaymentMode   string // "prepaid" | "cod"
	DeclaredValue decimal.Decimal
}

// RateOption is one serviceable carrier/service combination.
type RateOption struct {
	CourierCode      string
	CourierName      string
	ServiceType      string
	TotalPrice       decimal.Decimal
	ChargeableWeight decimal.Decimal
	Zone             string
	EstimatedDays    int
}

// ShipmentRequest carries everything an adapter needs to create a shipment.
type ShipmentRequest struct {
	OrderNumber   string
	WarehouseID   int
	CourierCode   string
	CustomerName  string
	CustomerPhone string
	Address       string
	City          string
	State         string
	Pincode       string
	WeightKG      decimal.Decimal
	PaymentMode   string
	CODAmount     decimal.Decimal
	DeclaredValue decimal.Decimal
	Reverse       bool // true for RTO bookings: pickup at customer, deliver to warehouse
}

// ShipmentResult is the carrier's response to a successful booking.
type ShipmentResult struct {
	AWB         string
	LabelURL    string
	CourierName string
}

// TrackingStatus is a normalized remote tracking snapshot.
type TrackingStatus struct {
	AWB        string
	Status     string
	StatusCode string
	Location   string
	Remarks    string
	OccurredAt time.Time
	Terminal   bool
}

// Adapter wraps one external carrier's API behind a uniform contract.
// Implementations handle their own authentication, retries, and payload shapes;
// callers never see carrier-specific wire formats.
type Adapter interface {
	Provider() string

	// GetRates returns all serviceable options sorted ascending by total price.
	// Zero options from the provider surfaces as ErrNotServiceable.
	GetRates(ctx context.Context, req RateRequest) ([]RateOption, error)

	// CreateShipment books a shipment. The source warehouse is synced with the
	// carrier lazily on first use and cached.
	CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error)

	TrackShipment(ctx context.Context, awb string) (*TrackingStatus, error)

	// CancelShipment checks the current remote status first and returns
	// ErrNotCancellable once the shipment is in a terminal remote state.
	CancelShipment(ctx context.Context, awb string) error

	// VerifyWebhook validates the HMAC signature and timestamp of an inbound
	// webhook before any payload content is trusted.
	VerifyWebhook(payload []byte, signature, timestamp string) error
}

var (
	pincodeRe = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	phoneRe   = regexp.MustCompile(`^(\+91)?[6-9][0-9]{9}$`)
)

// validateDestination enforces contact format before any outbound carrier call.
func validateDestination(req ShipmentRequest) error {
	if !pincodeRe.MatchString(req.Pincode) {
		return ErrInvalidDestination
	}
	if !phoneRe.MatchString(req.CustomerPhone) {
		return ErrInvalidDestination
	}
	if req.CustomerName == "" || req.Address == "" {
		return ErrInvalidDestination
	}
	return nil
}

// sortOptionsByPrice orders options ascending by total price, cheapest first.
func sortOptionsByPrice(opts []RateOption) {
	sort.Slice(opts, func(i, j int) bool {
		return opts[i].TotalPrice.LessThan(opts[j].TotalPrice)
	})
}
