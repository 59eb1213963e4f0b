package core_test

import (
	"testing"

	"fulfillment-core/internal/core"
)

func TestIsNonDelivery(t *testing.T) {
	cases := []struct {
		name       string
		statusCode string
		remarks    string
		want       bool
	}{
		{"known code", "NDR", "", true},
		{"known code lowercase", "undelivered", "", true},
		{"keyword in remarks", "X42", "Customer not available at address", true},
		{"refusal keyword", "", "Consignee refused to accept", true},
		{"delivered", "DLV", "Delivered to customer", false},
		{"plain transit", "IT", "Reached Delhi hub", false},
		{"empty", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := core.IsNonDelivery(tc.statusCode, tc.remarks); got != tc.want {
				t.Fatalf("IsNonDelivery(%q, %q) = %v, want %v", tc.statusCode, tc.remarks, got, tc.want)
			}
		})
	}
}

func TestExtractReason(t *testing.T) {
	if got := core.ExtractReason("NDR", "Customer door was locked, no response on call"); got != "Customer door was locked, no response on call" {
		t.Fatalf("long remarks must win, got %q", got)
	}
	if got := core.ExtractReason("CUST_NA", "n/a"); got != "Delivery failed (CUST_NA)" {
		t.Fatalf("short remarks fall back to code, got %q", got)
	}
	if got := core.ExtractReason("", ""); got != "Delivery failed (UNKNOWN)" {
		t.Fatalf("empty input, got %q", got)
	}
}

func TestClassifyKeywords(t *testing.T) {
	cases := []struct {
		reason string
		want   string
	}{
		{"Address incomplete, landmark missing", core.NDRAddressIssue},
		{"Customer not available at home", core.NDRCustomerUnavailable},
		{"Consignee refused the package", core.NDRRefused},
		{"COD cash not ready with customer", core.NDRPaymentIssue},
		{"Vehicle breakdown en route", core.NDROther},
		// Refusal outranks availability when both appear.
		{"Customer refused, not available for reattempt", core.NDRRefused},
	}
	for _, tc := range cases {
		if got := core.ClassifyKeywords(tc.reason); got != tc.want {
			t.Errorf("ClassifyKeywords(%q) = %q, want %q", tc.reason, got, tc.want)
		}
	}
}
