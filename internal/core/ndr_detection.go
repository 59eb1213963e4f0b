package core

import (
	"fmt"
	"strings"
)

// nonDeliveryCodes are carrier status codes that always mean a failed delivery
// attempt, regardless of remarks.
var nonDeliveryCodes = map[string]bool{
	"NDR":              true,
	"UD":               true,
	"UNDELIVERED":      true,
	"DELIVERY_FAILED":  true,
	"FAILED_DELIVERY":  true,
	"CUST_UNAVAILABLE": true,
	"ADDR_INCOMPLETE":  true,
	"REFUSED":          true,
	"COD_NOT_READY":    true,
}

// nonDeliveryKeywords trigger detection from free-text remarks when the status
// code alone is inconclusive.
var nonDeliveryKeywords = []string{
	"not delivered",
	"delivery failed",
	"failed delivery",
	"undelivered",
	"unable to deliver",
	"customer not available",
	"consignee unavailable",
	"refused",
	"rejected by customer",
	"address incomplete",
	"address not found",
	"wrong address",
	"cod not ready",
	"payment not ready",
}

// IsNonDelivery reports whether a tracking update describes a failed delivery
// attempt, by status code or by remark keywords.
func IsNonDelivery(statusCode, remarks string) bool {
	if nonDeliveryCodes[strings.ToUpper(strings.TrimSpace(statusCode))] {
		return true
	}
	lower := strings.ToLower(remarks)
	for _, kw := range nonDeliveryKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractReason picks the human-readable failure reason: carrier remarks when
// they carry enough signal, otherwise a formatted status code.
func ExtractReason(statusCode, remarks string) string {
	remarks = strings.TrimSpace(remarks)
	if len(remarks) >= 10 {
		return remarks
	}
	code := strings.TrimSpace(statusCode)
	if code == "" {
		code = "UNKNOWN"
	}
	return fmt.Sprintf("Delivery failed (%s)", code)
}

// keyword groups per NDR type, checked in order. Refusal outranks availability
// because carriers often phrase refusals as "customer refused, not available".
var classificationKeywords = []struct {
	ndrType  string
	keywords []string
}{
	{NDRRefused, []string{"refused", "rejected", "denied", "does not want"}},
	{NDRAddressIssue, []string{"address", "location", "premises", "landmark", "pincode", "locality"}},
	{NDRPaymentIssue, []string{"cod", "cash", "payment", "amount not ready", "money"}},
	{NDRCustomerUnavailable, []string{"not available", "unavailable", "no response", "unreachable", "phone", "door locked", "not at home", "out of station"}},
}

// ClassifyKeywords buckets a failure reason into an NDR type by keyword match.
// It is the fallback when the AI classifier is unavailable or fails.
func ClassifyKeywords(reason string) string {
	lower := strings.ToLower(reason)
	for _, group := range classificationKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.ndrType
			}
		}
	}
	return NDROther
}
