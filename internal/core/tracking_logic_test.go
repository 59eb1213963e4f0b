package core

import "testing"

func TestMapCarrierStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"picked_up", ShipmentInTransit},
		{"In Transit", ShipmentInTransit},
		{"OUT_FOR_DELIVERY", ShipmentOutForDelivery},
		{"delivered", ShipmentDelivered},
		{"undelivered", ShipmentNDR},
		{"failed_delivery", ShipmentNDR},
		{"rto_initiated", ShipmentRTOTriggered},
		{"RTO_DONE", ShipmentRTODelivered},
		{"canceled", ShipmentCancelled},
		{"manifested", ShipmentCreated},
		// Unknown carrier codes must not wedge a shipment.
		{"weird_new_code", ShipmentInTransit},
	}
	for _, tc := range cases {
		if got := mapCarrierStatus(tc.in); got != tc.want {
			t.Errorf("mapCarrierStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []string{ShipmentDelivered, ShipmentRTODelivered, ShipmentCancelled} {
		if !terminalStatuses[s] {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []string{ShipmentCreated, ShipmentInTransit, ShipmentNDR, ShipmentRTOTriggered} {
		if terminalStatuses[s] {
			t.Errorf("%s must not be terminal", s)
		}
	}
}
