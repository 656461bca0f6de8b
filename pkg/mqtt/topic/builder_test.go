package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("/vehicle/")

	if got := b.Telemetry("VIN1"); got != "vehicle/VIN1/telemetry" {
		t.Errorf("Telemetry = %q", got)
	}
	if got := b.Cranking("VIN1"); got != "vehicle/VIN1/cranking" {
		t.Errorf("Cranking = %q", got)
	}
	if got := b.Alerts("VIN1"); got != "vehicle/VIN1/alerts" {
		t.Errorf("Alerts = %q", got)
	}
}
