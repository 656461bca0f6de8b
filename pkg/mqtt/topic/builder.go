package topic

import (
	"fmt"
	"strings"
)

// Topic segments shared by the agent and the brokers in front of the insights
// worker. Changing them breaks deployed agents.
const (
	// SuffixTelemetry carries periodic samples (Edge -> Cloud).
	// Structure: {root}/{vin}/telemetry
	SuffixTelemetry = "telemetry"

	// SuffixCranking carries one report per completed engine start (Edge -> Cloud).
	// Structure: {root}/{vin}/cranking
	SuffixCranking = "cranking"

	// SuffixAlerts carries drain and sentinel alerts (Edge -> Cloud).
	// Structure: {root}/{vin}/alerts
	SuffixAlerts = "alerts"
)

// Builder encapsulates the logic for constructing MQTT topic strings.
type Builder struct {
	// root is the first topic level, "vehicle" by default.
	root string
}

// NewBuilder creates a new Builder with the specified root level.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Telemetry returns the topic for a vehicle's samples.
func (b *Builder) Telemetry(vin string) string {
	return b.Build(SuffixTelemetry, vin)
}

// Cranking returns the topic for a vehicle's cranking reports.
func (b *Builder) Cranking(vin string) string {
	return b.Build(SuffixCranking, vin)
}

// Alerts returns the topic for a vehicle's alerts.
func (b *Builder) Alerts(vin string) string {
	return b.Build(SuffixAlerts, vin)
}

// Build constructs {root}/{vin}/{segment}.
func (b *Builder) Build(segment, vin string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, vin, segment)
}
