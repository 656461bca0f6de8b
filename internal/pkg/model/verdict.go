package model

import "time"

// HealthStatus is the severity of a battery verdict.
type HealthStatus string

const (
	StatusOK           HealthStatus = "OK"
	StatusWarning      HealthStatus = "WARNING"
	StatusCritical     HealthStatus = "CRITICAL"
	StatusInconclusive HealthStatus = "INCONCLUSIVE"
)

// TempSource records where the compensation temperature came from.
type TempSource string

const (
	TempSourceSensor   TempSource = "sensor"
	TempSourceExternal TempSource = "external"
	TempSourceDefault  TempSource = "default"
)

// BatteryVerdict is the result of one evaluation. It is not modified after
// the evaluation pipeline hands it to the store.
type BatteryVerdict struct {
	ID        string    `json:"id"`
	VIN       string    `json:"vin"`
	EventTime time.Time `json:"event_time"`
	CreatedAt time.Time `json:"created_at"`

	Status  HealthStatus `json:"health_status"`
	Alerts  []string     `json:"alerts"`
	IsValid bool         `json:"is_valid"`

	SOH          *float64   `json:"soh,omitempty"`
	SOC          float64    `json:"soc_at_test"`
	Vmin         float64    `json:"battery_vmin"`
	FuelType     FuelType   `json:"fuel_type"`
	MeasuredTemp float64    `json:"measured_temp"`
	TempSource   TempSource `json:"temp_source"`
	ColdStart    bool       `json:"cold_start"`

	ConfirmedFailure    bool     `json:"confirmed_failure"`
	WinterSurvivalAlert bool     `json:"winter_survival_alert"`
	ForecastMin         *float64 `json:"forecast_min,omitempty"`
}
