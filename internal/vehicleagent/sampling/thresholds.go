package sampling

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Thresholds is the controller's immutable configuration. It is copied into
// the controller at construction.
type Thresholds struct {
	// CutoffVoltage triggers drain protection while the engine is off.
	CutoffVoltage float64
	// ResumeVoltage ends protection. It must exceed CutoffVoltage.
	ResumeVoltage float64
	// SentinelCriticalVoltage raises an alert on every sentinel pulse below it.
	SentinelCriticalVoltage float64
	// CrankingRPMLimit separates the cranking band from a running engine.
	CrankingRPMLimit float64

	CrankingInterval    time.Duration
	SteadyInterval      time.Duration
	PostDriveInterval   time.Duration
	PowerSavingInterval time.Duration
	SentinelInterval    time.Duration

	// Sentinel makes protection enter SENTINEL instead of POWER_SAVING.
	Sentinel bool
}

// DefaultThresholds returns the field-tested defaults for a 12 V system.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CutoffVoltage:           12.1,
		ResumeVoltage:           13.0,
		SentinelCriticalVoltage: 11.8,
		CrankingRPMLimit:        600,
		CrankingInterval:        100 * time.Millisecond,
		SteadyInterval:          5 * time.Second,
		PostDriveInterval:       time.Minute,
		PowerSavingInterval:     30 * time.Minute,
		SentinelInterval:        time.Hour,
	}
}

// Validate enforces the hysteresis band and positive intervals.
func (t Thresholds) Validate() error {
	var errs []error

	if t.ResumeVoltage <= t.CutoffVoltage {
		errs = append(errs, fmt.Errorf("resume voltage %.2f V must be greater than cutoff voltage %.2f V", t.ResumeVoltage, t.CutoffVoltage))
	}
	if t.CutoffVoltage <= 0 {
		errs = append(errs, fmt.Errorf("cutoff voltage must be positive, got %.2f V", t.CutoffVoltage))
	}
	if t.Sentinel && t.SentinelCriticalVoltage <= 0 {
		errs = append(errs, fmt.Errorf("sentinel critical voltage must be positive"))
	}
	if t.CrankingRPMLimit <= 0 {
		errs = append(errs, fmt.Errorf("cranking rpm limit must be positive, got %.0f", t.CrankingRPMLimit))
	}

	for name, d := range map[string]time.Duration{
		"cranking":     t.CrankingInterval,
		"steady":       t.SteadyInterval,
		"post-drive":   t.PostDriveInterval,
		"power-saving": t.PowerSavingInterval,
		"sentinel":     t.SentinelInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s interval must be positive, got %s", name, d))
		}
	}

	return utilerrors.NewAggregate(errs)
}
