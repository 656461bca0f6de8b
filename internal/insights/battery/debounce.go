package battery

import (
	"fmt"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

// Debounce confirms a battery failure only after repeated CRITICAL verdicts,
// so a single bad cranking event does not alarm the driver.
type Debounce struct {
	// Window is how many earlier verdicts are consulted.
	Window int
	// Threshold is the consecutive CRITICAL count, current verdict included,
	// that confirms a failure.
	Threshold int
}

func DefaultDebounce() Debounce {
	return Debounce{Window: 2, Threshold: 3}
}

func (d Debounce) Validate() error {
	if d.Threshold < 1 {
		return fmt.Errorf("debounce threshold must be at least 1, got %d", d.Threshold)
	}
	if d.Window < d.Threshold-1 {
		return fmt.Errorf("debounce window %d cannot reach threshold %d", d.Window, d.Threshold)
	}
	return nil
}

// Confirmed reports whether current, together with history (most recent
// first, strictly older than current), forms Threshold consecutive CRITICAL
// verdicts. Counting stops at the first non-CRITICAL entry.
func (d Debounce) Confirmed(current model.HealthStatus, history []*model.BatteryVerdict) bool {
	if current != model.StatusCritical {
		return false
	}
	count := 1
	for i, v := range history {
		if i >= d.Window || v.Status != model.StatusCritical {
			break
		}
		count++
	}
	return count >= d.Threshold
}
