// Package store persists battery verdicts and serves the debounce history.
package store

import (
	"context"
	"time"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

// InsightStore is append-only. A verdict is identified by (VIN, EventTime);
// saving the same event twice keeps the first copy.
type InsightStore interface {
	// Save stores v and reports whether it was new.
	Save(ctx context.Context, v *model.BatteryVerdict) (bool, error)
	// GetRecent returns up to limit verdicts for vin with EventTime strictly
	// before before, most recent first. A zero before means no upper bound.
	GetRecent(ctx context.Context, vin string, before time.Time, limit int) ([]*model.BatteryVerdict, error)
	Close() error
}
