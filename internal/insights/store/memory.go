package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

// Memory keeps verdicts in process. Verdicts are copied on the way in and out.
type Memory struct {
	mu    sync.RWMutex
	byVIN map[string][]*model.BatteryVerdict // ascending EventTime
}

var _ InsightStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{byVIN: map[string][]*model.BatteryVerdict{}}
}

func (m *Memory) Save(_ context.Context, v *model.BatteryVerdict) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.byVIN[v.VIN]
	i := sort.Search(len(list), func(i int) bool { return !list[i].EventTime.Before(v.EventTime) })
	if i < len(list) && list[i].EventTime.Equal(v.EventTime) {
		return false, nil
	}

	cp := *v
	cp.Alerts = append([]string(nil), v.Alerts...)
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &cp
	m.byVIN[v.VIN] = list
	return true, nil
}

func (m *Memory) GetRecent(_ context.Context, vin string, before time.Time, limit int) ([]*model.BatteryVerdict, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.byVIN[vin]
	end := len(list)
	if !before.IsZero() {
		end = sort.Search(len(list), func(i int) bool { return !list[i].EventTime.Before(before) })
	}

	out := make([]*model.BatteryVerdict, 0, min(limit, end))
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
