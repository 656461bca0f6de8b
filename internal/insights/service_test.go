package insights

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/barnapet/smartdrive/internal/insights/battery"
	"github.com/barnapet/smartdrive/internal/insights/queue"
	"github.com/barnapet/smartdrive/internal/insights/store"
	"github.com/barnapet/smartdrive/internal/insights/temperature"
	"github.com/barnapet/smartdrive/internal/pkg/cranking"
	"github.com/barnapet/smartdrive/internal/pkg/model"
)

const testVIN = "WVWZZZ1JZXW000001"

var start = time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC)

type fakeWeather struct {
	temp, min float64
}

func (f fakeWeather) Temperature(context.Context, float64, float64) (float64, error) {
	return f.temp, nil
}

func (f fakeWeather) ForecastMin(context.Context, float64, float64) (float64, error) {
	return f.min, nil
}

type recordingPublisher struct {
	verdicts []*model.BatteryVerdict
	err      error
}

func (p *recordingPublisher) PublishVerdict(_ context.Context, v *model.BatteryVerdict) error {
	p.verdicts = append(p.verdicts, v)
	return p.err
}

type recordingArchive struct {
	keys []string
}

func (a *recordingArchive) Put(_ context.Context, r *model.CrankingReport, payload []byte) (string, error) {
	key := r.VIN + "/" + r.StartTime().UTC().Format(time.RFC3339)
	a.keys = append(a.keys, key)
	return key, nil
}

func (a *recordingArchive) URL(context.Context, string, time.Time, time.Duration) (string, error) {
	return "https://archive.example/raw", nil
}

type failingStore struct {
	store.InsightStore
}

func (failingStore) GetRecent(context.Context, string, time.Time, int) ([]*model.BatteryVerdict, error) {
	return nil, errors.New("connection reset")
}

type fixture struct {
	svc       *Service
	store     *store.Memory
	publisher *recordingPublisher
	archive   *recordingArchive
	clock     *testingclock.FakeClock
}

func newFixture(t *testing.T, w fakeWeather) *fixture {
	t.Helper()
	evaluator, err := battery.NewEvaluator(battery.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{
		store:     store.NewMemory(),
		publisher: &recordingPublisher{},
		archive:   &recordingArchive{},
		clock:     testingclock.NewFakeClock(start.Add(time.Minute)),
	}
	f.svc, err = NewService(evaluator, battery.DefaultDebounce(), temperature.NewResolver(w), f.store, "plateau",
		WithArchive(f.archive), WithPublisher(f.publisher), WithClock(f.clock))
	require.NoError(t, err)
	return f
}

func report(minutes int, vmin float64) *model.CrankingReport {
	return &model.CrankingReport{
		VIN:         testVIN,
		Timestamp:   model.EpochSeconds(start.Add(time.Duration(minutes) * time.Minute)),
		Strategy:    "plateau",
		RefinedVmin: ptr.To(vmin),
		Latitude:    ptr.To(47.5),
		Longitude:   ptr.To(19.0),
		FuelType:    model.FuelGasoline,
	}
}

func encode(t *testing.T, r *model.CrankingReport) []byte {
	t.Helper()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return b
}

func TestProcessBuildsVerdict(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 0, min: -4})
	r := report(0, 9.0)
	r.SOH = ptr.To(82.0)
	r.SOC = ptr.To(75.0)
	r.CoolantTemp = ptr.To(2.0)

	v, outcome, err := f.svc.Process(context.Background(), r, encode(t, r))
	require.NoError(t, err)
	assert.Equal(t, OutcomeEvaluated, outcome)

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, testVIN, v.VIN)
	assert.True(t, v.EventTime.Equal(start))
	assert.Equal(t, start.Add(time.Minute), v.CreatedAt)
	// 0 °C: pass limit 9.15 V, SOH warn floor 83 %.
	assert.Equal(t, model.StatusWarning, v.Status)
	assert.Len(t, v.Alerts, 2)
	assert.True(t, v.IsValid)
	assert.Equal(t, model.TempSourceExternal, v.TempSource)
	assert.Equal(t, 0.0, v.MeasuredTemp)
	assert.True(t, v.ColdStart)
	assert.False(t, v.ConfirmedFailure)
	assert.True(t, v.WinterSurvivalAlert)
	require.NotNil(t, v.ForecastMin)
	assert.Equal(t, -4.0, *v.ForecastMin)

	assert.Len(t, f.archive.keys, 1)
	require.Len(t, f.publisher.verdicts, 1)
	assert.Equal(t, v.ID, f.publisher.verdicts[0].ID)
}

func TestProcessLowSOCIsInconclusive(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 25, min: 10})
	r := report(0, 10)
	r.SOH = ptr.To(90.0)
	r.SOC = ptr.To(50.0)

	v, _, err := f.svc.Process(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInconclusive, v.Status)
	assert.False(t, v.IsValid)
	assert.False(t, v.ConfirmedFailure)
}

func TestDebounceConfirmsThirdCritical(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 25, min: 10})
	ctx := context.Background()

	var confirmed []bool
	for i := 0; i < 4; i++ {
		v, outcome, err := f.svc.Process(ctx, report(i*60, 8.0), nil)
		require.NoError(t, err)
		require.Equal(t, OutcomeEvaluated, outcome)
		assert.Equal(t, model.StatusCritical, v.Status)
		confirmed = append(confirmed, v.ConfirmedFailure)
	}
	assert.Equal(t, []bool{false, false, true, true}, confirmed)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 25, min: 10})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := f.svc.Process(ctx, report(i*60, 8.0), nil)
		require.NoError(t, err)
	}
	// Redeliver the second event three times: the count must not grow.
	for i := 0; i < 3; i++ {
		v, outcome, err := f.svc.Process(ctx, report(60, 8.0), nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, outcome)
		assert.False(t, v.ConfirmedFailure)
	}

	stored, err := f.store.GetRecent(ctx, testVIN, time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Len(t, f.publisher.verdicts, 2)
}

func TestOutOfOrderEventUsesOlderHistoryOnly(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 25, min: 10})
	ctx := context.Background()

	for _, m := range []int{0, 60, 120} {
		_, _, err := f.svc.Process(ctx, report(m, 8.0), nil)
		require.NoError(t, err)
	}
	// A late report from before all of them sees no history.
	v, _, err := f.svc.Process(ctx, report(-60, 8.0), nil)
	require.NoError(t, err)
	assert.False(t, v.ConfirmedFailure)
}

func TestProcessRefinesRawPoints(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 25, min: 10})
	r := report(0, 0)
	r.RefinedVmin = nil
	r.Points = []model.CrankingPoint{
		{Offset: 0, Voltage: 12.4},
		{Offset: 0.05, Voltage: 7.9},
		{Offset: 0.15, Voltage: 10.1},
		{Offset: 0.3, Voltage: 10.0},
		{Offset: 0.5, Voltage: 10.2},
		{Offset: 0.8, Voltage: 12.0},
	}

	v, outcome, err := f.svc.Process(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEvaluated, outcome)
	assert.InDelta(t, (10.1+10.0+10.2)/3, v.Vmin, 1e-9)
	assert.Equal(t, model.StatusOK, v.Status)
}

func TestProcessSkipsUnrefinableWindow(t *testing.T) {
	f := newFixture(t, fakeWeather{})
	r := report(0, 0)
	r.RefinedVmin = nil
	r.Points = []model.CrankingPoint{{Offset: 0, Voltage: 12.4}}

	v, outcome, err := f.svc.Process(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Nil(t, v)
	assert.Empty(t, f.publisher.verdicts)
	// Raw windows are archived even when they cannot be evaluated.
	assert.Len(t, f.archive.keys, 1)
}

func TestProcessRefinesWithConfiguredConstants(t *testing.T) {
	evaluator, err := battery.NewEvaluator(battery.DefaultConfig())
	require.NoError(t, err)
	cfg := cranking.DefaultConfig()
	cfg.Plateau.MinSamples = 4
	svc, err := NewService(evaluator, battery.DefaultDebounce(), temperature.NewResolver(nil), store.NewMemory(), "plateau",
		WithCrankingConfig(cfg))
	require.NoError(t, err)

	r := report(0, 0)
	r.RefinedVmin = nil
	r.Points = []model.CrankingPoint{
		{Offset: 0.15, Voltage: 10.1},
		{Offset: 0.3, Voltage: 10.0},
		{Offset: 0.5, Voltage: 10.2},
	}
	// three plateau samples refine under the defaults but not with four required
	_, outcome, err := svc.Process(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	cfg.Plateau.MinVoltage = 20
	_, err = NewService(evaluator, battery.DefaultDebounce(), temperature.NewResolver(nil), store.NewMemory(), "plateau",
		WithCrankingConfig(cfg))
	assert.Error(t, err)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 25})
	f.publisher.err = errors.New("broker gone")

	_, outcome, err := f.svc.Process(context.Background(), report(0, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEvaluated, outcome)
}

func TestHandleClassifiesErrors(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 25})
	ctx := context.Background()

	err := f.svc.Handle(ctx, []byte(`{not json`))
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))

	err = f.svc.Handle(ctx, []byte(`{"vin":"X","timestamp":1700000000,"refined_vmin":9.9,"fuel_type":"hydrogen"}`))
	assert.True(t, queue.IsPermanent(err))

	require.NoError(t, f.svc.Handle(ctx, encode(t, report(0, 10))))

	evaluator, _ := battery.NewEvaluator(battery.DefaultConfig())
	broken, err := NewService(evaluator, battery.DefaultDebounce(), temperature.NewResolver(nil), failingStore{}, "plateau")
	require.NoError(t, err)
	err = broken.Handle(ctx, encode(t, report(0, 10)))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
}

func TestNewServiceRejectsUnknownStrategy(t *testing.T) {
	evaluator, _ := battery.NewEvaluator(battery.DefaultConfig())
	_, err := NewService(evaluator, battery.DefaultDebounce(), temperature.NewResolver(nil), store.NewMemory(), "cubic")
	assert.Error(t, err)
}
