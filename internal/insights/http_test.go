package insights

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListInsights(t *testing.T) {
	f := newFixture(t, fakeWeather{temp: 25})
	for i := 0; i < 3; i++ {
		_, _, err := f.svc.Process(context.Background(), report(i*60, 10), nil)
		require.NoError(t, err)
	}

	r := mux.NewRouter()
	RegisterRoutes(r, f.svc, f.archive)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/v1/vehicles/" + testVIN + "/insights?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body insightsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, testVIN, body.VIN)
	require.Len(t, body.Insights, 2)
	assert.True(t, body.Insights[0].EventTime.After(body.Insights[1].EventTime))

	rec = get("/v1/vehicles/UNKNOWN/insights")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"vin":"UNKNOWN","insights":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, get("/v1/vehicles/"+testVIN+"/insights?limit=zero").Code)
	assert.Equal(t, http.StatusBadRequest, get("/v1/vehicles/"+testVIN+"/insights?limit=-1").Code)
}

func TestRawWindowRedirect(t *testing.T) {
	f := newFixture(t, fakeWeather{})

	r := mux.NewRouter()
	RegisterRoutes(r, f.svc, f.archive)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles/"+testVIN+"/cranking/1768028400000/raw", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://archive.example/raw", rec.Header().Get("Location"))

	r = mux.NewRouter()
	RegisterRoutes(r, f.svc, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles/"+testVIN+"/cranking/1768028400000/raw", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluationOptions(t *testing.T) {
	o := NewEvaluationOptions()
	assert.Empty(t, o.Validate())
	assert.Equal(t, 9.6, o.BatteryConfig().PassVoltage)
	assert.Equal(t, 3, o.Debounce().Threshold)

	o.FailVoltage = 9.7
	o.DebounceThreshold = 0
	o.Strategy = "cubic"
	assert.Len(t, o.Validate(), 3)

	o.Cranking.MinPoints = 1
	assert.Len(t, o.Validate(), 4)
}
