package insights

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/barnapet/smartdrive/internal/insights/archive"
	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	rawURLExpiry = 15 * time.Minute
)

type insightsResponse struct {
	VIN      string                  `json:"vin"`
	Insights []*model.BatteryVerdict `json:"insights"`
}

type api struct {
	svc     *Service
	archive archive.Archive
}

// RegisterRoutes mounts the query API. arch may be nil, in which case raw
// window links answer 404.
func RegisterRoutes(r *mux.Router, svc *Service, arch archive.Archive) {
	a := &api{svc: svc, archive: arch}
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/vehicles/{vin}/insights", a.listInsights).Methods(http.MethodGet)
	v1.HandleFunc("/vehicles/{vin}/cranking/{timestamp:[0-9]+}/raw", a.rawWindow).Methods(http.MethodGet)
}

func (a *api) listInsights(w http.ResponseWriter, r *http.Request) {
	vin := mux.Vars(r)["vin"]

	limit := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLimit)
	}

	verdicts, err := a.svc.Recent(r.Context(), vin, limit)
	if err != nil {
		log.Error(err, "Failed to query insights", "vin", vin)
		http.Error(w, "failed to query insights", http.StatusInternalServerError)
		return
	}
	if verdicts == nil {
		verdicts = []*model.BatteryVerdict{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(insightsResponse{VIN: vin, Insights: verdicts})
}

// rawWindow redirects to the archived report. timestamp is the cranking start
// in unix milliseconds.
func (a *api) rawWindow(w http.ResponseWriter, r *http.Request) {
	if a.archive == nil {
		http.Error(w, "raw window archive is disabled", http.StatusNotFound)
		return
	}
	vars := mux.Vars(r)
	ms, err := strconv.ParseInt(vars["timestamp"], 10, 64)
	if err != nil {
		http.Error(w, "invalid timestamp", http.StatusBadRequest)
		return
	}

	u, err := a.archive.URL(r.Context(), vars["vin"], time.UnixMilli(ms), rawURLExpiry)
	if err != nil {
		log.Error(err, "Failed to sign raw window url", "vin", vars["vin"])
		http.Error(w, "failed to sign url", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}
