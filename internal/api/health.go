package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports dependency health. The store is the only hard
// dependency: when it is down the endpoint returns 503 so load
// balancers stop routing here. Degraded collaborators are reported but
// do not fail the check.
func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	deps := a.deps.Health.Health(ctx)
	status := "ok"
	code := http.StatusOK
	if deps["store"] != "ok" {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	} else {
		for _, v := range deps {
			if v != "ok" {
				status = "degraded"
				break
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":       status,
		"dependencies": deps,
		"pool": map[string]int64{
			"in_flight": a.inFlight.Load(),
			"limit":     a.deps.MaxConcurrent,
		},
	})
}
