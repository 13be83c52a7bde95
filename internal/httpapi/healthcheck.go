package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"govee-gateway/internal/scanner"
	"govee-gateway/internal/utils"
)

type healthResponse struct {
	Status   string `json:"status"`
	Scanner  string `json:"scanner"`
	Database string `json:"database"`
}

type healthchecker struct {
	deps Deps
}

// handleHealthz answers 200 while the radio and the database (if any) work,
// 503 otherwise. The body always carries the component states.
func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Scanner: "disabled", Database: "disabled"}
	status := http.StatusOK

	if h.deps.Scanner != nil {
		phase := h.deps.Scanner.Session().Phase
		resp.Scanner = phase.String()
		if phase == scanner.Unavailable {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	if h.deps.Repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Repo.Ping(ctx); err != nil {
			slog.Error("failed to check database connectivity", "error", err)
			resp.Database = "error"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	utils.WriteJSON(w, status, resp)
}

func registerHealthcheck(mux *http.ServeMux, deps Deps) {
	h := &healthchecker{deps: deps}
	mux.Handle("GET /healthz", route(deps, "/healthz", h.handleHealthz))
}
