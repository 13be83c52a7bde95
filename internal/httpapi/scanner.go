package httpapi

import (
	"net/http"
	"time"

	"govee-gateway/internal/telemetry"
	"govee-gateway/internal/utils"
)

type scannerResponse struct {
	telemetry.ScannerStatus
	Window       string `json:"window"`
	RestartDelay string `json:"restart_delay"`
}

func registerScanner(mux *http.ServeMux, deps Deps) {
	mux.Handle("GET /api/v1/scanner", route(deps, "/api/v1/scanner", func(w http.ResponseWriter, r *http.Request) {
		if deps.Scanner == nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "scanner not configured")
			return
		}
		s := deps.Scanner.Session()
		utils.WriteJSON(w, http.StatusOK, scannerResponse{
			ScannerStatus: telemetry.StatusFromSession(s, time.Now()),
			Window:        s.Window.String(),
			RestartDelay:  s.RestartDelay.String(),
		})
	}))
}
