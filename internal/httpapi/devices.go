package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"govee-gateway/internal/storage"
	"govee-gateway/internal/telemetry"
	"govee-gateway/internal/utils"
)

const (
	defaultReadingsRange = 24 * time.Hour
	defaultLimit         = 100
	maxLimit             = 1000
)

type readingsResponse struct {
	Address  string                `json:"address"`
	From     time.Time             `json:"from"`
	To       time.Time             `json:"to"`
	Total    int                   `json:"total"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
	Readings []telemetry.Telemetry `json:"readings"`
}

type devicesController struct {
	repo storage.Repository
	now  func() time.Time
}

func registerDevices(mux *http.ServeMux, deps Deps) {
	c := &devicesController{repo: deps.Repo, now: time.Now}
	mux.Handle("GET /api/v1/devices", route(deps, "/api/v1/devices", c.handleDevices))
	mux.Handle("GET /api/v1/devices/{address}/latest", route(deps, "/api/v1/devices/{address}/latest", c.handleLatest))
	mux.Handle("GET /api/v1/devices/{address}/readings", route(deps, "/api/v1/devices/{address}/readings", c.handleReadings))
}

func (c *devicesController) available(w http.ResponseWriter) bool {
	if c.repo == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "storage disabled (set SQLITE_PATH)")
		return false
	}
	return true
}

func (c *devicesController) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !c.available(w) {
		return
	}
	devices, err := c.repo.Devices(r.Context())
	if err != nil {
		slog.Error("devices: query failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load devices")
		return
	}
	utils.WriteJSON(w, http.StatusOK, devices)
}

func (c *devicesController) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !c.available(w) {
		return
	}
	address := r.PathValue("address")
	if address == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing device address")
		return
	}

	latest, err := storage.LatestReading(r.Context(), c.repo, address)
	if errors.Is(err, storage.ErrNotFound) {
		utils.WriteError(w, http.StatusNotFound, "no readings for "+address)
		return
	}
	if err != nil {
		slog.Error("latest: query failed", "addr", address, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load reading")
		return
	}
	utils.WriteJSON(w, http.StatusOK, telemetry.FromReading(latest))
}

func (c *devicesController) handleReadings(w http.ResponseWriter, r *http.Request) {
	if !c.available(w) {
		return
	}
	address := r.PathValue("address")
	if address == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing device address")
		return
	}

	q, err := parseReadingsQuery(r, c.now())
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := c.repo.ReadingsCount(r.Context(), address, q.from, q.to)
	if err != nil {
		slog.Error("readings: count failed", "addr", address, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to count readings")
		return
	}
	readings, err := c.repo.Readings(r.Context(), address, q.from, q.to, q.limit, q.offset)
	if err != nil {
		slog.Error("readings: query failed", "addr", address, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}

	out := make([]telemetry.Telemetry, 0, len(readings))
	for _, rd := range readings {
		out = append(out, telemetry.FromReading(rd))
	}
	utils.WriteJSON(w, http.StatusOK, readingsResponse{
		Address:  address,
		From:     q.from,
		To:       q.to,
		Total:    total,
		Limit:    q.limit,
		Offset:   q.offset,
		Readings: out,
	})
}

type readingsQuery struct {
	from, to      time.Time
	limit, offset int
}

// parseReadingsQuery reads from/to (RFC3339, default the last 24h ending
// now), limit (1..1000, default 100) and offset (>= 0).
func parseReadingsQuery(r *http.Request, now time.Time) (readingsQuery, error) {
	q := r.URL.Query()
	out := readingsQuery{to: now, limit: defaultLimit}

	var err error
	if s := q.Get("to"); s != "" {
		if out.to, err = time.Parse(time.RFC3339, s); err != nil {
			return readingsQuery{}, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	out.from = out.to.Add(-defaultReadingsRange)
	if s := q.Get("from"); s != "" {
		if out.from, err = time.Parse(time.RFC3339, s); err != nil {
			return readingsQuery{}, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if out.from.After(out.to) {
		return readingsQuery{}, errors.New("'from' must be <= 'to'")
	}

	if s := q.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return readingsQuery{}, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return readingsQuery{}, errors.New("'limit' must be > 0")
		}
		if n > maxLimit {
			return readingsQuery{}, errors.New("'limit' must be <= 1000")
		}
		out.limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil || n < 0 {
			return readingsQuery{}, errors.New("invalid 'offset' (expected integer >= 0)")
		}
		out.offset = n
	}
	return out, nil
}
