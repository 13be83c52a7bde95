package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"govee-gateway/internal/decoder"

	"github.com/google/uuid"
)

//go:embed queries/upsert-device.sql
var upsertDeviceSQL string

//go:embed queries/insert-reading.sql
var insertReadingSQL string

//go:embed queries/get-devices.sql
var getDevicesSQL string

//go:embed queries/get-latest-readings.sql
var getLatestReadingsSQL string

//go:embed queries/get-readings.sql
var getReadingsSQL string

//go:embed queries/get-readings-count.sql
var getReadingsCountSQL string

// Fixed-width UTC timestamps keep lexical order equal to time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

var ErrNotFound = errors.New("not found")

type Device struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	LastRSSI  int       `json:"last_rssi"`
}

type Repository interface {
	InsertReading(ctx context.Context, r decoder.Reading) error
	Devices(ctx context.Context) ([]Device, error)
	LatestReadings(ctx context.Context, address string, limit int) ([]decoder.Reading, error)
	Readings(ctx context.Context, address string, from, to time.Time, limit, offset int) ([]decoder.Reading, error)
	ReadingsCount(ctx context.Context, address string, from, to time.Time) (int, error)
	Ping(ctx context.Context) error
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

// LatestReading returns the newest stored reading for address, or ErrNotFound.
func LatestReading(ctx context.Context, repo Repository, address string) (decoder.Reading, error) {
	rs, err := repo.LatestReadings(ctx, address, 1)
	if err != nil {
		return decoder.Reading{}, err
	}
	if len(rs) == 0 {
		return decoder.Reading{}, fmt.Errorf("latest reading for %s: %w", address, ErrNotFound)
	}
	return rs[0], nil
}

func (r *repositoryImpl) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InsertReading records the device (creating or refreshing it) and the reading
// in one transaction.
func (r *repositoryImpl) InsertReading(ctx context.Context, rd decoder.Reading) error {
	if rd.Address == "" {
		return fmt.Errorf("insert reading: empty address")
	}
	id := rd.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	ts := formatTS(rd.SeenAt)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertDeviceSQL, rd.Address, rd.DeviceName, ts, ts, rd.RSSI); err != nil {
		return fmt.Errorf("upsert device %s: %w", rd.Address, err)
	}
	if _, err := tx.ExecContext(ctx, insertReadingSQL,
		id.String(), rd.Address, ts, rd.RSSI,
		rd.TemperatureRaw, rd.HumidityRaw, rd.Temperature, rd.Humidity,
	); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *repositoryImpl) Devices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, getDevicesSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close devices rows", "error", err)
		}
	}()

	out := []Device{}
	for rows.Next() {
		var (
			d           Device
			first, last string
		)
		if err := rows.Scan(&d.Address, &d.Name, &first, &last, &d.LastRSSI); err != nil {
			return nil, err
		}
		if d.FirstSeen, err = parseTS(first); err != nil {
			return nil, err
		}
		if d.LastSeen, err = parseTS(last); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) LatestReadings(ctx context.Context, address string, limit int) ([]decoder.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getLatestReadingsSQL, address, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close latest readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (r *repositoryImpl) Readings(ctx context.Context, address string, from, to time.Time, limit, offset int) ([]decoder.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getReadingsSQL, address, formatTS(from), formatTS(to), limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (r *repositoryImpl) ReadingsCount(ctx context.Context, address string, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, getReadingsCountSQL, address, formatTS(from), formatTS(to)).Scan(&n)
	return n, err
}

func scanReadings(rows *sql.Rows) ([]decoder.Reading, error) {
	out := []decoder.Reading{}
	for rows.Next() {
		var (
			rd     decoder.Reading
			id, ts string
		)
		if err := rows.Scan(&id, &rd.Address, &rd.DeviceName, &ts, &rd.RSSI,
			&rd.TemperatureRaw, &rd.HumidityRaw, &rd.Temperature, &rd.Humidity); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse reading id %q: %w", id, err)
		}
		rd.ID = parsed
		if rd.SeenAt, err = parseTS(ts); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w; RFC3339Nano: %w", s, err, err2)
		}
	}
	return t, nil
}
