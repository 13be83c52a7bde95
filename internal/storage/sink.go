package storage

import (
	"context"

	"govee-gateway/internal/decoder"
)

// Sink persists readings through a Repository.
type Sink struct {
	Repo Repository
}

func (Sink) Name() string { return "sqlite" }

func (s Sink) Publish(ctx context.Context, r decoder.Reading) error {
	return s.Repo.InsertReading(ctx, r)
}
