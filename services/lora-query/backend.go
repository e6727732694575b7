package main

import (
	"context"
	"io"
	"time"

	"lora-backend/internal/client"
	"lora-backend/internal/model"
	"lora-backend/internal/query"
)

// backend je zdroj dat pro příkazy: lokální úložiště nebo REST API běžícího serveru.
type backend interface {
	Readings(ctx context.Context, f query.Filter) ([]model.Reading, error)
	Devices(ctx context.Context) ([]model.Device, error)
	Stats(ctx context.Context) (model.Stats, error)
	NodeReadings(ctx context.Context, nodeID string, limit int) (query.NodeReadings, error)
	Links(ctx context.Context) (model.LinkSummary, error)
	ExportCSV(ctx context.Context, w io.Writer, nodeID string) error
}

var _ backend = (*client.APIClient)(nil)

// localBackend čte přímo ze store přes query engine.
type localBackend struct {
	q   *query.Engine
	now func() time.Time
}

func (b localBackend) Readings(ctx context.Context, f query.Filter) ([]model.Reading, error) {
	return b.q.ListReadings(ctx, f)
}

func (b localBackend) Devices(ctx context.Context) ([]model.Device, error) {
	return b.q.ListDevices(ctx)
}

func (b localBackend) Stats(ctx context.Context) (model.Stats, error) {
	return b.q.ComputeStats(ctx, b.now())
}

func (b localBackend) NodeReadings(ctx context.Context, nodeID string, limit int) (query.NodeReadings, error) {
	return b.q.NodeReadings(ctx, nodeID, limit)
}

func (b localBackend) Links(ctx context.Context) (model.LinkSummary, error) {
	return b.q.LinkSummary(ctx, b.now())
}

func (b localBackend) ExportCSV(ctx context.Context, w io.Writer, nodeID string) error {
	_, err := b.q.ExportCSV(ctx, w, nodeID)
	return err
}
