package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lora-backend/internal/model"
)

// PostgresStore ukládá data do PostgreSQL (nebo TimescaleDB) přes pgxpool.
// Pool je thread-safe, atomicitu upsertu zajišťuje řádkový zámek ON CONFLICT.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
    id          BIGSERIAL PRIMARY KEY,
    gateway_id  TEXT             NOT NULL,
    node_id     TEXT             NOT NULL,
    node_type   TEXT             NOT NULL,
    sequence    BIGINT           NOT NULL,
    payload     JSONB            NOT NULL,
    rssi        INTEGER          NOT NULL,
    snr         DOUBLE PRECISION NOT NULL,
    received_at TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_node ON sensor_readings (node_id, received_at DESC);

CREATE TABLE IF NOT EXISTS devices (
    node_id       TEXT PRIMARY KEY,
    node_type     TEXT        NOT NULL,
    gateway_id    TEXT        NOT NULL,
    first_seen    TIMESTAMPTZ NOT NULL,
    last_seen     TIMESTAMPTZ NOT NULL,
    total_packets BIGINT      NOT NULL
);

CREATE TABLE IF NOT EXISTS gateway_status (
    id          BIGSERIAL PRIMARY KEY,
    gateway_id  TEXT        NOT NULL,
    uptime_s    BIGINT      NOT NULL,
    packets_rx  BIGINT      NOT NULL,
    packets_fwd BIGINT      NOT NULL,
    wifi_rssi   INTEGER     NOT NULL,
    free_heap   BIGINT      NOT NULL,
    received_at TIMESTAMPTZ NOT NULL
);`

const postgresUpsertDevice = `
INSERT INTO devices (node_id, node_type, gateway_id, first_seen, last_seen, total_packets)
VALUES ($1, $2, $3, $4, $4, 1)
ON CONFLICT (node_id) DO UPDATE SET
    node_type     = EXCLUDED.node_type,
    gateway_id    = EXCLUDED.gateway_id,
    last_seen     = GREATEST(devices.last_seen, EXCLUDED.last_seen),
    total_packets = devices.total_packets + 1
RETURNING node_id, node_type, gateway_id, first_seen, last_seen, total_packets`

const postgresInsertReading = `
INSERT INTO sensor_readings (gateway_id, node_id, node_type, sequence, payload, rssi, snr, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

// OpenPostgres vytvoří pool, ověří spojení a založí tabulky.
func OpenPostgres(ctx context.Context, url string, logger *slog.Logger) (*PostgresStore, error) {
	if url == "" {
		return nil, errors.New("store: postgres url must be provided")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: chyba konfigurace DB: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: DB není dostupná: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logger.Info("PostgreSQL připojena")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// pgQuerier pokrývá pool i transakci.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *PostgresStore) AppendReading(ctx context.Context, r model.Reading) (int64, error) {
	id, err := pgInsertReading(ctx, p.pool, r)
	return id, wrap("append reading", err)
}

func (p *PostgresStore) UpsertDevice(ctx context.Context, u model.DeviceUpdate) (model.Device, error) {
	d, err := pgUpsertDevice(ctx, p.pool, u)
	return d, wrap("upsert device", err)
}

func (p *PostgresStore) RecordReading(ctx context.Context, r model.Reading) (model.Reading, model.Device, error) {
	var dev model.Device
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		id, err := pgInsertReading(ctx, tx, r)
		if err != nil {
			return err
		}
		r.ID = id
		dev, err = pgUpsertDevice(ctx, tx, model.UpdateFor(r))
		return err
	})
	if err != nil {
		return model.Reading{}, model.Device{}, wrap("record reading", err)
	}
	return r, dev, nil
}

func (p *PostgresStore) AppendStatus(ctx context.Context, s model.GatewayStatus) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO gateway_status (gateway_id, uptime_s, packets_rx, packets_fwd, wifi_rssi, free_heap, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		s.GatewayID, s.UptimeS, s.PacketsRx, s.PacketsFwd, s.WifiRSSI, s.FreeHeap, s.ReceivedAt,
	).Scan(&id)
	return id, wrap("append status", err)
}

func (p *PostgresStore) AllReadings(ctx context.Context) ([]model.Reading, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, gateway_id, node_id, node_type, sequence, payload, rssi, snr, received_at
		FROM sensor_readings ORDER BY id`)
	if err != nil {
		return nil, wrap("all readings", err)
	}
	defer rows.Close()

	var out []model.Reading
	for rows.Next() {
		var (
			r       model.Reading
			payload []byte
		)
		if err := rows.Scan(&r.ID, &r.GatewayID, &r.NodeID, &r.NodeType, &r.Sequence,
			&payload, &r.RSSI, &r.SNR, &r.ReceivedAt); err != nil {
			return nil, wrap("all readings: scan", err)
		}
		if r.Payload, err = decodePayload(payload); err != nil {
			return nil, wrap("all readings: payload", err)
		}
		r.ReceivedAt = r.ReceivedAt.UTC()
		out = append(out, r)
	}
	return out, wrap("all readings", rows.Err())
}

func (p *PostgresStore) AllDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT node_id, node_type, gateway_id, first_seen, last_seen, total_packets
		FROM devices ORDER BY node_id`)
	if err != nil {
		return nil, wrap("all devices", err)
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		d, err := pgScanDevice(rows)
		if err != nil {
			return nil, wrap("all devices: scan", err)
		}
		out = append(out, d)
	}
	return out, wrap("all devices", rows.Err())
}

func (p *PostgresStore) AllStatuses(ctx context.Context) ([]model.GatewayStatus, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, gateway_id, uptime_s, packets_rx, packets_fwd, wifi_rssi, free_heap, received_at
		FROM gateway_status ORDER BY id`)
	if err != nil {
		return nil, wrap("all statuses", err)
	}
	defer rows.Close()

	var out []model.GatewayStatus
	for rows.Next() {
		var s model.GatewayStatus
		if err := rows.Scan(&s.ID, &s.GatewayID, &s.UptimeS, &s.PacketsRx, &s.PacketsFwd,
			&s.WifiRSSI, &s.FreeHeap, &s.ReceivedAt); err != nil {
			return nil, wrap("all statuses: scan", err)
		}
		s.ReceivedAt = s.ReceivedAt.UTC()
		out = append(out, s)
	}
	return out, wrap("all statuses", rows.Err())
}

// ClearAll maže řádky, ale sekvence nechává běžet (ID se nepoužijí znovu).
func (p *PostgresStore) ClearAll(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, table := range []string{ReadingsCollection, DevicesCollection, GatewayStatusCollection} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
		}
		return nil
	})
	return wrap("clear all", err)
}

// Close uzavře pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func pgInsertReading(ctx context.Context, q pgQuerier, r model.Reading) (int64, error) {
	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	var id int64
	err := q.QueryRow(ctx, postgresInsertReading,
		r.GatewayID, r.NodeID, r.NodeType, r.Sequence, payload, r.RSSI, r.SNR, r.ReceivedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return id, nil
}

func pgUpsertDevice(ctx context.Context, q pgQuerier, u model.DeviceUpdate) (model.Device, error) {
	d, err := pgScanDevice(q.QueryRow(ctx, postgresUpsertDevice, u.NodeID, u.NodeType, u.GatewayID, u.SeenAt))
	if err != nil {
		return model.Device{}, fmt.Errorf("upsert device %q: %w", u.NodeID, err)
	}
	return d, nil
}

func pgScanDevice(row pgx.Row) (model.Device, error) {
	var d model.Device
	if err := row.Scan(&d.NodeID, &d.NodeType, &d.GatewayID, &d.FirstSeen, &d.LastSeen, &d.TotalPackets); err != nil {
		return model.Device{}, err
	}
	d.FirstSeen = d.FirstSeen.UTC()
	d.LastSeen = d.LastSeen.UTC()
	return d, nil
}
