package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"lora-backend/internal/model"
)

// SQLiteStore ukládá data do jednoho souboru SQLite (tři tabulky).
// Je to výchozí backend, nepotřebuje žádný externí server.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// writeMu serializuje zapisující transakce. SQLite má stejně jen jednoho
	// zapisovatele, takhle se ale vyhneme SQLITE_BUSY při velkém souběhu.
	writeMu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    gateway_id  TEXT    NOT NULL,
    node_id     TEXT    NOT NULL,
    node_type   TEXT    NOT NULL,
    sequence    INTEGER NOT NULL,
    payload     TEXT    NOT NULL,
    rssi        INTEGER NOT NULL,
    snr         REAL    NOT NULL,
    received_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_node ON sensor_readings(node_id, received_at);
CREATE INDEX IF NOT EXISTS idx_readings_received ON sensor_readings(received_at);

CREATE TABLE IF NOT EXISTS devices (
    node_id       TEXT PRIMARY KEY,
    node_type     TEXT    NOT NULL,
    gateway_id    TEXT    NOT NULL,
    first_seen    INTEGER NOT NULL,
    last_seen     INTEGER NOT NULL,
    total_packets INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS gateway_status (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    gateway_id  TEXT    NOT NULL,
    uptime_s    INTEGER NOT NULL,
    packets_rx  INTEGER NOT NULL,
    packets_fwd INTEGER NOT NULL,
    wifi_rssi   INTEGER NOT NULL,
    free_heap   INTEGER NOT NULL,
    received_at INTEGER NOT NULL
);`

// Upsert zařízení v jednom příkazu. last_seen bere maximum, first_seen zůstává.
const sqliteUpsertDevice = `
INSERT INTO devices (node_id, node_type, gateway_id, first_seen, last_seen, total_packets)
VALUES (?, ?, ?, ?, ?, 1)
ON CONFLICT(node_id) DO UPDATE SET
    node_type     = excluded.node_type,
    gateway_id    = excluded.gateway_id,
    last_seen     = MAX(devices.last_seen, excluded.last_seen),
    total_packets = devices.total_packets + 1
RETURNING node_id, node_type, gateway_id, first_seen, last_seen, total_packets`

const sqliteInsertReading = `
INSERT INTO sensor_readings (gateway_id, node_id, node_type, sequence, payload, rssi, snr, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// OpenSQLite otevře (nebo vytvoří) databázi a založí tabulky.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path must be provided")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure directory: %w", err)
	}

	// Pragmy v DSN platí pro každé spojení v poolu, ne jen pro první.
	dsn := "file:" + abs +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(10000)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logger.Info("SQLite databáze inicializována", "path", abs)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) AppendReading(ctx context.Context, r model.Reading) (int64, error) {
	payload, err := encodePayload(r.Payload)
	if err != nil {
		return 0, wrap("append reading", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id, err := insertReading(ctx, s.db, r, payload)
	return id, wrap("append reading", err)
}

func (s *SQLiteStore) UpsertDevice(ctx context.Context, u model.DeviceUpdate) (model.Device, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	d, err := upsertDevice(ctx, s.db, u)
	return d, wrap("upsert device", err)
}

func (s *SQLiteStore) RecordReading(ctx context.Context, r model.Reading) (model.Reading, model.Device, error) {
	payload, err := encodePayload(r.Payload)
	if err != nil {
		return model.Reading{}, model.Device{}, wrap("record reading", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Reading{}, model.Device{}, wrap("record reading: begin", err)
	}
	defer tx.Rollback()

	id, err := insertReading(ctx, tx, r, payload)
	if err != nil {
		return model.Reading{}, model.Device{}, wrap("record reading", err)
	}
	dev, err := upsertDevice(ctx, tx, model.UpdateFor(r))
	if err != nil {
		return model.Reading{}, model.Device{}, wrap("record reading", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Reading{}, model.Device{}, wrap("record reading: commit", err)
	}

	r.ID = id
	return r, dev, nil
}

func (s *SQLiteStore) AppendStatus(ctx context.Context, st model.GatewayStatus) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_status (gateway_id, uptime_s, packets_rx, packets_fwd, wifi_rssi, free_heap, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.GatewayID, st.UptimeS, st.PacketsRx, st.PacketsFwd, st.WifiRSSI, st.FreeHeap, toMicros(st.ReceivedAt),
	)
	if err != nil {
		return 0, wrap("append status", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("append status: last insert id", err)
}

func (s *SQLiteStore) AllReadings(ctx context.Context) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gateway_id, node_id, node_type, sequence, payload, rssi, snr, received_at
		FROM sensor_readings ORDER BY id`)
	if err != nil {
		return nil, wrap("all readings", err)
	}
	defer rows.Close()

	var out []model.Reading
	for rows.Next() {
		var (
			r        model.Reading
			payload  string
			received int64
		)
		if err := rows.Scan(&r.ID, &r.GatewayID, &r.NodeID, &r.NodeType, &r.Sequence,
			&payload, &r.RSSI, &r.SNR, &received); err != nil {
			return nil, wrap("all readings: scan", err)
		}
		if r.Payload, err = decodePayload([]byte(payload)); err != nil {
			return nil, wrap("all readings: payload", err)
		}
		r.ReceivedAt = fromMicros(received)
		out = append(out, r)
	}
	return out, wrap("all readings", rows.Err())
}

func (s *SQLiteStore) AllDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, node_type, gateway_id, first_seen, last_seen, total_packets
		FROM devices ORDER BY node_id`)
	if err != nil {
		return nil, wrap("all devices", err)
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, wrap("all devices: scan", err)
		}
		out = append(out, d)
	}
	return out, wrap("all devices", rows.Err())
}

func (s *SQLiteStore) AllStatuses(ctx context.Context) ([]model.GatewayStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gateway_id, uptime_s, packets_rx, packets_fwd, wifi_rssi, free_heap, received_at
		FROM gateway_status ORDER BY id`)
	if err != nil {
		return nil, wrap("all statuses", err)
	}
	defer rows.Close()

	var out []model.GatewayStatus
	for rows.Next() {
		var (
			st       model.GatewayStatus
			received int64
		)
		if err := rows.Scan(&st.ID, &st.GatewayID, &st.UptimeS, &st.PacketsRx, &st.PacketsFwd,
			&st.WifiRSSI, &st.FreeHeap, &received); err != nil {
			return nil, wrap("all statuses: scan", err)
		}
		st.ReceivedAt = fromMicros(received)
		out = append(out, st)
	}
	return out, wrap("all statuses", rows.Err())
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("clear all: begin", err)
	}
	defer tx.Rollback()

	// DELETE místo DROP: sqlite_sequence zůstane, takže se ID nepoužijí znovu.
	for _, table := range []string{ReadingsCollection, DevicesCollection, GatewayStatusCollection} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrap("clear all: "+table, err)
		}
	}
	return wrap("clear all: commit", tx.Commit())
}

// Close uzavře databázi.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execer pokrývá *sql.DB i *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertReading(ctx context.Context, db execer, r model.Reading, payload []byte) (int64, error) {
	res, err := db.ExecContext(ctx, sqliteInsertReading,
		r.GatewayID, r.NodeID, r.NodeType, r.Sequence, string(payload), r.RSSI, r.SNR, toMicros(r.ReceivedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func upsertDevice(ctx context.Context, db execer, u model.DeviceUpdate) (model.Device, error) {
	seen := toMicros(u.SeenAt)
	row := db.QueryRowContext(ctx, sqliteUpsertDevice, u.NodeID, u.NodeType, u.GatewayID, seen, seen)
	d, err := scanDevice(row)
	if err != nil {
		return model.Device{}, fmt.Errorf("upsert device %q: %w", u.NodeID, err)
	}
	return d, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (model.Device, error) {
	var (
		d                   model.Device
		firstSeen, lastSeen int64
	)
	if err := row.Scan(&d.NodeID, &d.NodeType, &d.GatewayID, &firstSeen, &lastSeen, &d.TotalPackets); err != nil {
		return model.Device{}, err
	}
	d.FirstSeen = fromMicros(firstSeen)
	d.LastSeen = fromMicros(lastSeen)
	return d, nil
}

// Nulový čas se ukládá jako 0, aby se dal odlišit od platného času.
func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
