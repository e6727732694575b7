package store

import (
	"context"
	"encoding/json"
	"sync"

	"lora-backend/internal/model"
)

// MemoryStore drží všechna data jen v paměti. Hodí se pro testy a dočasný běh.
//
// Jeden RWMutex chrání všechny kolekce. Zápisy jsou krátké, takže globální zámek
// nijak nevadí a upsert je tím automaticky jedna kritická sekce.
type MemoryStore struct {
	mu sync.RWMutex

	readings []storedReading
	statuses []model.GatewayStatus
	devices  map[string]model.Device

	// lastID se při ClearAll nenuluje, ID se nikdy nepoužijí znovu.
	lastID int64
}

// storedReading drží payload serializovaný, aby ho volající nemohl změnit zvenku.
type storedReading struct {
	reading model.Reading
	payload []byte
}

// NewMemoryStore vytvoří prázdné úložiště.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]model.Device)}
}

func (m *MemoryStore) AppendReading(ctx context.Context, r model.Reading) (int64, error) {
	payload, err := encodePayload(r.Payload)
	if err != nil {
		return 0, wrap("append reading", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(r, payload), nil
}

func (m *MemoryStore) appendLocked(r model.Reading, payload []byte) int64 {
	m.lastID++
	r.ID = m.lastID
	r.Payload = nil
	m.readings = append(m.readings, storedReading{reading: r, payload: payload})
	return r.ID
}

func (m *MemoryStore) UpsertDevice(ctx context.Context, u model.DeviceUpdate) (model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(u), nil
}

func (m *MemoryStore) upsertLocked(u model.DeviceUpdate) model.Device {
	var next model.Device
	if prev, ok := m.devices[u.NodeID]; ok {
		next = u.Apply(&prev)
	} else {
		next = u.Apply(nil)
	}
	m.devices[u.NodeID] = next
	return next
}

func (m *MemoryStore) RecordReading(ctx context.Context, r model.Reading) (model.Reading, model.Device, error) {
	payload, err := encodePayload(r.Payload)
	if err != nil {
		return model.Reading{}, model.Device{}, wrap("record reading", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.appendLocked(r, payload)
	dev := m.upsertLocked(model.UpdateFor(r))
	return r, dev, nil
}

func (m *MemoryStore) AppendStatus(ctx context.Context, s model.GatewayStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	s.ID = m.lastID
	m.statuses = append(m.statuses, s)
	return s.ID, nil
}

func (m *MemoryStore) AllReadings(ctx context.Context) ([]model.Reading, error) {
	m.mu.RLock()
	snapshot := make([]storedReading, len(m.readings))
	copy(snapshot, m.readings)
	m.mu.RUnlock()

	out := make([]model.Reading, 0, len(snapshot))
	for _, sr := range snapshot {
		r := sr.reading
		p, err := decodePayload(sr.payload)
		if err != nil {
			return nil, wrap("all readings", err)
		}
		r.Payload = p
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) AllDevices(ctx context.Context) ([]model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryStore) AllStatuses(ctx context.Context) ([]model.GatewayStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.GatewayStatus, len(m.statuses))
	copy(out, m.statuses)
	return out, nil
}

func (m *MemoryStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readings = nil
	m.statuses = nil
	m.devices = make(map[string]model.Device)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func encodePayload(p map[string]any) ([]byte, error) {
	if p == nil {
		p = map[string]any{}
	}
	return json.Marshal(p)
}

func decodePayload(b []byte) (map[string]any, error) {
	return model.DecodePayload(b)
}
