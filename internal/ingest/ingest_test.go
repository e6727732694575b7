package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lora-backend/internal/metrics"
	"lora-backend/internal/model"
	"lora-backend/internal/sink"
	"lora-backend/internal/store"
)

var ingestTestTime = time.Date(2026, 3, 2, 10, 0, 0, 123456789, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []sink.Event
}

func (p *capturePublisher) Publish(e sink.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

type failingStore struct {
	store.Store
}

func (failingStore) RecordReading(context.Context, model.Reading) (model.Reading, model.Device, error) {
	return model.Reading{}, model.Device{}, &store.Error{Op: "record reading", Err: errors.New("disk full")}
}

func (failingStore) AppendStatus(context.Context, model.GatewayStatus) (int64, error) {
	return 0, &store.Error{Op: "append status", Err: errors.New("disk full")}
}

func newTestEngine(t *testing.T, st store.Store, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithClock(func() time.Time { return ingestTestTime }),
	}
	return New(st, append(base, opts...)...)
}

const roundTripBody = `{"gateway_id":"GW1","timestamp":123456,
	"node":{"id":"S1","type":"sensor","seq":5,"data":{"t":21.5}},
	"rf":{"rssi":-60,"snr":8.2}}`

func TestIngestReadingRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &capturePublisher{}
	m := metrics.New()
	e := newTestEngine(t, st, WithPublisher(pub), WithMetrics(m))

	r, err := e.IngestReading(context.Background(), []byte(roundTripBody))
	if err != nil {
		t.Fatalf("IngestReading: %v", err)
	}
	if r.ID == 0 || r.NodeID != "S1" || r.GatewayID != "GW1" || r.Sequence != 5 {
		t.Errorf("reading = %+v", r)
	}
	if r.RSSI != -60 || r.SNR != 8.2 || r.Payload["t"] != json.Number("21.5") {
		t.Errorf("link/payload = %d %v %v", r.RSSI, r.SNR, r.Payload)
	}
	if !r.ReceivedAt.Equal(model.Timestamp(ingestTestTime)) {
		t.Errorf("received_at = %v", r.ReceivedAt)
	}

	devices, _ := st.AllDevices(context.Background())
	if len(devices) != 1 || devices[0].TotalPackets != 1 || !devices[0].FirstSeen.Equal(r.ReceivedAt) {
		t.Errorf("devices = %+v", devices)
	}

	if len(pub.events) != 1 || pub.events[0].Kind != sink.KindReading || pub.events[0].Device.TotalPackets != 1 {
		t.Errorf("published = %+v", pub.events)
	}
}

func TestIngestReadingDefaults(t *testing.T) {
	st := store.NewMemoryStore()
	e := newTestEngine(t, st)

	r, err := e.IngestReading(context.Background(), []byte(`{"node":{"id":"S2"}}`))
	if err != nil {
		t.Fatalf("IngestReading: %v", err)
	}
	if r.GatewayID != model.DefaultGatewayID || r.NodeType != model.DefaultNodeType {
		t.Errorf("defaults not applied: %+v", r)
	}
	if r.RSSI != 0 || r.SNR != 0 || r.Sequence != 0 || r.Payload == nil {
		t.Errorf("numeric defaults not applied: %+v", r)
	}
}

func TestIngestRejectsInvalidBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"empty object", "{}"},
		{"malformed", `{"gateway_id":`},
		{"array", `[1,2]`},
		{"wrong type", `{"gateway_id":42}`},
		{"fractional seq", `{"node":{"id":"S1","seq":1.5}}`},
		{"string rssi", `{"rf":{"rssi":"-60"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			pub := &capturePublisher{}
			e := newTestEngine(t, st, WithPublisher(pub))

			_, err := e.IngestReading(context.Background(), []byte(tt.body))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}

			readings, _ := st.AllReadings(context.Background())
			devices, _ := st.AllDevices(context.Background())
			if len(readings) != 0 || len(devices) != 0 || len(pub.events) != 0 {
				t.Errorf("state mutated on rejected body")
			}
		})
	}
}

func TestIngestStatus(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &capturePublisher{}
	e := newTestEngine(t, st, WithPublisher(pub))

	body := `{"gateway_id":"GW1","stats":{"uptime_s":3600,"packets_rx":10,"packets_fwd":9,"wifi_rssi":-55,"free_heap":120000}}`
	s, err := e.IngestStatus(context.Background(), []byte(body))
	if err != nil {
		t.Fatalf("IngestStatus: %v", err)
	}
	if s.ID == 0 || s.UptimeS != 3600 || s.PacketsFwd != 9 || s.WifiRSSI != -55 {
		t.Errorf("status = %+v", s)
	}

	devices, _ := st.AllDevices(context.Background())
	if len(devices) != 0 {
		t.Errorf("status must not touch device registry, got %+v", devices)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != sink.KindStatus {
		t.Errorf("published = %+v", pub.events)
	}

	if _, err := e.IngestStatus(context.Background(), []byte(`{}`)); err == nil {
		t.Error("empty status object accepted")
	}
}

func TestIngestStoreFailure(t *testing.T) {
	pub := &capturePublisher{}
	m := metrics.New()
	e := newTestEngine(t, failingStore{store.NewMemoryStore()}, WithPublisher(pub), WithMetrics(m))

	_, err := e.IngestReading(context.Background(), []byte(roundTripBody))
	var se *store.Error
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want store.Error", err)
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		t.Error("store failure classified as validation error")
	}

	_, err = e.IngestStatus(context.Background(), []byte(`{"gateway_id":"GW1"}`))
	if !errors.As(err, &se) {
		t.Fatalf("status err = %v, want store.Error", err)
	}
	if len(pub.events) != 0 {
		t.Error("failed ingestion must not be published")
	}
}

func TestIngestCompletesAfterCancel(t *testing.T) {
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ingest.db"), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, st)
	if _, err := e.IngestReading(ctx, []byte(roundTripBody)); err != nil {
		t.Fatalf("IngestReading with cancelled ctx: %v", err)
	}
	readings, _ := st.AllReadings(context.Background())
	if len(readings) != 1 {
		t.Errorf("readings = %d, want 1", len(readings))
	}
}

func TestIngestConcurrentSameNode(t *testing.T) {
	st := store.NewMemoryStore()
	var tick int64
	var mu sync.Mutex
	e := newTestEngine(t, st, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return ingestTestTime.Add(time.Duration(tick) * time.Millisecond)
	}))

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"gateway_id":"GW1","node":{"id":"S1","seq":%d}}`, i)
			if _, err := e.IngestReading(context.Background(), []byte(body)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("IngestReading: %v", err)
	}

	devices, _ := st.AllDevices(context.Background())
	if len(devices) != 1 || devices[0].TotalPackets != n {
		t.Fatalf("devices = %+v, want total_packets %d", devices, n)
	}
	want := model.Timestamp(ingestTestTime.Add(n * time.Millisecond))
	if !devices[0].LastSeen.Equal(want) {
		t.Errorf("last_seen = %v, want %v", devices[0].LastSeen, want)
	}
}
