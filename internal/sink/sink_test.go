package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"lora-backend/internal/metrics"
	"lora-backend/internal/model"
)

var sinkTestTime = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
	block  chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(ctx context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testEvent() Event {
	r := model.Reading{
		ID: 7, GatewayID: "GW1", NodeID: "S1", NodeType: "sensor", Sequence: 5,
		Payload: map[string]any{"t": 21.5, "env": map[string]any{"hum": 40.0}, "list": []any{1.0}},
		RSSI:    -60, SNR: 8.2, ReceivedAt: sinkTestTime,
	}
	d := model.Device{NodeID: "S1", TotalPackets: 3}
	return ReadingEvent(r, d)
}

func TestDispatcherDeliversToAllSinksAndStops(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{err: errors.New("broker down")}
	d := NewDispatcher(discardLogger(), metrics.New(), 16, time.Second, a, b)

	for i := 0; i < 5; i++ {
		if !d.Enqueue(testEvent()) {
			t.Fatal("Enqueue returned false on empty queue")
		}
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(a.events) != 5 || len(b.events) != 5 {
		t.Errorf("delivered a=%d b=%d, want 5 each", len(a.events), len(b.events))
	}
	if !a.closed || !b.closed {
		t.Error("sinks not closed on Stop")
	}
	if d.Enqueue(testEvent()) {
		t.Error("Enqueue after Stop must report false")
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	s := &recordingSink{block: block}
	d := NewDispatcher(discardLogger(), nil, 1, time.Second, s)

	// První událost si vezme worker a zasekne se v sinku, druhá zaplní frontu.
	d.Enqueue(testEvent())
	deadline := time.Now().Add(2 * time.Second)
	for len(d.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !d.Enqueue(testEvent()) {
		t.Fatal("second event should fit into the queue")
	}
	if d.Enqueue(testEvent()) {
		t.Error("third event should be dropped")
	}

	close(block)
	d.Stop()
	if len(s.events) != 2 {
		t.Errorf("delivered %d events, want 2", len(s.events))
	}
}

func TestEventKey(t *testing.T) {
	if got := testEvent().Key(); got != "S1" {
		t.Errorf("reading Key() = %q", got)
	}
	st := StatusEvent(model.GatewayStatus{GatewayID: "GW9"})
	if got := st.Key(); got != "GW9" {
		t.Errorf("status Key() = %q", got)
	}
	if st.EventID == "" || st.Kind != KindStatus {
		t.Errorf("status event = %+v", st)
	}
}

func TestLiveFields(t *testing.T) {
	key, fields, err := liveFields(testEvent())
	if err != nil {
		t.Fatal(err)
	}
	if key != "node:last:S1" {
		t.Errorf("key = %q", key)
	}
	want := map[string]any{
		"rssi":          "-60",
		"snr":           "8.2",
		"sequence":      "5",
		"total_packets": "3",
		"received_at":   "2026-03-01T08:30:00Z",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %v, want %v", k, fields[k], v)
		}
	}

	key, fields, _ = liveFields(StatusEvent(model.GatewayStatus{GatewayID: "GW1", FreeHeap: 1024}))
	if key != "gateway:status:GW1" || fields["free_heap"] != "1024" {
		t.Errorf("status live fields = %q %v", key, fields)
	}
}

func TestBuildPoint(t *testing.T) {
	p := BuildPoint(testEvent())
	if p == nil {
		t.Fatal("BuildPoint returned nil")
	}
	if p.Name() != ReadingMeasurement {
		t.Errorf("Name() = %q", p.Name())
	}

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	for _, k := range []string{"rssi", "snr", "sequence", "data_t", "data_env_hum"} {
		if _, ok := fields[k]; !ok {
			t.Errorf("missing field %q in %v", k, fields)
		}
	}
	if _, ok := fields["data_list"]; ok {
		t.Error("array payload values must not become fields")
	}

	if BuildPoint(Event{}) != nil {
		t.Error("empty event must not produce a point")
	}
}

func TestNormalizeFieldValueNumbers(t *testing.T) {
	tests := []struct {
		in   any
		want any
		ok   bool
	}{
		{json.Number("21"), 21.0, true},
		{json.Number("-1.5e2"), -150.0, true},
		{json.Number("nope"), nil, false},
		{int64(7), 7.0, true},
		{"x", "x", true},
		{nil, nil, false},
	}
	for _, tt := range tests {
		got, ok := normalizeFieldValue(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("normalizeFieldValue(%#v) = %#v, %v", tt.in, got, ok)
		}
	}
}

func TestSanitizeFieldKey(t *testing.T) {
	tests := map[string]string{
		"temp":       "temp",
		" air temp ": "air_temp",
		"a.b-c":      "a_b_c",
		"%%":         "field",
	}
	for in, want := range tests {
		if got := sanitizeFieldKey(in); got != want {
			t.Errorf("sanitizeFieldKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseKafkaOptions(t *testing.T) {
	if parseCompression("zstd") != kafka.Zstd || parseCompression("none") != kafka.Compression(0) {
		t.Error("parseCompression mismatch")
	}
	if parseCompression("bogus") != kafka.Snappy {
		t.Error("unknown compression should fall back to snappy")
	}
	if parseAcks("all") != kafka.RequireAll || parseAcks("") != kafka.RequireOne {
		t.Error("parseAcks mismatch")
	}
}

func TestMQTTSinkTopic(t *testing.T) {
	s := NewMQTTSink(nil, "events")
	if got := s.Topic(KindReading); got != "events/reading" {
		t.Errorf("Topic() = %q", got)
	}
}
