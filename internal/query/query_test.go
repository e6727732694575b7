package query

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"lora-backend/internal/ingest"
	"lora-backend/internal/model"
	"lora-backend/internal/store"
)

var queryNow = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

type seed struct {
	gateway string
	node    string
	age     time.Duration
	rssi    int
	snr     float64
	payload map[string]any
}

func seeded(t *testing.T, seeds ...seed) (*Engine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	for _, s := range seeds {
		r := model.Reading{
			GatewayID:  s.gateway,
			NodeID:     s.node,
			NodeType:   model.DefaultNodeType,
			Payload:    s.payload,
			RSSI:       s.rssi,
			SNR:        s.snr,
			ReceivedAt: model.Timestamp(queryNow.Add(-s.age)),
		}
		if _, _, err := st.RecordReading(context.Background(), r); err != nil {
			t.Fatalf("RecordReading: %v", err)
		}
	}
	return New(st), st
}

func standardSeeds() []seed {
	return []seed{
		{"GW1", "S1", 3 * time.Hour, -60, 8.2, map[string]any{"t": 21.5}},
		{"GW1", "S2", 2 * time.Hour, -70, 5, nil},
		{"GW2", "S1", 1 * time.Hour, -65, 7, nil},
		{"GW2", "S3", 30 * time.Hour, -90, -2, nil},
		{"GW1", "S1", 10 * time.Minute, 0, 0, nil},
	}
}

func assertSortedDesc(t *testing.T, rs []model.Reading) {
	t.Helper()
	for i := 1; i < len(rs); i++ {
		prev, cur := rs[i-1], rs[i]
		if cur.ReceivedAt.After(prev.ReceivedAt) {
			t.Fatalf("readings not sorted at %d: %v after %v", i, cur.ReceivedAt, prev.ReceivedAt)
		}
		if cur.ReceivedAt.Equal(prev.ReceivedAt) && cur.ID < prev.ID {
			t.Fatalf("tie at %d not ordered by id", i)
		}
	}
}

func TestListReadingsLimitAndOrder(t *testing.T) {
	e, _ := seeded(t, standardSeeds()...)
	ctx := context.Background()

	for _, limit := range []int{1, 3, 5, 100} {
		rs, err := e.ListReadings(ctx, Filter{Limit: limit})
		if err != nil {
			t.Fatal(err)
		}
		if want := min(limit, 5); len(rs) != want {
			t.Errorf("limit %d: got %d readings, want %d", limit, len(rs), want)
		}
		assertSortedDesc(t, rs)
	}

	for _, limit := range []int{0, -1, -50} {
		rs, err := e.ListReadings(ctx, Filter{Limit: limit})
		if err != nil || rs == nil || len(rs) != 0 {
			t.Errorf("limit %d: got %v, %v; want empty non-nil", limit, rs, err)
		}
	}
}

func TestListReadingsFilters(t *testing.T) {
	e, _ := seeded(t, standardSeeds()...)
	ctx := context.Background()

	all, _ := e.ListReadings(ctx, Filter{Limit: NoLimit})
	ids := make(map[int64]bool, len(all))
	for _, r := range all {
		ids[r.ID] = true
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"node", Filter{NodeID: "S1", Limit: NoLimit}, 3},
		{"gateway", Filter{GatewayID: "GW2", Limit: NoLimit}, 2},
		{"node and gateway", Filter{NodeID: "S1", GatewayID: "GW2", Limit: NoLimit}, 1},
		{"unknown node", Filter{NodeID: "nope", Limit: NoLimit}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := e.ListReadings(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(rs) != tt.want {
				t.Fatalf("got %d readings, want %d", len(rs), tt.want)
			}
			for _, r := range rs {
				if tt.filter.NodeID != "" && r.NodeID != tt.filter.NodeID {
					t.Errorf("node filter leaked %q", r.NodeID)
				}
				if tt.filter.GatewayID != "" && r.GatewayID != tt.filter.GatewayID {
					t.Errorf("gateway filter leaked %q", r.GatewayID)
				}
				if !ids[r.ID] {
					t.Errorf("reading %d not in unfiltered result", r.ID)
				}
			}
			assertSortedDesc(t, rs)
		})
	}
}

func TestSortTiesByID(t *testing.T) {
	e, _ := seeded(t,
		seed{"GW1", "A", time.Hour, -1, 0, nil},
		seed{"GW1", "B", time.Hour, -1, 0, nil},
		seed{"GW1", "C", time.Hour, -1, 0, nil},
	)
	rs, _ := e.ListReadings(context.Background(), Filter{Limit: DefaultReadingsLimit})
	got := rs[0].NodeID + rs[1].NodeID + rs[2].NodeID
	if got != "ABC" {
		t.Errorf("tie order = %s, want ABC", got)
	}
}

func TestListDevicesByLastSeen(t *testing.T) {
	e, _ := seeded(t, standardSeeds()...)
	devices, err := e.ListDevices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, d := range devices {
		order = append(order, d.NodeID)
	}
	if got := strings.Join(order, ","); got != "S1,S2,S3" {
		t.Errorf("device order = %s", got)
	}
	if devices[0].TotalPackets != 3 || devices[0].GatewayID != "GW1" {
		t.Errorf("S1 = %+v", devices[0])
	}
}

func TestNodeReadingsRoundTrip(t *testing.T) {
	e, _ := seeded(t, standardSeeds()...)
	ctx := context.Background()

	res, err := e.NodeReadings(ctx, "S1", DefaultNodeLimit)
	if err != nil {
		t.Fatal(err)
	}
	if res.NodeID != "S1" || res.Count != 3 || len(res.Readings) != 3 {
		t.Fatalf("NodeReadings = %+v", res)
	}
	oldest := res.Readings[2]
	if oldest.RSSI != -60 || oldest.SNR != 8.2 || oldest.Payload["t"] != json.Number("21.5") {
		t.Errorf("oldest S1 reading = %+v", oldest)
	}

	empty, err := e.NodeReadings(ctx, "ghost", DefaultNodeLimit)
	if err != nil {
		t.Fatal(err)
	}
	if empty.NodeID != "ghost" || empty.Count != 0 || empty.Readings == nil {
		t.Errorf("empty NodeReadings = %+v", empty)
	}
}

func TestComputeStats(t *testing.T) {
	e, _ := seeded(t, standardSeeds()...)
	ctx := context.Background()

	stats, err := e.ComputeStats(ctx, queryNow)
	if err != nil {
		t.Fatal(err)
	}
	all, _ := e.ListReadings(ctx, Filter{Limit: NoLimit})
	if stats.TotalReadings != len(all) || stats.TotalDevices != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ReadingsLast24h != 4 {
		t.Errorf("readings_last_24h = %d, want 4", stats.ReadingsLast24h)
	}
	if stats.LastReading == nil || stats.LastReading.NodeID != "S1" ||
		!stats.LastReading.ReceivedAt.Equal(queryNow.Add(-10*time.Minute)) {
		t.Errorf("last_reading = %+v", stats.LastReading)
	}
}

func TestComputeStatsWindowBounds(t *testing.T) {
	e, _ := seeded(t,
		seed{"GW1", "edge", 24 * time.Hour, 0, 0, nil},
		seed{"GW1", "out", 24*time.Hour + time.Microsecond, 0, 0, nil},
		seed{"GW1", "future", -time.Minute, 0, 0, nil},
	)
	stats, err := e.ComputeStats(context.Background(), queryNow)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ReadingsLast24h != 1 {
		t.Errorf("readings_last_24h = %d, want only the lower-bound reading", stats.ReadingsLast24h)
	}
}

func TestComputeStatsSkipsMissingTimestamp(t *testing.T) {
	st := store.NewMemoryStore()
	st.RecordReading(context.Background(), model.Reading{NodeID: "zero"})
	st.RecordReading(context.Background(), model.Reading{NodeID: "ok", ReceivedAt: queryNow.Add(-time.Hour)})

	stats, err := New(st).ComputeStats(context.Background(), queryNow)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalReadings != 2 || stats.ReadingsLast24h != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastReading == nil || stats.LastReading.NodeID != "ok" {
		t.Errorf("last_reading = %+v", stats.LastReading)
	}
}

func TestClearAllEmptiesQueries(t *testing.T) {
	e, st := seeded(t, standardSeeds()...)
	ctx := context.Background()
	if err := st.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}

	rs, _ := e.ListReadings(ctx, Filter{Limit: DefaultReadingsLimit})
	devices, _ := e.ListDevices(ctx)
	stats, _ := e.ComputeStats(ctx, queryNow)
	csvText, _ := e.ExportCSVString(ctx, "")
	if len(rs) != 0 || len(devices) != 0 {
		t.Errorf("listings not empty after clear")
	}
	if stats != (model.Stats{}) {
		t.Errorf("stats after clear = %+v", stats)
	}
	if csvText != CSVHeader+"\n" {
		t.Errorf("csv after clear = %q", csvText)
	}
}

func TestExportCSVQuoting(t *testing.T) {
	note := map[string]any{"note": `a"b`}
	e, _ := seeded(t,
		seed{"GW1", "S1", 2 * time.Hour, -60, 8.2, note},
		seed{"GW1", "S1", time.Hour, -61, 7.5, note},
		seed{"GW1", "S2", time.Hour, -61, 7.5, nil},
	)

	out, err := e.ExportCSVString(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 3 || lines[0] != CSVHeader {
		t.Fatalf("csv = %q", out)
	}

	wantPayload := `"{""note"":""a\""b""}"`
	wantNewest := "2026-03-03T11:00:00Z,GW1,S1,sensor,0," + wantPayload + ",-61,7.5"
	if lines[1] != wantNewest {
		t.Errorf("row = %s\nwant  %s", lines[1], wantNewest)
	}

	// Výstup musí být čitelný standardním CSV parserem a payload vrátit původní JSON.
	recs, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("csv parse: %v", err)
	}
	if got := recs[2][5]; got != `{"note":"a\"b"}` {
		t.Errorf("parsed payload = %s", got)
	}
}

func TestExportCSVKeepsLargeIntegers(t *testing.T) {
	st := store.NewMemoryStore()
	ing := ingest.New(st, ingest.WithClock(func() time.Time { return queryNow }))
	body := `{"node":{"id":"S1","data":{"counter":9007199254740993}}}`
	if _, err := ing.IngestReading(context.Background(), []byte(body)); err != nil {
		t.Fatal(err)
	}

	out, err := New(st).ExportCSVString(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	recs, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil || len(recs) != 2 {
		t.Fatalf("csv = %q, %v", out, err)
	}
	if got := recs[1][5]; got != `{"counter":9007199254740993}` {
		t.Errorf("payload = %s", got)
	}
}

type brokenStore struct{ store.Store }

func (brokenStore) AllReadings(context.Context) ([]model.Reading, error) {
	return nil, &store.Error{Op: "all readings", Err: errors.New("io error")}
}

func TestQueryPropagatesStoreError(t *testing.T) {
	e := New(brokenStore{store.NewMemoryStore()})
	var se *store.Error
	if _, err := e.ListReadings(context.Background(), Filter{Limit: 10}); !errors.As(err, &se) {
		t.Errorf("ListReadings err = %v", err)
	}
	if _, err := e.ComputeStats(context.Background(), queryNow); !errors.As(err, &se) {
		t.Errorf("ComputeStats err = %v", err)
	}
	if _, err := e.ExportCSVString(context.Background(), ""); !errors.As(err, &se) {
		t.Errorf("ExportCSV err = %v", err)
	}
}

func TestListStatuses(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	for i, gw := range []string{"GW1", "GW2", "GW1"} {
		st.AppendStatus(ctx, model.GatewayStatus{GatewayID: gw, UptimeS: int64(i), ReceivedAt: queryNow.Add(time.Duration(i) * time.Minute)})
	}
	e := New(st)

	got, err := e.ListStatuses(ctx, "GW1", DefaultStatusLimit)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].UptimeS != 2 || got[1].UptimeS != 0 {
		t.Errorf("GW1 statuses = %+v", got)
	}
	if all, _ := e.ListStatuses(ctx, "", 1); len(all) != 1 {
		t.Errorf("limit not applied: %+v", all)
	}
}

func TestLinkSummary(t *testing.T) {
	e, _ := seeded(t, standardSeeds()...)
	sum, err := e.LinkSummary(context.Background(), queryNow)
	if err != nil {
		t.Fatal(err)
	}
	// S3 je z předchozího dne, ostatní dnes.
	if sum.ReadingsToday != 4 {
		t.Errorf("readings_today = %d", sum.ReadingsToday)
	}
	// RSSI 0 se do průměru nepočítá.
	if want := float64(-60-70-65-90) / 4; sum.AvgRSSI != want {
		t.Errorf("avg_rssi = %v, want %v", sum.AvgRSSI, want)
	}
	if len(sum.Nodes) != 3 || sum.Nodes[0].NodeID != "S1" {
		t.Fatalf("nodes = %+v", sum.Nodes)
	}
	s1 := sum.Nodes[0]
	if s1.Readings != 3 || s1.MinRSSI != -65 || s1.MaxRSSI != -60 || s1.AvgRSSI != -62.5 {
		t.Errorf("S1 link = %+v", s1)
	}
}
