package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lora-backend/internal/archive"
	"lora-backend/internal/config"
	"lora-backend/internal/model"
	"lora-backend/internal/query"
	"lora-backend/internal/store"
)

func seedDB(t *testing.T) string {
	t.Helper()
	t.Setenv("LORA_CONFIG", "")
	path := filepath.Join(t.TempDir(), "lora_data.db")
	ctx := context.Background()

	st, err := store.OpenSQLite(ctx, path, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	now := time.Now().UTC()
	for i, node := range []string{"S1", "S2", "S1"} {
		_, _, err := st.RecordReading(ctx, model.Reading{
			GatewayID:  "GW1",
			NodeID:     node,
			NodeType:   model.DefaultNodeType,
			Sequence:   int64(i),
			Payload:    map[string]any{"temp": 21.5, "note": strings.Repeat("x", 50)},
			RSSI:       -60 - 10*i,
			SNR:        7.25,
			ReceivedAt: model.Timestamp(now.Add(-time.Duration(i) * time.Minute)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestDevicesAndReadings(t *testing.T) {
	db := seedDB(t)

	out, err := runCLI(t, "devices", "--db", db)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "REGISTROVANÁ ZAŘÍZENÍ") || !strings.Contains(out, "S1") || !strings.Contains(out, "S2") {
		t.Errorf("devices output:\n%s", out)
	}

	out, err = runCLI(t, "readings", "-n", "S1", "-l", "5", "--db", db)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "S2") || strings.Count(out, "S1") < 3 || !strings.Contains(out, "...") {
		t.Errorf("readings output:\n%s", out)
	}
}

func TestReadingsJSON(t *testing.T) {
	db := seedDB(t)
	out, err := runCLI(t, "readings", "--json", "-l", "2", "--db", db)
	if err != nil {
		t.Fatal(err)
	}
	var rs []model.Reading
	if err := json.Unmarshal([]byte(out), &rs); err != nil || len(rs) != 2 {
		t.Fatalf("json = %s, %v", out, err)
	}
	if rs[0].NodeID != "S1" || rs[0].RSSI != -60 {
		t.Errorf("newest reading = %+v", rs[0])
	}
}

func TestStatsAndLinks(t *testing.T) {
	db := seedDB(t)
	out, err := runCLI(t, "stats", "--db", db)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Celkem readingů:      3", "Zařízení:             2", "Průměrné RSSI:        -70.0 dBm"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "links", "--db", db)
	if err != nil || !strings.Contains(out, "KVALITA SPOJŮ") {
		t.Errorf("links = %s, %v", out, err)
	}
}

func TestExport(t *testing.T) {
	db := seedDB(t)
	target := filepath.Join(t.TempDir(), "out.csv")

	out, err := runCLI(t, "export", "-n", "S1", "-o", target, "--db", db)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[OK] 2 záznamů") {
		t.Errorf("export output: %s", out)
	}
	b, _ := os.ReadFile(target)
	if lines := strings.Split(strings.TrimSpace(string(b)), "\n"); len(lines) != 3 || lines[0] != query.CSVHeader {
		t.Errorf("csv = %q", b)
	}

	out, err = runCLI(t, "export", "-o", "-", "--db", db)
	if err != nil || !strings.HasPrefix(out, query.CSVHeader) {
		t.Errorf("stdout export = %q, %v", out, err)
	}
}

func TestNodeRequiresNode(t *testing.T) {
	db := seedDB(t)
	if _, err := runCLI(t, "node", "--db", db); err == nil {
		t.Error("node without -n accepted")
	}
	out, err := runCLI(t, "node", "-n", "S2", "--db", db)
	if err != nil || !strings.Contains(out, "temp: 21.5") || !strings.Contains(out, "RSSI: -70 dBm") {
		t.Errorf("node = %s, %v", out, err)
	}
}

func TestClear(t *testing.T) {
	db := seedDB(t)

	out, err := runCLI(t, "clear", "--db", db)
	if err != nil || !strings.Contains(out, "--confirm") {
		t.Fatalf("clear without confirm = %s, %v", out, err)
	}
	out, _ = runCLI(t, "stats", "--db", db)
	if !strings.Contains(out, "Celkem readingů:      3") {
		t.Fatal("data deleted without --confirm")
	}

	if _, err := runCLI(t, "clear", "--confirm", "--db", db); err != nil {
		t.Fatal(err)
	}
	out, _ = runCLI(t, "stats", "--db", db)
	if !strings.Contains(out, "Celkem readingů:      0") {
		t.Errorf("after clear:\n%s", out)
	}
}

type fakeBucket struct {
	objects []string
	ensured bool
}

func (f *fakeBucket) EnsureBucket(context.Context) error { f.ensured = true; return nil }

func (f *fakeBucket) Upload(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	io.Copy(io.Discard, r)
	f.objects = append(f.objects, name)
	return nil
}

func TestArchive(t *testing.T) {
	db := seedDB(t)
	fb := &fakeBucket{}
	prev := openUploader
	openUploader = func(config.ArchiveConfig) (bucketUploader, error) { return fb, nil }
	t.Cleanup(func() { openUploader = prev })

	out, err := runCLI(t, "archive", "--db", db)
	if err != nil {
		t.Fatal(err)
	}
	if !fb.ensured || len(fb.objects) != 1 || !strings.HasPrefix(fb.objects[0], "readings/year=") {
		t.Errorf("uploads = %v (ensured %v)", fb.objects, fb.ensured)
	}
	if !strings.Contains(out, "[OK] 3 záznamů") {
		t.Errorf("archive output: %s", out)
	}

	local := filepath.Join(t.TempDir(), "a.parquet")
	if _, err := runCLI(t, "archive", "--local", "-o", local, "-n", "S1", "--db", db); err != nil {
		t.Fatal(err)
	}
	recs, err := archive.ReadParquet(local)
	if err != nil || len(recs) != 2 {
		t.Errorf("local parquet = %d rows, %v", len(recs), err)
	}
}

func TestArchiveLocalFormats(t *testing.T) {
	db := seedDB(t)
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "s1.csv")
	out, err := runCLI(t, "archive", "--local", "--format", "csv", "-o", csvPath, "-n", "S1", "--db", db)
	if err != nil || !strings.Contains(out, "[OK] 2 záznamů") {
		t.Fatalf("csv archive = %s, %v", out, err)
	}
	b, _ := os.ReadFile(csvPath)
	if lines := strings.Split(strings.TrimSpace(string(b)), "\n"); len(lines) != 3 || lines[0] != query.CSVHeader {
		t.Errorf("csv archive = %q", b)
	}

	zstPath := filepath.Join(dir, "all.csv.zst")
	if _, err := runCLI(t, "archive", "--local", "--format", "csv", "--compression", "zstd", "-o", zstPath, "--db", db); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(zstPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rc, err := archive.ZstdReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	if got, err := io.ReadAll(rc); err != nil || !strings.HasPrefix(string(got), query.CSVHeader) {
		t.Errorf("zstd archive = %q, %v", got, err)
	}

	if _, err := runCLI(t, "archive", "--local", "--format", "xlsx", "-o", filepath.Join(dir, "x"), "--db", db); err == nil {
		t.Error("unknown local archive format accepted")
	}
}

func TestCommandErrors(t *testing.T) {
	db := seedDB(t)
	if _, err := runCLI(t, "bogus", "--db", db); err == nil {
		t.Error("unknown command accepted")
	}
	if _, err := runCLI(t); err == nil {
		t.Error("missing command accepted")
	}
	if _, err := runCLI(t, "clear", "--confirm", "--api", "http://localhost:1"); err == nil {
		t.Error("clear over --api accepted")
	}
	if _, err := runCLI(t, "stats", "--db", filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Error("missing database accepted")
	}
	if _, err := runCLI(t, "--help"); err != nil {
		t.Errorf("--help = %v", err)
	}
}
