package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"lora-backend/internal/archive"
	"lora-backend/internal/config"
	"lora-backend/internal/query"
	"lora-backend/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

// bucketUploader je archive.Uploader, v testech nahrazený fakem.
type bucketUploader interface {
	archive.ObjectUploader
	EnsureBucket(ctx context.Context) error
}

var openUploader = func(cfg config.ArchiveConfig) (bucketUploader, error) {
	return archive.NewUploader(cfg)
}

type app struct {
	out io.Writer
	o   options
	cfg config.Config
	now func() time.Time

	b  backend
	q  *query.Engine // jen lokální režim
	st store.Store   // jen lokální režim
}

func (a *app) dispatch(ctx context.Context, cmd string) error {
	switch cmd {
	case "devices":
		return a.devices(ctx)
	case "readings":
		return a.readings(ctx)
	case "stats":
		return a.stats(ctx)
	case "export":
		return a.export(ctx)
	case "node":
		return a.node(ctx)
	case "links":
		return a.links(ctx)
	case "clear":
		return a.clear(ctx)
	case "archive":
		return a.archive(ctx)
	default:
		return fmt.Errorf("neznámý příkaz %q", cmd)
	}
}

func (a *app) banner(width int, title string) {
	line := strings.Repeat("=", width)
	fmt.Fprintf(a.out, "\n%s\n %s\n%s\n", line, title, line)
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 2, 0, 2, ' ', 0)
}

func (a *app) devices(ctx context.Context) error {
	devices, err := a.b.Devices(ctx)
	if err != nil {
		return err
	}
	if a.o.asJSON {
		return a.writeJSON(devices)
	}

	a.banner(70, "REGISTROVANÁ ZAŘÍZENÍ")
	if len(devices) == 0 {
		fmt.Fprintln(a.out, " Žádná zařízení")
		return nil
	}
	w := a.table()
	fmt.Fprintln(w, "NODE ID\tTYP\tGATEWAY\tPAKETY\tPOSLEDNÍ KONTAKT")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.NodeID, d.NodeType, d.GatewayID, d.TotalPackets, formatTime(d.LastSeen))
	}
	return w.Flush()
}

func (a *app) readings(ctx context.Context) error {
	readings, err := a.b.Readings(ctx, query.Filter{NodeID: a.o.node, GatewayID: a.o.gateway, Limit: a.o.limit})
	if err != nil {
		return err
	}
	if a.o.asJSON {
		return a.writeJSON(readings)
	}

	title := fmt.Sprintf("POSLEDNÍCH %d READINGŮ", a.o.limit)
	if a.o.node != "" {
		title += fmt.Sprintf(" (node: %s)", a.o.node)
	}
	a.banner(90, title)
	if len(readings) == 0 {
		fmt.Fprintln(a.out, " Žádné readingy")
		return nil
	}
	w := a.table()
	fmt.Fprintln(w, "ČAS\tNODE\tRSSI\tSNR\tDATA")
	for _, r := range readings {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%s\n", formatTime(r.ReceivedAt), r.NodeID, r.RSSI, r.SNR, shortPayload(r.Payload, 40))
	}
	return w.Flush()
}

func (a *app) stats(ctx context.Context) error {
	stats, err := a.b.Stats(ctx)
	if err != nil {
		return err
	}
	links, err := a.b.Links(ctx)
	if err != nil {
		return err
	}
	if a.o.asJSON {
		return a.writeJSON(map[string]any{
			"stats":          stats,
			"readings_today": links.ReadingsToday,
			"avg_rssi":       links.AvgRSSI,
		})
	}

	a.banner(40, "STATISTIKY")
	fmt.Fprintf(a.out, " Celkem readingů:      %d\n", stats.TotalReadings)
	fmt.Fprintf(a.out, " Zařízení:             %d\n", stats.TotalDevices)
	fmt.Fprintf(a.out, " Readingů za 24 h:     %d\n", stats.ReadingsLast24h)
	fmt.Fprintf(a.out, " Readingů dnes:        %d\n", links.ReadingsToday)
	fmt.Fprintf(a.out, " Průměrné RSSI:        %.1f dBm\n", links.AvgRSSI)
	if lr := stats.LastReading; lr != nil {
		fmt.Fprintf(a.out, " Poslední reading:     %s (%s)\n", formatTime(lr.ReceivedAt), lr.NodeID)
	}
	fmt.Fprintln(a.out, strings.Repeat("=", 40))
	return nil
}

func (a *app) export(ctx context.Context) error {
	output := a.o.output
	if output == "" {
		output = "export.csv"
	}

	if output == "-" {
		return a.b.ExportCSV(ctx, a.out, a.o.node)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	lc := &lineCounter{w: f}
	if err := a.b.ExportCSV(ctx, lc, a.o.node); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n[OK] %d záznamů exportováno do '%s'\n", max(lc.lines-1, 0), output)
	return nil
}

func (a *app) node(ctx context.Context) error {
	if a.o.node == "" {
		return errors.New("zadej node přes --node nebo -n")
	}
	res, err := a.b.NodeReadings(ctx, a.o.node, a.o.limit)
	if err != nil {
		return err
	}
	if a.o.asJSON {
		return a.writeJSON(res)
	}

	a.banner(60, "DATA NODU: "+a.o.node)
	if res.Count == 0 {
		fmt.Fprintln(a.out, " Žádné readingy")
		return nil
	}
	for _, r := range res.Readings {
		fmt.Fprintf(a.out, "\n[%s]\n", formatTime(r.ReceivedAt))
		fmt.Fprintf(a.out, "  RSSI: %d dBm | SNR: %g dB | Seq: %d\n", r.RSSI, r.SNR, r.Sequence)
		keys := make([]string, 0, len(r.Payload))
		for k := range r.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(a.out, "  %s: %v\n", k, r.Payload[k])
		}
	}
	return nil
}

func (a *app) links(ctx context.Context) error {
	summary, err := a.b.Links(ctx)
	if err != nil {
		return err
	}
	if a.o.asJSON {
		return a.writeJSON(summary)
	}

	a.banner(70, "KVALITA SPOJŮ")
	if len(summary.Nodes) == 0 {
		fmt.Fprintln(a.out, " Žádné readingy")
		return nil
	}
	w := a.table()
	fmt.Fprintln(w, "NODE\tREADINGŮ\tDNES\tAVG RSSI\tAVG SNR\tMIN RSSI\tMAX RSSI")
	for _, n := range summary.Nodes {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%.1f\t%d\t%d\n",
			n.NodeID, n.Readings, n.ReadingsToday, n.AvgRSSI, n.AvgSNR, n.MinRSSI, n.MaxRSSI)
	}
	return w.Flush()
}

func (a *app) clear(ctx context.Context) error {
	if !a.o.confirm {
		fmt.Fprintln(a.out, "\n[VAROVÁNÍ] Tato akce smaže VŠECHNA data!")
		fmt.Fprintln(a.out, "Pro potvrzení použij --confirm.")
		return nil
	}
	if err := a.st.ClearAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "\n[OK] Všechna data byla smazána.")
	return nil
}

func (a *app) archive(ctx context.Context) error {
	if a.o.local {
		return a.archiveLocal(ctx)
	}

	up, err := openUploader(a.cfg.Archive)
	if err != nil {
		return err
	}
	if err := up.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("bucket %s: %w", a.cfg.Archive.Bucket, err)
	}

	res, err := archive.Run(ctx, a.q, up, archive.Options{
		NodeID:      a.o.node,
		Format:      a.o.format,
		Compression: a.o.compression,
		BasePath:    a.cfg.Archive.BasePath,
		Now:         a.now(),
	})
	if err != nil {
		return err
	}
	if res.Rows == 0 {
		fmt.Fprintln(a.out, "\nŽádné readingy k archivaci.")
		return nil
	}
	if a.o.asJSON {
		return a.writeJSON(res)
	}
	fmt.Fprintf(a.out, "\n[OK] %d záznamů (%d B) nahráno do %s/%s\n", res.Rows, res.Bytes, a.cfg.Archive.Bucket, res.Object)
	return nil
}

// archiveLocal zapíše archiv jen na disk (-o), bez MinIO. Respektuje --format.
func (a *app) archiveLocal(ctx context.Context) error {
	var (
		rows   int
		err    error
		output = a.o.output
	)
	switch strings.ToLower(a.o.format) {
	case "", archive.FormatParquet:
		if output == "" {
			output = "export.parquet"
		}
		readings, lerr := a.q.ListReadings(ctx, query.Filter{NodeID: a.o.node, Limit: query.NoLimit})
		if lerr != nil {
			return lerr
		}
		rows, err = len(readings), archive.WriteParquet(output, readings, a.o.compression)
	case archive.FormatCSV:
		zst := strings.EqualFold(a.o.compression, "zstd")
		if output == "" {
			output = "export.csv"
			if zst {
				output += ".zst"
			}
		}
		rows, err = archive.WriteCSV(ctx, a.q, output, a.o.node, zst)
	default:
		return fmt.Errorf("neznámý formát %q (parquet, csv)", a.o.format)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n[OK] %d záznamů zapsáno do '%s'\n", rows, output)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

// shortPayload zkrátí JSON payloadu pro tabulku.
func shortPayload(p map[string]any, width int) string {
	if p == nil {
		p = map[string]any{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "?"
	}
	s := string(b)
	if len([]rune(s)) > width {
		s = string([]rune(s)[:width-3]) + "..."
	}
	return s
}

// lineCounter počítá řádky zapsaného CSV (JSON payload neobsahuje syrový \n).
type lineCounter struct {
	w     io.Writer
	lines int
}

func (c *lineCounter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	for _, b := range p[:n] {
		if b == '\n' {
			c.lines++
		}
	}
	return n, err
}
