// Package query je čtecí cesta: filtrování, řazení, agregace a export
// nad snímkem úložiště. Nikdy nic nemění.
package query

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"lora-backend/internal/model"
	"lora-backend/internal/store"
)

// Výchozí limity (stejné jako v původním API).
const (
	DefaultReadingsLimit = 100
	DefaultNodeLimit     = 50
	DefaultStatusLimit   = 100
)

// StatsWindow je okno pro readings_last_24h.
const StatsWindow = 24 * time.Hour

// NoLimit vrací celý výsledek (export, statistiky).
const NoLimit = math.MaxInt

// Filter omezuje výpis readingů. Prázdné pole nefiltruje.
// Limit <= 0 vrací prázdný výsledek, ne chybu.
type Filter struct {
	NodeID    string
	GatewayID string
	Limit     int
}

// NodeReadings je výsledek dotazu na jeden node. NodeID je vyplněné i bez dat.
type NodeReadings struct {
	NodeID   string          `json:"node_id"`
	Count    int             `json:"count"`
	Readings []model.Reading `json:"readings"`
}

// Engine drží jen odkaz na úložiště.
type Engine struct {
	store store.Store
}

func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// ListReadings: filtr na shodu, řazení od nejnovějšího, ořez na limit.
func (e *Engine) ListReadings(ctx context.Context, f Filter) ([]model.Reading, error) {
	if f.Limit <= 0 {
		return []model.Reading{}, nil
	}

	all, err := e.store.AllReadings(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.Reading, 0, len(all))
	for _, r := range all {
		if f.NodeID != "" && r.NodeID != f.NodeID {
			continue
		}
		if f.GatewayID != "" && r.GatewayID != f.GatewayID {
			continue
		}
		out = append(out, r)
	}
	SortReadings(out)

	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListDevices vrací všechna zařízení, naposledy aktivní první.
func (e *Engine) ListDevices(ctx context.Context) ([]model.Device, error) {
	devices, err := e.store.AllDevices(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(devices, func(a, b model.Device) int {
		if c := b.LastSeen.Compare(a.LastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.NodeID, b.NodeID)
	})
	return devices, nil
}

// NodeReadings je ListReadings jen s node_id, výsledek nese node_id i když je prázdný.
func (e *Engine) NodeReadings(ctx context.Context, nodeID string, limit int) (NodeReadings, error) {
	readings, err := e.ListReadings(ctx, Filter{NodeID: nodeID, Limit: limit})
	if err != nil {
		return NodeReadings{}, err
	}
	return NodeReadings{NodeID: nodeID, Count: len(readings), Readings: readings}, nil
}

// ComputeStats spočítá souhrnné statistiky k okamžiku now.
// Readingy bez received_at se do okna nepočítají.
func (e *Engine) ComputeStats(ctx context.Context, now time.Time) (model.Stats, error) {
	readings, err := e.store.AllReadings(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	devices, err := e.store.AllDevices(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	stats := model.Stats{
		TotalReadings: len(readings),
		TotalDevices:  len(devices),
	}

	cutoff := now.Add(-StatsWindow)
	var last *model.Reading
	for i := range readings {
		r := &readings[i]
		if r.ReceivedAt.IsZero() {
			continue
		}
		if !r.ReceivedAt.Before(cutoff) && !r.ReceivedAt.After(now) {
			stats.ReadingsLast24h++
		}
		if last == nil || readingLess(*r, *last) {
			last = r
		}
	}
	if last != nil {
		stats.LastReading = &model.LastReading{NodeID: last.NodeID, ReceivedAt: last.ReceivedAt}
	}
	return stats, nil
}

// ListStatuses vrací stavy gatewayí od nejnovějšího, volitelně jen pro jednu gateway.
func (e *Engine) ListStatuses(ctx context.Context, gatewayID string, limit int) ([]model.GatewayStatus, error) {
	if limit <= 0 {
		return []model.GatewayStatus{}, nil
	}

	all, err := e.store.AllStatuses(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.GatewayStatus, 0, len(all))
	for _, s := range all {
		if gatewayID == "" || s.GatewayID == gatewayID {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b model.GatewayStatus) int {
		if c := b.ReceivedAt.Compare(a.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LinkSummary agreguje kvalitu spoje. "Dnes" je kalendářní den now v UTC,
// průměrné RSSI se počítá jen z readingů s nenulovým RSSI.
func (e *Engine) LinkSummary(ctx context.Context, now time.Time) (model.LinkSummary, error) {
	readings, err := e.store.AllReadings(ctx)
	if err != nil {
		return model.LinkSummary{}, err
	}

	y, m, d := now.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	today := func(t time.Time) bool {
		return !t.Before(dayStart) && t.Before(dayEnd)
	}

	type acc struct {
		link    model.NodeLink
		rssiSum int
		rssiN   int
		snrSum  float64
	}
	byNode := make(map[string]*acc)

	summary := model.LinkSummary{Nodes: []model.NodeLink{}}
	var rssiSum, rssiN int

	for _, r := range readings {
		a, ok := byNode[r.NodeID]
		if !ok {
			a = &acc{link: model.NodeLink{NodeID: r.NodeID}}
			byNode[r.NodeID] = a
		}
		a.link.Readings++
		a.snrSum += r.SNR
		if today(r.ReceivedAt) {
			a.link.ReadingsToday++
			summary.ReadingsToday++
		}
		if r.RSSI == 0 {
			continue
		}
		if a.rssiN == 0 || r.RSSI < a.link.MinRSSI {
			a.link.MinRSSI = r.RSSI
		}
		if a.rssiN == 0 || r.RSSI > a.link.MaxRSSI {
			a.link.MaxRSSI = r.RSSI
		}
		a.rssiSum += r.RSSI
		a.rssiN++
		rssiSum += r.RSSI
		rssiN++
	}

	if rssiN > 0 {
		summary.AvgRSSI = float64(rssiSum) / float64(rssiN)
	}
	for _, a := range byNode {
		if a.rssiN > 0 {
			a.link.AvgRSSI = float64(a.rssiSum) / float64(a.rssiN)
		}
		a.link.AvgSNR = a.snrSum / float64(a.link.Readings)
		summary.Nodes = append(summary.Nodes, a.link)
	}
	slices.SortFunc(summary.Nodes, func(a, b model.NodeLink) int {
		return cmp.Compare(a.NodeID, b.NodeID)
	})
	return summary, nil
}

// SortReadings řadí podle received_at sestupně, shodné časy podle id vzestupně.
func SortReadings(rs []model.Reading) {
	slices.SortFunc(rs, func(a, b model.Reading) int {
		switch {
		case readingLess(a, b):
			return -1
		case readingLess(b, a):
			return 1
		default:
			return 0
		}
	})
}

// readingLess: a patří ve výpisu před b.
func readingLess(a, b model.Reading) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.After(b.ReceivedAt)
	}
	return a.ID < b.ID
}
