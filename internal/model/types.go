// Package model obsahuje datové struktury sdílené úložištěm, ingestion a query vrstvou.
package model

import "time"

// Reading je jedna telemetrická událost od senzoru (node), přeposlaná gatewayí.
// Po uložení se už nikdy nemění.
type Reading struct {
	// ID přiděluje Store při vložení. Roste monotónně a nikdy se nepoužije znovu.
	ID int64 `json:"id"`

	GatewayID string `json:"gateway_id"`
	NodeID    string `json:"node_id"`
	NodeType  string `json:"node_type"`

	// Sequence je číslo paketu od odesílatele. Není globálně unikátní.
	Sequence int64 `json:"sequence"`

	// Payload jsou data senzoru. Jádro je neinterpretuje.
	Payload map[string]any `json:"payload"`

	// Kvalita rádiového spoje (dBm / dB).
	RSSI int     `json:"rssi"`
	SNR  float64 `json:"snr"`

	// ReceivedAt nastavuje server při příjmu, ne odesílatel.
	ReceivedAt time.Time `json:"received_at"`
}

// Device je průběžný souhrn za jeden node_id (registr zařízení).
type Device struct {
	NodeID    string `json:"node_id"`
	NodeType  string `json:"node_type"`
	GatewayID string `json:"gateway_id"`

	// FirstSeen se nastaví jen jednou, při prvním paketu.
	FirstSeen time.Time `json:"first_seen"`
	// LastSeen je vždy nejpozdější received_at ze všech readingů daného nodu.
	LastSeen time.Time `json:"last_seen"`

	TotalPackets int64 `json:"total_packets"`
}

// DeviceUpdate jsou pole, která do registru přináší jeden nový reading.
type DeviceUpdate struct {
	NodeID    string
	NodeType  string
	GatewayID string
	SeenAt    time.Time
}

// UpdateFor vrací DeviceUpdate odvozený z readingu.
func UpdateFor(r Reading) DeviceUpdate {
	return DeviceUpdate{
		NodeID:    r.NodeID,
		NodeType:  r.NodeType,
		GatewayID: r.GatewayID,
		SeenAt:    r.ReceivedAt,
	}
}

// Apply aplikuje update na existující záznam (nebo na nil = nové zařízení).
// Všechny store implementace musí dát stejný výsledek jako tato funkce.
func (u DeviceUpdate) Apply(prev *Device) Device {
	if prev == nil {
		return Device{
			NodeID:       u.NodeID,
			NodeType:     u.NodeType,
			GatewayID:    u.GatewayID,
			FirstSeen:    u.SeenAt,
			LastSeen:     u.SeenAt,
			TotalPackets: 1,
		}
	}

	next := *prev
	next.NodeType = u.NodeType
	next.GatewayID = u.GatewayID
	if u.SeenAt.After(next.LastSeen) {
		next.LastSeen = u.SeenAt
	}
	next.TotalPackets++
	return next
}

// GatewayStatus je periodický "health" snímek gatewaye.
type GatewayStatus struct {
	ID         int64     `json:"id"`
	GatewayID  string    `json:"gateway_id"`
	UptimeS    int64     `json:"uptime_s"`
	PacketsRx  int64     `json:"packets_rx"`
	PacketsFwd int64     `json:"packets_fwd"`
	WifiRSSI   int       `json:"wifi_rssi"`
	FreeHeap   int64     `json:"free_heap"`
	ReceivedAt time.Time `json:"received_at"`
}

// LastReading je zkrácený odkaz na nejnovější reading ve statistikách.
type LastReading struct {
	NodeID     string    `json:"node_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// Stats jsou souhrnné statistiky celého systému.
// LastReading je nil, pokud neexistuje žádný reading (v JSONu null).
type Stats struct {
	TotalReadings   int          `json:"total_readings"`
	TotalDevices    int          `json:"total_devices"`
	ReadingsLast24h int          `json:"readings_last_24h"`
	LastReading     *LastReading `json:"last_reading"`
}

// NodeLink je agregace kvality spoje pro jeden node.
type NodeLink struct {
	NodeID        string  `json:"node_id"`
	Readings      int     `json:"readings"`
	ReadingsToday int     `json:"readings_today"`
	AvgRSSI       float64 `json:"avg_rssi"`
	AvgSNR        float64 `json:"avg_snr"`
	MinRSSI       int     `json:"min_rssi"`
	MaxRSSI       int     `json:"max_rssi"`
}

// LinkSummary je přehled kvality rádiových spojů (port statistik z CLI nástroje).
type LinkSummary struct {
	ReadingsToday int        `json:"readings_today"`
	AvgRSSI       float64    `json:"avg_rssi"`
	Nodes         []NodeLink `json:"nodes"`
}

// Timestamp normalizuje čas na UTC s mikrosekundovou přesností,
// což je přesnost, kterou udrží všechna úložiště (SQLite i Postgres).
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
