package model

import "time"

// Výchozí hodnoty pro chybějící pole v příchozích zprávách.
const (
	DefaultGatewayID = "unknown"
	DefaultNodeID    = "unknown"
	DefaultNodeType  = "sensor"
)

// SensorEnvelope je JSON, který gateway posílá pro každý přijatý LoRa paket.
// Pointery rozlišují "pole chybí" od "pole je nulové".
type SensorEnvelope struct {
	GatewayID *string `json:"gateway_id"`

	// Timestamp je uptime gatewaye v ms. Jádro ho neukládá, received_at určuje server.
	Timestamp *int64 `json:"timestamp"`

	Node *NodeSection `json:"node"`
	RF   *RFSection   `json:"rf"`
}

// NodeSection popisuje odesílající senzor.
type NodeSection struct {
	ID   *string        `json:"id"`
	Type *string        `json:"type"`
	Seq  *int64         `json:"seq"`
	Data map[string]any `json:"data"`
}

// RFSection nese metriky rádiového spoje naměřené gatewayí.
type RFSection struct {
	RSSI *int     `json:"rssi"`
	SNR  *float64 `json:"snr"`
}

// Normalize převede obálku na Reading s explicitními defaulty.
// ID a ReceivedAt doplní až ingestion/store.
func (e SensorEnvelope) Normalize(receivedAt time.Time) Reading {
	r := Reading{
		GatewayID:  valueOr(e.GatewayID, DefaultGatewayID),
		NodeID:     DefaultNodeID,
		NodeType:   DefaultNodeType,
		Payload:    map[string]any{},
		ReceivedAt: Timestamp(receivedAt),
	}

	if n := e.Node; n != nil {
		r.NodeID = valueOr(n.ID, DefaultNodeID)
		r.NodeType = valueOr(n.Type, DefaultNodeType)
		r.Sequence = valueOr(n.Seq, 0)
		if n.Data != nil {
			r.Payload = n.Data
		}
	}

	if rf := e.RF; rf != nil {
		r.RSSI = valueOr(rf.RSSI, 0)
		r.SNR = valueOr(rf.SNR, 0)
	}

	return r
}

// StatusEnvelope je periodický stav gatewaye.
type StatusEnvelope struct {
	GatewayID *string        `json:"gateway_id"`
	Stats     *StatusSection `json:"stats"`
}

// StatusSection jsou čítače a metriky gatewaye.
type StatusSection struct {
	UptimeS    *int64 `json:"uptime_s"`
	PacketsRx  *int64 `json:"packets_rx"`
	PacketsFwd *int64 `json:"packets_fwd"`
	WifiRSSI   *int   `json:"wifi_rssi"`
	FreeHeap   *int64 `json:"free_heap"`
}

// Normalize převede obálku na GatewayStatus s explicitními defaulty.
func (e StatusEnvelope) Normalize(receivedAt time.Time) GatewayStatus {
	s := GatewayStatus{
		GatewayID:  valueOr(e.GatewayID, DefaultGatewayID),
		ReceivedAt: Timestamp(receivedAt),
	}
	if st := e.Stats; st != nil {
		s.UptimeS = valueOr(st.UptimeS, 0)
		s.PacketsRx = valueOr(st.PacketsRx, 0)
		s.PacketsFwd = valueOr(st.PacketsFwd, 0)
		s.WifiRSSI = valueOr(st.WifiRSSI, 0)
		s.FreeHeap = valueOr(st.FreeHeap, 0)
	}
	return s
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
