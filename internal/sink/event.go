// Package sink přeposílá již uložené události do dalších systémů
// (Valkey/Redis live cache, Kafka, MQTT, InfluxDB).
//
// Sinky běží až po commitu do úložiště a asynchronně. Jejich selhání nikdy
// nemění výsledek ingestion, jen se zaloguje a započítá do metrik.
package sink

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lora-backend/internal/model"
)

// Druhy událostí.
const (
	KindReading = "reading"
	KindStatus  = "status"
)

// Event je obálka, kterou sinky dostávají a (většinou) serializují do JSONu.
type Event struct {
	EventID   string               `json:"event_id"`
	Kind      string               `json:"kind"`
	EmittedAt time.Time            `json:"emitted_at"`
	Reading   *model.Reading       `json:"reading,omitempty"`
	Device    *model.Device        `json:"device,omitempty"`
	Status    *model.GatewayStatus `json:"status,omitempty"`
}

// ReadingEvent vytvoří událost pro uložený reading a aktuální stav zařízení.
func ReadingEvent(r model.Reading, d model.Device) Event {
	return Event{
		EventID:   uuid.NewString(),
		Kind:      KindReading,
		EmittedAt: time.Now().UTC(),
		Reading:   &r,
		Device:    &d,
	}
}

// StatusEvent vytvoří událost pro uložený stav gatewaye.
func StatusEvent(s model.GatewayStatus) Event {
	return Event{
		EventID:   uuid.NewString(),
		Kind:      KindStatus,
		EmittedAt: time.Now().UTC(),
		Status:    &s,
	}
}

// Key je klíč pro partitioning (Kafka) a adresaci (Redis): node_id nebo gateway_id.
func (e Event) Key() string {
	switch {
	case e.Reading != nil:
		return e.Reading.NodeID
	case e.Status != nil:
		return e.Status.GatewayID
	default:
		return ""
	}
}

// Sink je cíl, kam se události přeposílají.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
	Close() error
}
