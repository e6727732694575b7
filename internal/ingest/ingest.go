// Package ingest je zápisová cesta: validace a normalizace příchozích obálek
// z gatewaye, zápis do úložiště a předání uložené události sinkům.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lora-backend/internal/metrics"
	"lora-backend/internal/model"
	"lora-backend/internal/sink"
	"lora-backend/internal/store"
)

// ValidationError znamená chybějící nebo nevalidní tělo. Úložiště se nezměnilo.
type ValidationError struct {
	Kind string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("neplatná zpráva (%s): %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Publisher přebírá již uložené události (typicky *sink.Dispatcher).
// Publish nesmí blokovat.
type Publisher interface {
	Publish(e sink.Event)
}

// Engine je bezstavový, sdílí jen úložiště. Bezpečný pro souběžné volání.
type Engine struct {
	store     store.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher Publisher
	now       func() time.Time
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithClock nahradí zdroj received_at (testy).
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// IngestReading zvaliduje obálku senzoru, uloží reading a aktualizuje zařízení.
// Jakmile je zpráva přijata, zápis doběhne i při zrušení ctx.
func (e *Engine) IngestReading(ctx context.Context, body []byte) (model.Reading, error) {
	var env model.SensorEnvelope
	if err := decodeEnvelope(sink.KindReading, sensorSchema, body, &env); err != nil {
		e.metrics.IncRejected(sink.KindReading)
		return model.Reading{}, err
	}

	start := time.Now()
	r := env.Normalize(e.now())

	saved, dev, err := e.store.RecordReading(context.WithoutCancel(ctx), r)
	if err != nil {
		e.metrics.IncStoreError(sink.KindReading)
		e.logger.Error("Chyba při ukládání readingu", "node_id", r.NodeID, "error", err)
		return model.Reading{}, err
	}
	e.metrics.ObserveIngest(sink.KindReading, time.Since(start))
	e.metrics.IncIngested(sink.KindReading)

	e.logger.Info("Přijat reading",
		"gateway_id", saved.GatewayID,
		"node_id", saved.NodeID,
		"rssi", saved.RSSI,
		"snr", saved.SNR,
	)
	e.logger.Debug("Payload readingu", "id", saved.ID, "payload", saved.Payload, "total_packets", dev.TotalPackets)

	if e.publisher != nil {
		e.publisher.Publish(sink.ReadingEvent(saved, dev))
	}
	return saved, nil
}

// IngestStatus zvaliduje a uloží stav gatewaye. Registr zařízení se nemění.
func (e *Engine) IngestStatus(ctx context.Context, body []byte) (model.GatewayStatus, error) {
	var env model.StatusEnvelope
	if err := decodeEnvelope(sink.KindStatus, statusSchema, body, &env); err != nil {
		e.metrics.IncRejected(sink.KindStatus)
		return model.GatewayStatus{}, err
	}

	start := time.Now()
	s := env.Normalize(e.now())

	id, err := e.store.AppendStatus(context.WithoutCancel(ctx), s)
	if err != nil {
		e.metrics.IncStoreError(sink.KindStatus)
		e.logger.Error("Chyba při ukládání stavu gatewaye", "gateway_id", s.GatewayID, "error", err)
		return model.GatewayStatus{}, err
	}
	s.ID = id
	e.metrics.ObserveIngest(sink.KindStatus, time.Since(start))
	e.metrics.IncIngested(sink.KindStatus)

	e.logger.Info("Stav gatewaye",
		"gateway_id", s.GatewayID,
		"uptime_s", s.UptimeS,
		"packets_rx", s.PacketsRx,
		"free_heap", s.FreeHeap,
	)

	if e.publisher != nil {
		e.publisher.Publish(sink.StatusEvent(s))
	}
	return s, nil
}
