package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lora-backend/internal/metrics"
)

// Dispatcher sbírá události do bufferovaného kanálu a jedna goroutina je
// postupně rozesílá do všech sinků. Enqueue nikdy neblokuje ingestion:
// při plné frontě se událost zahodí a započítá.
type Dispatcher struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewDispatcher spustí worker goroutinu. capacity <= 0 znamená 1024.
func NewDispatcher(logger *slog.Logger, m *metrics.Metrics, capacity int, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if capacity <= 0 {
		capacity = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		metrics: m,
		timeout: timeout,
		queue:   make(chan Event, capacity),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Enqueue zařadí událost. Vrací false, pokud byla zahozena.
func (d *Dispatcher) Enqueue(e Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- e:
		return true
	default:
		d.metrics.IncSinkDropped()
		d.logger.Warn("Fronta sinků je plná, událost zahozena", "kind", e.Kind, "key", e.Key())
		return false
	}
}

// Publish implementuje ingest.Publisher.
func (d *Dispatcher) Publish(e Event) {
	d.Enqueue(e)
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Publish(ctx, e)
		cancel()
		if err != nil {
			d.metrics.IncSinkError(s.Name())
			d.logger.Error("Chyba při přeposlání události", "sink", s.Name(), "kind", e.Kind, "key", e.Key(), "error", err)
		}
	}
}

// Stop doručí zbytek fronty, počká na worker a zavře všechny sinky.
func (d *Dispatcher) Stop() error {
	var errs []error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.wg.Wait()
		for _, s := range d.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
