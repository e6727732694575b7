package sink

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig nastavuje producenta pro přeposílání událostí.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Compression  string // none, gzip, snappy, lz4, zstd
	RequiredAcks string // none, one, all
	BatchTimeout time.Duration
}

// KafkaSink posílá události do Kafka topicu. Klíč je node_id (resp. gateway_id),
// takže všechny readingy jednoho nodu skončí ve stejné partition ve správném pořadí.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink vytvoří writer. Spojení se otevírá líně při prvním zápisu.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: batchTimeout,
			RequiredAcks: parseAcks(cfg.RequiredAcks),
			Compression:  parseCompression(cfg.Compression),
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}

	headers := []kafka.Header{
		{Key: "kind", Value: []byte(e.Kind)},
		{Key: "eventId", Value: []byte(e.EventID)},
	}
	if e.Reading != nil {
		headers = append(headers, kafka.Header{
			Key:   "receivedAt",
			Value: []byte(e.Reading.ReceivedAt.Format(time.RFC3339Nano)),
		})
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.Key()),
		Value:   value,
		Headers: headers,
	})
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(s) {
	case "", "none", "no", "off", "0":
		return kafka.Compression(0)
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

func parseAcks(s string) kafka.RequiredAcks {
	switch strings.ToLower(s) {
	case "none":
		return kafka.RequireNone
	case "all":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}
