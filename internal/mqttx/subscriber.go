package mqttx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lora-backend/internal/ingest"
	"lora-backend/internal/model"
)

// Suffixy topiců: <prefix>/<gateway>/sensor-data a <prefix>/<gateway>/status.
const (
	SensorDataSuffix = "sensor-data"
	StatusSuffix     = "status"
	DLQSuffix        = "dlq"
)

// Ingester je zápisová cesta, kterou transport volá.
type Ingester interface {
	IngestReading(ctx context.Context, body []byte) (model.Reading, error)
	IngestStatus(ctx context.Context, body []byte) (model.GatewayStatus, error)
}

// PublishFunc odešle zprávu (DLQ). V produkci obaluje client.Publish.
type PublishFunc func(topic string, payload []byte) error

// DLQMessage se posílá do <prefix>/dlq pro každou odmítnutou zprávu.
type DLQMessage struct {
	Topic      string    `json:"topic"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Subscriber mapuje MQTT zprávy na ingest engine.
type Subscriber struct {
	ing     Ingester
	prefix  string
	logger  *slog.Logger
	publish PublishFunc
}

// NewSubscriber: publish může být nil (DLQ vypnutá).
func NewSubscriber(ing Ingester, topicPrefix string, logger *slog.Logger, publish PublishFunc) *Subscriber {
	return &Subscriber{
		ing:     ing,
		prefix:  strings.TrimSuffix(topicPrefix, "/"),
		logger:  logger,
		publish: publish,
	}
}

// Topics vrací filtry k odběru (QoS 1).
func (s *Subscriber) Topics() map[string]byte {
	return map[string]byte{
		s.prefix + "/+/" + SensorDataSuffix: 1,
		s.prefix + "/+/" + StatusSuffix:     1,
	}
}

// DLQTopic je topic pro odmítnuté zprávy.
func (s *Subscriber) DLQTopic() string { return s.prefix + "/" + DLQSuffix }

// Subscribe přihlásí odběr. Volá se z OnConnect.
func (s *Subscriber) Subscribe(c mqtt.Client) error {
	token := c.SubscribeMultiple(s.Topics(), func(_ mqtt.Client, msg mqtt.Message) {
		s.HandleMessage(context.Background(), msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error("Subscribe selhal", "topics", s.Topics(), "error", err)
		return err
	}
	s.logger.Info("Poslouchám na topicích", "prefix", s.prefix)
	return nil
}

// HandleMessage zpracuje jednu zprávu. Chyba znamená, že zpráva skončila v DLQ
// (nebo byla zahozena kvůli neznámému topicu). Služba běží dál.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	var err error
	switch {
	case strings.HasSuffix(topic, "/"+SensorDataSuffix):
		_, err = s.ing.IngestReading(ctx, payload)
	case strings.HasSuffix(topic, "/"+StatusSuffix):
		_, err = s.ing.IngestStatus(ctx, payload)
	default:
		err = fmt.Errorf("neznámý topic %q", topic)
		s.logger.Warn("Zpráva odmítnuta", "topic", topic, "důvod", err)
		return err
	}
	if err == nil {
		s.logger.Debug("Zpráva zpracována", "topic", topic)
		return nil
	}

	stage := "store"
	var ve *ingest.ValidationError
	if errors.As(err, &ve) {
		stage = "validation"
		s.logger.Warn("Zpráva odmítnuta", "topic", topic, "důvod", err)
	} else {
		s.logger.Error("Zprávu nelze uložit", "topic", topic, "error", err)
	}
	s.toDLQ(topic, stage, err, payload)
	return err
}

func (s *Subscriber) toDLQ(topic, stage string, cause error, payload []byte) {
	if s.publish == nil {
		return
	}
	b, err := json.Marshal(DLQMessage{
		Topic:      topic,
		Stage:      stage,
		Error:      cause.Error(),
		Payload:    string(payload),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.publish(s.DLQTopic(), b); err != nil {
		s.logger.Error("Chyba při publikaci do DLQ", "error", err)
	}
}

// ClientPublisher obalí klienta jako PublishFunc (QoS 0).
func ClientPublisher(c mqtt.Client) PublishFunc {
	return func(topic string, payload []byte) error {
		token := c.Publish(topic, 0, false, payload)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("mqtt publish %s: timeout", topic)
		}
		return token.Error()
	}
}
