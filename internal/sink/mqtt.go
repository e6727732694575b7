package sink

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSink publikuje uložené události zpět do MQTT (např. "events/reading"),
// aby je mohly odebírat další služby bez přístupu k DB.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// NewMQTTSink používá již připojeného klienta. Klienta zavírá vlastník, ne sink.
func NewMQTTSink(client mqtt.Client, topicPrefix string) *MQTTSink {
	return &MQTTSink{client: client, topic: topicPrefix}
}

// Topic vrací cílový topic pro daný druh události.
func (s *MQTTSink) Topic(kind string) string {
	return fmt.Sprintf("%s/%s", s.topic, kind)
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	token := s.client.Publish(s.Topic(e.Kind), 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
}

func (s *MQTTSink) Close() error { return nil }
