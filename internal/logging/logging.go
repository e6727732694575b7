// Package logging nastavuje slog JSON logger služeb a jeho volitelné
// přeposílání do MQTT (logs/<service>), odkud si ho bere log-collector.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TopicRoot je kořen topiců s logy.
const TopicRoot = "logs"

// ParseLevel převede LOG_LEVEL na slog.Level. Neznámá hodnota = info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New vytvoří JSON logger nad zadanými writery (typicky stdout + MQTT).
func New(level string, writers ...io.Writer) *slog.Logger {
	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// MqttLogWriter implementuje io.Writer. Každý zapsaný řádek odešle do MQTT.
type MqttLogWriter struct {
	client mqtt.Client
	topic  string
}

// NewMqttLogWriter: topic bude např. "logs/lora-backend".
func NewMqttLogWriter(client mqtt.Client, serviceName string) *MqttLogWriter {
	return &MqttLogWriter{
		client: client,
		topic:  fmt.Sprintf("%s/%s", TopicRoot, serviceName),
	}
}

// Topic vrací cílový topic.
func (w *MqttLogWriter) Topic() string { return w.topic }

// Write nečeká na potvrzení (fire-and-forget), logování nesmí brzdit aplikaci.
// Bez spojení se řádek zahodí, stdout ho má tak jako tak.
func (w *MqttLogWriter) Write(p []byte) (n int, err error) {
	if !w.client.IsConnectionOpen() {
		return len(p), nil
	}

	// slog buffer po návratu recykluje, payload je potřeba zkopírovat.
	payload := make([]byte, len(p))
	copy(payload, p)

	w.client.Publish(w.topic, 0, false, payload)
	return len(p), nil
}
