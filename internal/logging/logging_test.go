package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeClient struct {
	mqtt.Client
	connected bool
	topics    []string
	payloads  [][]byte
}

func (f *fakeClient) IsConnectionOpen() bool { return f.connected }

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return nil
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerFansOutToMQTT(t *testing.T) {
	var stdout bytes.Buffer
	client := &fakeClient{connected: true}
	w := NewMqttLogWriter(client, "lora-backend")

	logger := New("info", &stdout, w)
	logger.Debug("hidden")
	logger.Info("Startuji", "port", "8081")

	if len(client.payloads) != 1 || client.topics[0] != "logs/lora-backend" {
		t.Fatalf("published %v", client.topics)
	}
	if !bytes.Equal(client.payloads[0], stdout.Bytes()) {
		t.Errorf("mqtt payload %q != stdout %q", client.payloads[0], stdout.Bytes())
	}
	if !strings.Contains(stdout.String(), `"msg":"Startuji"`) {
		t.Errorf("stdout = %s", stdout.String())
	}
}

func TestMqttLogWriterSkipsWhenDisconnected(t *testing.T) {
	client := &fakeClient{}
	n, err := NewMqttLogWriter(client, "svc").Write([]byte("line\n"))
	if err != nil || n != 5 {
		t.Errorf("Write = %d, %v", n, err)
	}
	if len(client.payloads) != 0 {
		t.Error("published while disconnected")
	}
}

func TestServiceFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{"logs/lora-backend", "lora-backend", false},
		{"logs/sensor/info", "sensor", false},
		{"logs/../../etc", "", true},
		{"logs/a b", "a_b", false},
		{"logs", "", true},
		{"other/svc", "", true},
	}
	for _, tt := range tests {
		got, err := ServiceFromTopic(tt.topic)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ServiceFromTopic(%q) = %q, %v", tt.topic, got, err)
		}
	}
}

func TestCollectorAppend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	c, err := NewCollector(dir)
	if err != nil {
		t.Fatal(err)
	}

	c.Append("logs/lora-backend", []byte(`{"msg":"a"}`+"\n"))
	c.Append("logs/lora-backend", []byte(`{"msg":"b"}`))
	if err := c.Append("bad", []byte("x")); err == nil {
		t.Error("bad topic accepted")
	}

	b, err := os.ReadFile(filepath.Join(dir, "lora-backend.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "{\"msg\":\"a\"}\n{\"msg\":\"b\"}\n" {
		t.Errorf("log file = %q", b)
	}
}
