package sink

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurementy v InfluxDB.
const (
	ReadingMeasurement = "lora_reading"
	StatusMeasurement  = "gateway_status"
)

// InfluxConfig určuje cílový bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink zrcadlí readingy do InfluxDB pro grafy v reálném čase.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink vytvoří klienta s blokujícím write API.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (s *InfluxSink) Name() string { return "influxdb" }

func (s *InfluxSink) Publish(ctx context.Context, e Event) error {
	p := BuildPoint(e)
	if p == nil {
		return nil
	}
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

// BuildPoint převede událost na bod. Tagy jsou identifikátory, pole jsou
// metriky spoje a skalární hodnoty z payloadu (vnořené klíče spojené "_").
func BuildPoint(e Event) *write.Point {
	switch {
	case e.Reading != nil:
		r := e.Reading
		tags := map[string]string{
			"gateway_id": r.GatewayID,
			"node_id":    r.NodeID,
			"node_type":  r.NodeType,
		}

		flat := make(map[string]any)
		flatten("", r.Payload, flat)

		fields := make(map[string]any, len(flat)+3)
		for k, v := range flat {
			if fv, ok := normalizeFieldValue(v); ok {
				fields["data_"+sanitizeFieldKey(k)] = fv
			}
		}
		fields["rssi"] = int64(r.RSSI)
		fields["snr"] = r.SNR
		fields["sequence"] = r.Sequence

		return write.NewPoint(ReadingMeasurement, tags, fields, r.ReceivedAt)

	case e.Status != nil:
		st := e.Status
		return write.NewPoint(StatusMeasurement,
			map[string]string{"gateway_id": st.GatewayID},
			map[string]any{
				"uptime_s":    st.UptimeS,
				"packets_rx":  st.PacketsRx,
				"packets_fwd": st.PacketsFwd,
				"wifi_rssi":   int64(st.WifiRSSI),
				"free_heap":   st.FreeHeap,
			},
			st.ReceivedAt)
	}
	return nil
}

// flatten: vnořené objekty -> klíče spojené "_". Pole se ignorují.
func flatten(prefix string, v any, out map[string]any) {
	key := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "_" + k
	}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			flatten(key(k), val, out)
		}
	case []any:
		// InfluxDB nemá typ pole, a spojovat hodnoty do stringu by jen plnilo kardinalitu.
	default:
		if prefix != "" {
			out[prefix] = t
		}
	}
}

func normalizeFieldValue(v any) (any, bool) {
	switch x := v.(type) {
	case float64, bool, string:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		// pole v InfluxDB musí mít stálý typ, celá i desetinná čísla jdou jako float
		f, err := x.Float64()
		return f, err == nil
	default:
		return nil, false
	}
}

var fieldKeyRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func sanitizeFieldKey(k string) string {
	k = strings.TrimSpace(k)
	k = fieldKeyRe.ReplaceAllString(k, "_")
	k = strings.Trim(k, "_")
	if k == "" {
		return "field"
	}
	return k
}
