package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LiveTTL je doba, po které zmizí z cache zařízení, která už nic neposílají.
const LiveTTL = 24 * time.Hour

// RedisSink drží v Valkey/Redis poslední hodnotu každého nodu a gatewaye ("Hot Storage").
// Dashboard tak nemusí kvůli aktuálnímu stavu procházet celou historii.
type RedisSink struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSink se připojí k Valkey a ověří spojení.
func NewRedisSink(ctx context.Context, addr string) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("Valkey není dostupný: %w", err)
	}
	return &RedisSink{rdb: rdb, ttl: LiveTTL}, nil
}

// NodeKey vrací klíč s posledním readingem nodu, např. "node:last:S1".
func NodeKey(nodeID string) string { return "node:last:" + nodeID }

// GatewayKey vrací klíč s posledním stavem gatewaye.
func GatewayKey(gatewayID string) string { return "gateway:status:" + gatewayID }

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	key, fields, err := liveFields(e)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}

	// HSET + EXPIRE v jedné transakci, aby klíč nikdy nezůstal bez TTL.
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fields)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("chyba update Valkey (%s): %w", key, err)
	}
	return nil
}

func (s *RedisSink) Close() error { return s.rdb.Close() }

// liveFields převede událost na klíč a pole hashe.
func liveFields(e Event) (string, map[string]any, error) {
	switch {
	case e.Reading != nil:
		r := e.Reading
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return "", nil, err
		}
		fields := map[string]any{
			"gateway_id":  r.GatewayID,
			"node_type":   r.NodeType,
			"sequence":    strconv.FormatInt(r.Sequence, 10),
			"rssi":        strconv.Itoa(r.RSSI),
			"snr":         strconv.FormatFloat(r.SNR, 'f', -1, 64),
			"payload":     string(payload),
			"received_at": r.ReceivedAt.Format(time.RFC3339Nano),
		}
		if e.Device != nil {
			fields["total_packets"] = strconv.FormatInt(e.Device.TotalPackets, 10)
		}
		return NodeKey(r.NodeID), fields, nil

	case e.Status != nil:
		st := e.Status
		return GatewayKey(st.GatewayID), map[string]any{
			"uptime_s":    strconv.FormatInt(st.UptimeS, 10),
			"packets_rx":  strconv.FormatInt(st.PacketsRx, 10),
			"packets_fwd": strconv.FormatInt(st.PacketsFwd, 10),
			"wifi_rssi":   strconv.Itoa(st.WifiRSSI),
			"free_heap":   strconv.FormatInt(st.FreeHeap, 10),
			"received_at": st.ReceivedAt.Format(time.RFC3339Nano),
		}, nil
	}
	return "", nil, nil
}
