// Package mqttx je MQTT transport: připojení k brokeru, odběr topiců gatewayí
// a předání zpráv ingest enginu.
package mqttx

import (
	"context"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Options nastavují připojení k brokeru.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// OnConnect se volá po každém (znovu)připojení. Sem patří Subscribe,
	// jinak se po reconnectu odběr ztratí.
	OnConnect func(c mqtt.Client)
}

// NewClient vytvoří klienta s automatickým reconnectem. Nepřipojuje se.
func NewClient(o Options, logger *slog.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("Připojeno k MQTT", "broker", o.Broker)
		if o.OnConnect != nil {
			o.OnConnect(c)
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("Spojení s MQTT ztraceno", "error", err)
	}
	return mqtt.NewClient(opts)
}

// ConnectWithBackoff zkouší připojení s exponenciálním odstupem, dokud se
// nepovede nebo není ctx zrušen. Opakování řídí jen tahle smyčka, klient
// nemá zapnutý ConnectRetry, takže token skončí po každém pokusu.
func ConnectWithBackoff(ctx context.Context, client mqtt.Client, logger *slog.Logger, start, max time.Duration) error {
	backoff := start
	for {
		token := client.Connect()
		select {
		case <-token.Done():
		case <-ctx.Done():
			client.Disconnect(0)
			return ctx.Err()
		}
		if token.Error() == nil {
			return nil
		}

		logger.Warn("MQTT connect selhal", "error", token.Error(), "retry_in", backoff)
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff = min(backoff*2, max)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
