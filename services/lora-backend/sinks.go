package main

import (
	"context"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lora-backend/internal/config"
	"lora-backend/internal/sink"
)

// buildSinks zapne ty sinky, které mají v konfiguraci adresu.
// Nedostupný Valkey není fatální, backend běží dál bez live cache.
func buildSinks(ctx context.Context, cfg config.Config, client mqtt.Client, logger *slog.Logger) []sink.Sink {
	var sinks []sink.Sink

	if cfg.ValkeyEnabled() {
		rs, err := sink.NewRedisSink(ctx, cfg.Sinks.ValkeyAddr)
		if err != nil {
			logger.Warn("Valkey sink vypnut", "addr", cfg.Sinks.ValkeyAddr, "error", err)
		} else {
			sinks = append(sinks, rs)
		}
	}

	if cfg.KafkaEnabled() {
		sinks = append(sinks, sink.NewKafkaSink(sink.KafkaConfig{
			Brokers:      cfg.Sinks.KafkaBrokers,
			Topic:        cfg.Sinks.KafkaTopic,
			Compression:  cfg.Sinks.KafkaCompression,
			RequiredAcks: cfg.Sinks.KafkaAcks,
		}))
	}

	if cfg.InfluxEnabled() {
		sinks = append(sinks, sink.NewInfluxSink(sink.InfluxConfig{
			URL:    cfg.Sinks.InfluxURL,
			Token:  cfg.Sinks.InfluxToken,
			Org:    cfg.Sinks.InfluxOrg,
			Bucket: cfg.Sinks.InfluxBucket,
		}))
	}

	if client != nil && cfg.MQTT.OutputTopic != "" {
		sinks = append(sinks, sink.NewMQTTSink(client, cfg.MQTT.OutputTopic))
	}

	for _, s := range sinks {
		logger.Info("Sink aktivní", "sink", s.Name())
	}
	return sinks
}
