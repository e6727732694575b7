// log-collector odebírá logy služeb z MQTT (logs/<služba>) a zapisuje je
// do souborů <LOG_DIR>/<služba>.log.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lora-backend/internal/config"
	"lora-backend/internal/logging"
	"lora-backend/internal/mqttx"
)

func main() {
	// Collector loguje jen na stdout, do MQTT by posílal sám sobě.
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Stdout)
	if err := run(logger); err != nil {
		logger.Error("Log Collector skončil s chybou", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("konfigurace: %w", err)
	}
	if !cfg.MQTTEnabled() {
		return errors.New("MQTT_BROKER je povinný")
	}

	collector, err := logging.NewCollector(cfg.Collector.Dir)
	if err != nil {
		return err
	}
	logger.Info("Startuji Log Collector", "dir", cfg.Collector.Dir, "topic", cfg.Collector.Topic)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := messageHandler(collector, logger)
	client := mqttx.NewClient(mqttx.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID + "-log-collector",
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		OnConnect: func(c mqtt.Client) {
			if token := c.Subscribe(cfg.Collector.Topic, 0, handler); token.Wait() && token.Error() != nil {
				logger.Error("Subscribe selhal", "topic", cfg.Collector.Topic, "error", token.Error())
				return
			}
			logger.Info("Poslouchám logy", "topic", cfg.Collector.Topic)
		},
	}, logger)

	if err := mqttx.ConnectWithBackoff(ctx, client, logger, time.Second, 30*time.Second); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	logger.Info("Ukončuji Log Collector")
	return nil
}

// messageHandler se spustí pro každou logovací zprávu z jakékoliv služby.
// Chybná zpráva se jen zaloguje, collector běží dál.
func messageHandler(c *logging.Collector, logger *slog.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.Append(msg.Topic(), msg.Payload()); err != nil {
			logger.Warn("Log nezapsán", "topic", msg.Topic(), "error", err)
		}
	}
}
