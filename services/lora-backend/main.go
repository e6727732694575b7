package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"lora-backend/internal/api"
	"lora-backend/internal/config"
	"lora-backend/internal/ingest"
	"lora-backend/internal/logging"
	"lora-backend/internal/metrics"
	"lora-backend/internal/mqttx"
	"lora-backend/internal/query"
	"lora-backend/internal/sink"
	"lora-backend/internal/store"
	"lora-backend/internal/sysinfo"
)

const serviceName = "lora-backend"

func main() {
	if err := run(); err != nil {
		slog.Error("Služba skončila s chybou", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("konfigurace: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MQTT klient musí vzniknout dřív než logger, aby šly logy i do MQTT.
	// Klient sám loguje jen na stdout.
	bootLogger := logging.New(cfg.LogLevel, os.Stdout)
	var (
		client mqtt.Client
		sub    *mqttx.Subscriber
	)
	writers := []io.Writer{os.Stdout}
	if cfg.MQTTEnabled() {
		client = mqttx.NewClient(mqttx.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			OnConnect: func(c mqtt.Client) {
				// po reconnectu je potřeba odběr obnovit
				if sub != nil {
					sub.Subscribe(c)
				}
			},
		}, bootLogger)
		writers = append(writers, logging.NewMqttLogWriter(client, serviceName))
	}

	logger := logging.New(cfg.LogLevel, writers...)
	slog.SetDefault(logger)
	logger.Info("Startuji LoRa backend",
		"port", cfg.HTTPPort,
		"store", cfg.Store.Driver,
		"mqtt", cfg.MQTTEnabled(),
	)

	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresURL: cfg.Store.PostgresURL,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("nelze otevřít úložiště: %w", err)
	}
	defer st.Close()

	m := metrics.New()

	ingestOpts := []ingest.Option{ingest.WithLogger(logger), ingest.WithMetrics(m)}
	var dispatcher *sink.Dispatcher
	if sinks := buildSinks(ctx, cfg, client, logger); len(sinks) > 0 {
		dispatcher = sink.NewDispatcher(logger, m, cfg.Sinks.QueueSize, cfg.Sinks.Timeout, sinks...)
		ingestOpts = append(ingestOpts, ingest.WithPublisher(dispatcher))
	}

	ing := ingest.New(st, ingestOpts...)
	q := query.New(st)

	monitor := sysinfo.NewMonitor(logger, diskPath(cfg), cfg.MonitorInterval, systemPublisher(cfg, client, logger))

	handler := api.NewHandler(ing, q, logger, api.WithMetrics(m), api.WithHealth(monitor))
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server běží", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Ukončuji službu...")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	g.Go(func() error { return monitor.Run(gctx) })

	if client != nil {
		sub = mqttx.NewSubscriber(ing, cfg.MQTT.TopicPrefix, logger, mqttx.ClientPublisher(client))

		g.Go(func() error {
			err := mqttx.ConnectWithBackoff(gctx, client, logger, time.Second, 30*time.Second)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()

	// Pořadí: nejdřív zastavit příjem, pak dopsat frontu sinků, nakonec zavřít store (defer).
	if client != nil {
		client.Disconnect(250)
	}
	if dispatcher != nil {
		if serr := dispatcher.Stop(); serr != nil {
			logger.Warn("Chyba při zavírání sinků", "error", serr)
		}
	}
	logger.Info("Služba ukončena")
	return err
}

// diskPath: disk, jehož zaplnění hlídá monitor (adresář SQLite databáze, jinak /).
func diskPath(cfg config.Config) string {
	if cfg.Store.Driver == "sqlite" {
		return filepath.Dir(cfg.Store.SQLitePath)
	}
	return "/"
}

// systemPublisher posílá metriky hostitele do <system_topic>/<metrika>.
// Bez MQTT nebo topicu vrací nil.
func systemPublisher(cfg config.Config, client mqtt.Client, logger *slog.Logger) sysinfo.PublishFunc {
	if client == nil || cfg.MQTT.SystemTopic == "" {
		return nil
	}
	return func(metric, value string) {
		if !client.IsConnectionOpen() {
			return
		}
		topic := cfg.MQTT.SystemTopic + "/" + metric
		client.Publish(topic, 0, false, value)
		logger.Debug("Metrika odeslána", "topic", topic, "val", value)
	}
}
