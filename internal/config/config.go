// Package config načítá nastavení služeb podle 12-factor: výchozí hodnoty,
// volitelný YAML soubor (LORA_CONFIG) a nakonec ENV proměnné, které mají přednost.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config drží veškeré nastavení backendu.
type Config struct {
	// HTTPPort: port REST API (původní server běžel na 8081).
	HTTPPort string `yaml:"http_port"`

	Store   StoreConfig   `yaml:"store"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Sinks   SinkConfig    `yaml:"sinks"`
	Archive ArchiveConfig `yaml:"archive"`

	// Collector nastavuje službu log-collector.
	Collector CollectorConfig `yaml:"collector"`

	// MonitorInterval: perioda měření stavu hostitele pro /health a MQTT.
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	LogLevel string `yaml:"log_level"`
}

// StoreConfig vybírá backend úložiště.
type StoreConfig struct {
	Driver      string `yaml:"driver"` // sqlite, postgres, memory
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
}

// MQTTConfig: prázdný Broker znamená, že MQTT transport i logování do MQTT jsou vypnuté.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TopicPrefix: gatewaye publikují do <prefix>/<gateway>/sensor-data|status.
	TopicPrefix string `yaml:"topic_prefix"`

	// OutputTopic: kam se republikují uložené události (prázdné = vypnuto).
	OutputTopic string `yaml:"output_topic"`

	// SystemTopic: kam monitor posílá metriky hostitele (prázdné = vypnuto).
	SystemTopic string `yaml:"system_topic"`
}

// SinkConfig: každý sink je aktivní, jen když má vyplněnou adresu.
type SinkConfig struct {
	ValkeyAddr string `yaml:"valkey_addr"`

	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaTopic       string   `yaml:"kafka_topic"`
	KafkaCompression string   `yaml:"kafka_compression"`
	KafkaAcks        string   `yaml:"kafka_acks"`

	InfluxURL    string `yaml:"influx_url"`
	InfluxToken  string `yaml:"influx_token"`
	InfluxOrg    string `yaml:"influx_org"`
	InfluxBucket string `yaml:"influx_bucket"`

	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ArchiveConfig je cíl pro `lora-query archive` (MinIO / S3).
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	BasePath  string `yaml:"base_path"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CollectorConfig: odkud log-collector bere logy a kam je zapisuje.
type CollectorConfig struct {
	Topic string `yaml:"topic"`
	Dir   string `yaml:"dir"`
}

// Default vrací konfiguraci pro lokální vývoj (SQLite, bez MQTT a sinků).
func Default() Config {
	return Config{
		HTTPPort: "8081",
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/lora_data.db",
		},
		MQTT: MQTTConfig{
			ClientID:    "lora-backend",
			TopicPrefix: "lora",
		},
		Sinks: SinkConfig{
			KafkaTopic:       "lora-events",
			KafkaCompression: "snappy",
			KafkaAcks:        "one",
			QueueSize:        1024,
			Timeout:          5 * time.Second,
		},
		Archive: ArchiveConfig{
			Bucket:   "lora-archive",
			BasePath: "readings",
		},
		Collector: CollectorConfig{
			Topic: "logs/#",
			Dir:   "/var/log/lora",
		},
		MonitorInterval: time.Minute,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
}

// Load: Default -> YAML soubor (path, pokud není prázdná) -> ENV -> Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// LoadConfig je Load s cestou z LORA_CONFIG.
func LoadConfig() (Config, error) {
	return Load(os.Getenv("LORA_CONFIG"))
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MonitorInterval = getEnvDuration("MONITOR_INTERVAL", c.MonitorInterval)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.PostgresURL = getEnv("POSTGRES_URL", c.Store.PostgresURL)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)
	c.MQTT.OutputTopic = getEnv("MQTT_OUTPUT_TOPIC", c.MQTT.OutputTopic)
	c.MQTT.SystemTopic = getEnv("MQTT_SYSTEM_TOPIC", c.MQTT.SystemTopic)

	c.Sinks.ValkeyAddr = getEnv("VALKEY_ADDR", c.Sinks.ValkeyAddr)
	c.Sinks.KafkaBrokers = getEnvList("KAFKA_BROKERS", c.Sinks.KafkaBrokers)
	c.Sinks.KafkaTopic = getEnv("KAFKA_TOPIC", c.Sinks.KafkaTopic)
	c.Sinks.KafkaCompression = getEnv("KAFKA_COMPRESSION", c.Sinks.KafkaCompression)
	c.Sinks.KafkaAcks = getEnv("KAFKA_REQUIRED_ACKS", c.Sinks.KafkaAcks)
	c.Sinks.InfluxURL = getEnv("INFLUX_URL", c.Sinks.InfluxURL)
	c.Sinks.InfluxToken = getEnv("INFLUX_TOKEN", c.Sinks.InfluxToken)
	c.Sinks.InfluxOrg = getEnv("INFLUX_ORG", c.Sinks.InfluxOrg)
	c.Sinks.InfluxBucket = getEnv("INFLUX_BUCKET", c.Sinks.InfluxBucket)
	c.Sinks.QueueSize = getEnvInt("SINK_QUEUE_SIZE", c.Sinks.QueueSize)
	c.Sinks.Timeout = getEnvDuration("SINK_TIMEOUT", c.Sinks.Timeout)

	c.Archive.Endpoint = getEnv("MINIO_ENDPOINT", c.Archive.Endpoint)
	c.Archive.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Archive.AccessKey)
	c.Archive.SecretKey = getEnv("MINIO_SECRET_KEY", c.Archive.SecretKey)
	c.Archive.Bucket = getEnv("MINIO_BUCKET", c.Archive.Bucket)
	c.Archive.BasePath = getEnv("MINIO_BASE_PATH", c.Archive.BasePath)
	c.Archive.UseSSL = getEnvBool("MINIO_USE_SSL", c.Archive.UseSSL)

	c.Collector.Topic = getEnv("LOG_TOPIC", c.Collector.Topic)
	c.Collector.Dir = getEnv("LOG_DIR", c.Collector.Dir)
}

// Validate vrátí všechny problémy najednou, ne jen první.
func (c Config) Validate() error {
	var errs []error

	if p, err := strconv.Atoi(c.HTTPPort); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT: neplatný port %q", c.HTTPPort))
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH: chybí cesta k databázi"))
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL: povinné pro STORE_DRIVER=postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: neznámý driver %q", c.Store.Driver))
	}

	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		errs = append(errs, errors.New("MQTT_TOPIC_PREFIX: nesmí být prázdný"))
	}
	if len(c.Sinks.KafkaBrokers) > 0 && c.Sinks.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC: povinné s KAFKA_BROKERS"))
	}
	if c.Sinks.InfluxURL != "" && (c.Sinks.InfluxOrg == "" || c.Sinks.InfluxBucket == "") {
		errs = append(errs, errors.New("INFLUX_ORG, INFLUX_BUCKET: povinné s INFLUX_URL"))
	}
	if c.Sinks.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("SINK_QUEUE_SIZE: musí být > 0, je %d", c.Sinks.QueueSize))
	}
	if c.Sinks.Timeout <= 0 {
		errs = append(errs, errors.New("SINK_TIMEOUT: musí být > 0"))
	}
	if c.MonitorInterval <= 0 {
		errs = append(errs, errors.New("MONITOR_INTERVAL: musí být > 0"))
	}

	return errors.Join(errs...)
}

// Pomocné dotazy, které říkají, co má main zapnout.
func (c Config) MQTTEnabled() bool   { return c.MQTT.Broker != "" }
func (c Config) KafkaEnabled() bool  { return len(c.Sinks.KafkaBrokers) > 0 }
func (c Config) InfluxEnabled() bool { return c.Sinks.InfluxURL != "" }
func (c Config) ValkeyEnabled() bool { return c.Sinks.ValkeyAddr != "" }

// getEnv: pokud klíč v OS neexistuje, vrátí fallback.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList čte seznam oddělený čárkami. Prázdná proměnná = prázdný seznam.
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
