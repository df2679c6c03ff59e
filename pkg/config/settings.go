package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

type Settings struct {
	Database      DbSettings        `mapstructure:"database"`
	Transport     TransportSettings `mapstructure:"transport"`
	Relay         RelaySettings     `mapstructure:"relay"`
	Observability Observability     `mapstructure:"observability"`
	Log           LogSettings       `mapstructure:"log"`
}

// envKeys lists every key that may be supplied through the environment.
var envKeys = []string{
	"database.type",
	"database.uri",
	"database.dsn",
	"database.db_name",
	"database.collection",
	"database.poll_interval",
	"transport.type",
	"transport.url",
	"transport.exchange",
	"transport.inbound_queue",
	"transport.inbound_routing_key",
	"transport.pool_size",
	"transport.project_id",
	"transport.topic",
	"transport.subscription",
	"transport.brokers",
	"transport.inbound_topic",
	"transport.group_id",
	"relay.destination",
	"relay.start_paused",
	"relay.connect_attempts",
	"relay.connect_retry_delay",
	"relay.max_reconnect_attempts",
	"relay.reconnect_delay",
	"relay.drain_delay",
	"relay.resubscribe_delay",
	"relay.queue_max_size",
	"relay.template_file",
	"relay.timezone",
	"observability.enabled",
	"observability.service_name",
	"observability.tracing_url",
	"observability.metrics_addr",
	"log.level",
	"log.format",
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// SetDefaults registers the built-in values used when neither the config
// file nor the environment provides a key.
func SetDefaults() {
	viper.SetDefault("database.collection", "payments")
	viper.SetDefault("database.poll_interval", 5*time.Second)
	viper.SetDefault("transport.type", "rabbitmq")
	viper.SetDefault("transport.exchange", "payment-relay")
	viper.SetDefault("transport.inbound_queue", "payment-relay.inbound")
	viper.SetDefault("transport.inbound_routing_key", "inbound")
	viper.SetDefault("transport.pool_size", 4)
	viper.SetDefault("transport.topic", "payment-relay-outbound")
	viper.SetDefault("transport.subscription", "payment-relay-inbound")
	viper.SetDefault("transport.inbound_topic", "payment-relay-inbound")
	viper.SetDefault("transport.group_id", "payment-relay")
	viper.SetDefault("relay.connect_attempts", 3)
	viper.SetDefault("relay.connect_retry_delay", 5*time.Second)
	viper.SetDefault("relay.max_reconnect_attempts", 5)
	viper.SetDefault("relay.reconnect_delay", 5*time.Second)
	viper.SetDefault("relay.drain_delay", 1*time.Second)
	viper.SetDefault("relay.resubscribe_delay", 10*time.Second)
	viper.SetDefault("relay.queue_max_size", 0)
	viper.SetDefault("relay.timezone", "UTC")
	viper.SetDefault("observability.service_name", "payment-relay")
	viper.SetDefault("observability.metrics_addr", ":9090")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
}

// BindFlags exposes command line overrides for a subset of keys.
func BindFlags(fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"log.level":         "log-level",
		"relay.destination": "destination",
	}
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func LoadFromFile(filePath string) (*Settings, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	SetDefaults()

	cfg := &Settings{}
	viper.SetConfigType("yaml")
	viper.SetConfigName("relay")
	viper.AddConfigPath(filePath)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		slog.Info("no config file found, relying on environment", "error", err)
	}

	if err := mergeConfig(filePath, "relay."+env); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load configuration from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like RELAY_TRANSPORT_TYPE

	for _, key := range envKeys {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}

	if err := viper.Unmarshal(c); err != nil {
		return err
	}
	return nil
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
