package config

// TransportSettings holds configuration for connecting to the messaging transport.
type TransportSettings struct {
	Type string `mapstructure:"type" validate:"required,oneof=rabbitmq gcp-pubsub kafka"`

	// RabbitMQ
	URL               string `mapstructure:"url" validate:"required_if=Type rabbitmq"`
	Exchange          string `mapstructure:"exchange"`
	InboundQueue      string `mapstructure:"inbound_queue"`
	InboundRoutingKey string `mapstructure:"inbound_routing_key"`
	PoolSize          int    `mapstructure:"pool_size" validate:"omitempty,min=1"`

	// GCP Pub/Sub
	ProjectID    string `mapstructure:"project_id" validate:"required_if=Type gcp-pubsub"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`

	// Kafka
	Brokers      []string `mapstructure:"brokers" validate:"required_if=Type kafka"`
	InboundTopic string   `mapstructure:"inbound_topic"`
	GroupID      string   `mapstructure:"group_id"`
}
