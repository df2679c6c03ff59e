package config

import "time"

// RelaySettings tunes the relay controller and the transport session.
type RelaySettings struct {
	// Destination is the single recipient of notifications and the only
	// accepted command origin. Left empty, the relay still connects and logs
	// the groups it can see so an operator can pick one.
	Destination string `mapstructure:"destination"`

	StartPaused          bool          `mapstructure:"start_paused"`
	ConnectAttempts      int           `mapstructure:"connect_attempts" validate:"min=1"`
	ConnectRetryDelay    time.Duration `mapstructure:"connect_retry_delay" validate:"min=0"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" validate:"min=0"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" validate:"min=0"`
	DrainDelay           time.Duration `mapstructure:"drain_delay" validate:"min=0"`
	ResubscribeDelay     time.Duration `mapstructure:"resubscribe_delay" validate:"min=0"`
	QueueMaxSize         int           `mapstructure:"queue_max_size" validate:"min=0"`
	TemplateFile         string        `mapstructure:"template_file" validate:"omitempty,file"`
	Timezone             string        `mapstructure:"timezone" validate:"required,timezone"`
}
