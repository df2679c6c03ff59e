package config

import "time"

// DbSettings selects and configures the payment document store.
type DbSettings struct {
	Type         string        `mapstructure:"type" validate:"required,oneof=mongo postgres spanner"`
	URI          string        `mapstructure:"uri" validate:"required_unless=Type postgres"`
	DSN          string        `mapstructure:"dsn" validate:"required_if=Type postgres"`
	DBName       string        `mapstructure:"db_name" validate:"required_if=Type mongo"`
	Collection   string        `mapstructure:"collection" validate:"required"`
	PollInterval time.Duration `mapstructure:"poll_interval"` // spanner only
}
