package config

import (
	"fmt"

	"courier/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func applyDefaults(cfg *Config) {
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = constants.DefaultMaxAttempts
	}
	if cfg.Delivery.BaseBackoff == 0 {
		cfg.Delivery.BaseBackoff = constants.DefaultBaseBackoff
	}
	if cfg.Delivery.MaxBackoff == 0 {
		cfg.Delivery.MaxBackoff = constants.DefaultMaxBackoff
	}
	if cfg.Delivery.FailRate == 0 {
		cfg.Delivery.FailRate = constants.DefaultFailRate
	}
	if cfg.LogSink.StartupTimeout == 0 {
		cfg.LogSink.StartupTimeout = constants.DefaultPrimaryStartupTimeout
	}
	if cfg.LogSink.HealthCheckInterval == 0 {
		cfg.LogSink.HealthCheckInterval = constants.DefaultHealthCheckInterval
	}
	if cfg.LogSink.HealthCheckTimeout == 0 {
		cfg.LogSink.HealthCheckTimeout = constants.DefaultHealthCheckTimeout
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = constants.LogIndexName
	}
	if cfg.Database.MongoDB.Database == "" {
		cfg.Database.MongoDB.Database = constants.DefaultMongoDBName
	}
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDelivery(cfg.Delivery); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type %q", cfg.Type),
		}
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one broker address is required",
		}
	}

	if cfg.Kafka.MaxInFlight < 0 {
		return &ValidationError{
			Field:   "broker.kafka.max_in_flight",
			Message: "max in-flight messages cannot be negative",
		}
	}

	return nil
}

func validateDelivery(cfg DeliveryConfig) error {
	if cfg.Channel != "" {
		allowed := false
		for _, ch := range constants.AllowedChannels() {
			if cfg.Channel == ch {
				allowed = true
				break
			}
		}
		if !allowed {
			return &ValidationError{
				Field:   "delivery.channel",
				Message: fmt.Sprintf("unknown channel %q", cfg.Channel),
			}
		}
	}

	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "delivery.max_attempts",
			Message: "max attempts must be at least 1",
		}
	}

	if cfg.FailRate < 0 || cfg.FailRate > 1 {
		return &ValidationError{
			Field:   "delivery.fail_rate",
			Message: fmt.Sprintf("fail rate must be within [0,1], got %v", cfg.FailRate),
		}
	}

	if cfg.MaxBackoff > 0 && cfg.MaxBackoff < cfg.BaseBackoff {
		return &ValidationError{
			Field:   "delivery.max_backoff",
			Message: "max backoff cannot be smaller than base backoff",
		}
	}

	return nil
}
