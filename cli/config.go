package cli

import (
	"github.com/spf13/viper"

	"flowline.dev/config"
)

// resolveConfig layers the bound viper flags/env/config-file values over
// config.LoadFromEnv()'s defaults, so a bare `orchctl serve` with no flags
// still works against environment variables alone (the same env names
// config.LoadFromEnv recognizes), while flags/config file can override.
func resolveConfig() config.OrchestrationConfig {
	cfg := config.LoadFromEnv()

	if v := viper.GetString("session_redis_url"); v != "" {
		cfg.SessionRedisURL = v
	}
	if v := viper.GetString("postgres_url"); v != "" {
		cfg.PostgresURL = v
	}
	if v := viper.GetString("nlu_url"); v != "" {
		cfg.NLUURL = v
	}
	if v := viper.GetString("llm_url"); v != "" {
		cfg.LLMURL = v
	}
	if v := viper.GetString("llm_model"); v != "" {
		cfg.LLMModel = v
	}
	if v := viper.GetString("rabbitmq_url"); v != "" {
		cfg.RabbitMQURL = v
	}
	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.JWTSecret = v
	}
	if v := viper.GetString("admin_api_key"); v != "" {
		cfg.AdminAPIKey = v
	}

	return cfg
}

func portOrDefault() string {
	if p := viper.GetString("port"); p != "" {
		return p
	}
	return "8080"
}

// validate checks that the fields every command touches resolve to
// something usable, returning the config.Validator's error, suitable for
// ExitValidationError.
func validate(cfg config.OrchestrationConfig, requirePostgres bool) error {
	v := config.NewValidator()
	v.RequireString("session-redis-url", cfg.SessionRedisURL)
	if requirePostgres {
		v.RequireString("postgres-url", cfg.PostgresURL)
	}
	return v.Validate()
}
