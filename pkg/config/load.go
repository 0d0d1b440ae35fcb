package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// PAGEQUERY_ENVIRONMENTS_APP_BASE_URL.
const EnvPrefix = "PAGEQUERY"

// Load reads a bootstrap configuration from a YAML file and the environment.
// An empty path reads the environment only.
func Load(path string) (Bootstrap, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBootstrap("")
	v.SetDefault("environments.app_base_url", "")
	v.SetDefault("environments.app_timeout", defaults.Environments.AppTimeout)
	v.SetDefault("context", string(defaults.Context))
	v.SetDefault("model_config.id_column", defaults.ModelConfig.IDColumn)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Bootstrap{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Bootstrap
	if err := v.Unmarshal(&cfg); err != nil {
		return Bootstrap{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Bootstrap{}, err
	}

	log.Debug().
		Str("base_url", cfg.Environments.AppBaseURL).
		Str("context", string(cfg.Context)).
		Msg("Configuration loaded")

	return cfg, nil
}
