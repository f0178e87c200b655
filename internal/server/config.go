package server

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfig builds the viper instance every component reads from. A config
// file is optional; defaults below describe a working single-node setup.
// Environment variables override file values with the POLLEN prefix, for
// example POLLEN_SERVER_PORT=5001.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/pollenisator.db")

	v.SetDefault("modules.entities.enabled", true)
	v.SetDefault("modules.triggers.enabled", true)
	v.SetDefault("modules.fleet.enabled", true)
	v.SetDefault("modules.fleet.sweep_interval", "15s")
	v.SetDefault("modules.autoscan.enabled", true)
	v.SetDefault("modules.autoscan.tick_interval", "5s")
	v.SetDefault("modules.ingest.enabled", true)
	v.SetDefault("modules.ingest.results_dir", "./data/results")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pollenisator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/pollenisator")
	}

	v.SetEnvPrefix("POLLEN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}
