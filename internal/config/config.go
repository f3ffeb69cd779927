package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	// Link capacity model used for the per-room bitrate ceiling.
	NetworkInMbit  float64 `mapstructure:"network_in_mbit"`
	NetworkOutMbit float64 `mapstructure:"network_out_mbit"`
	MaxAudioMbit   float64 `mapstructure:"max_audio_bitrate_mbit"`

	EngineWorkers int `mapstructure:"engine_workers"`

	// Optional backends; empty values select in-memory fallbacks.
	MongoURI string `mapstructure:"mongo_uri"`
	MongoDB  string `mapstructure:"mongo_db"`
	AmqpURI  string `mapstructure:"amqp_uri"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")
	v.SetDefault("network_in_mbit", 100.0)
	v.SetDefault("network_out_mbit", 100.0)
	v.SetDefault("max_audio_bitrate_mbit", 0.0625)
	v.SetDefault("engine_workers", 1)
	v.SetDefault("mongo_db", "confa")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Workers: %d\n", cfg.Mode, cfg.Port, cfg.EngineWorkers)
	return &cfg, nil
}
