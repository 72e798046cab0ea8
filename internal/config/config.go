// Package config loads the indexer's static process configuration and
// exposes the durable cursor store used by the sync driver and live feed.
//
// Grounded on pkg/config/config.go (viper.SetConfigName/AddConfigPath/
// AutomaticEnv + mapstructure-tagged struct) and cmd/explorer/main.go
// (godotenv.Load before viper.AutomaticEnv). SPEC_FULL.md §10.3 splits the
// distilled spec's single flat key/value store into this static layer plus
// the durable Cursors in cursor.go.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Source is one prioritized HTTP block source: a host template containing
// "{block}" and a pre-request wait in seconds.
type Source struct {
	Host string  `mapstructure:"host" json:"host"`
	Wait float64 `mapstructure:"wait" json:"wait"`
}

// Config is the indexer's static process configuration, loaded once at
// startup. Mutable sync cursors live in the durable Cursors instead.
type Config struct {
	Store struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	Sync struct {
		RetrieveFrom    []Source `mapstructure:"retrieve_from"`
		BlockDir        string   `mapstructure:"block_dir"`
		SaveBlocksFile  bool     `mapstructure:"save_blocks_to_file"`
		GenesisDir      string   `mapstructure:"genesis_block_dir"`
		JobIntervalSync int      `mapstructure:"job_interval_sync"`
	} `mapstructure:"sync"`

	WS struct {
		Masternode    string `mapstructure:"masternode"`
		Timeout       int    `mapstructure:"timeout"`
		PingInterval  int    `mapstructure:"ping_interval"`
		PingTimeout   int    `mapstructure:"ping_timeout"`
		ReconnectWait int    `mapstructure:"reconnect"`
	} `mapstructure:"ws"`

	Notify struct {
		TelegramToken  string `mapstructure:"telegram_token"`
		TelegramChatID string `mapstructure:"telegram_chat_id"`
	} `mapstructure:"notify"`

	ReadAPI struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"read_api"`

	Status struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"status"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Load reads config/<env>.yaml (merged over config/default.yaml) and any
// INDEXER_-prefixed environment overrides, mirroring pkg/config.Load.
func Load(env string) (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	viper.SetEnvPrefix("INDEXER")
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
