package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server settings. Empty backend addresses disable the
// corresponding backend.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		Workers int      `mapstructure:"workers"`
	} `mapstructure:"kafka"`
	Hub struct {
		SnapshotEvery int `mapstructure:"snapshotEvery"`
		HistoryLimit  int `mapstructure:"historyLimit"`
	} `mapstructure:"hub"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "richtext-ops")
	v.SetDefault("kafka.workers", 2)
	v.SetDefault("hub.snapshotEvery", 50)
	v.SetDefault("hub.historyLimit", 1000)
}

// Load reads collab.yaml from the given directories (./config and . when
// none are given). A missing file leaves the defaults in place. Every key
// can be overridden from the environment as COLLAB_<SECTION>_<KEY>.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("collab")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Hub.SnapshotEvery <= 0 {
		return nil, fmt.Errorf("hub.snapshotEvery must be positive, got %d", cfg.Hub.SnapshotEvery)
	}
	return &cfg, nil
}
