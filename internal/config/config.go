package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	Signaling SignalingConfig `mapstructure:"signaling"`
	Room      RoomConfig      `mapstructure:"room"`
	Call      CallConfig      `mapstructure:"call"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Redis     RedisConfig     `mapstructure:"redis"`

	ICEServers    []string `mapstructure:"ice_servers"`
	ICEUsername   string   `mapstructure:"ice_username"`
	ICECredential string   `mapstructure:"ice_credential"`
}

type SignalingConfig struct {
	URL          string        `mapstructure:"url"`
	BackendURL   string        `mapstructure:"backend_url"`
	UserID       string        `mapstructure:"user_id"`
	Ticket       string        `mapstructure:"ticket"`
	TicketSecret string        `mapstructure:"ticket_secret"`
	TicketTTL    time.Duration `mapstructure:"ticket_ttl"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	QueueWarn    int           `mapstructure:"queue_warn"`
}

type RoomConfig struct {
	Token          string `mapstructure:"token"`
	BackendSession string `mapstructure:"backend_session"`
}

type CallConfig struct {
	Nick           string        `mapstructure:"nick"`
	MaxICERestarts int           `mapstructure:"max_ice_restarts"`
	RejoinLimit    int           `mapstructure:"rejoin_limit"`
	RejoinInterval time.Duration `mapstructure:"rejoin_interval"`
}

type ReconnectConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Jitter       float64       `mapstructure:"jitter"`
}

// RedisConfig enables resume persistence when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
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

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Signaling: %s | Room: %s\n", cfg.Mode, cfg.Port, cfg.Signaling.URL, cfg.Room.Token)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("signaling.ticket_ttl", "1m")
	v.SetDefault("signaling.write_timeout", "10s")
	v.SetDefault("signaling.ping_period", "54s")
	v.SetDefault("signaling.read_limit", 1<<20)
	v.SetDefault("signaling.queue_warn", 64)
	v.SetDefault("call.nick", "guest")
	v.SetDefault("call.max_ice_restarts", 3)
	v.SetDefault("call.rejoin_limit", 5)
	v.SetDefault("call.rejoin_interval", "1m")
	v.SetDefault("reconnect.initial_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.jitter", 0.2)
	v.SetDefault("redis.ttl", "24h")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Signaling.BackendURL == "" {
		cfg.Signaling.BackendURL = cfg.Signaling.URL
	}
	return &cfg, nil
}
