package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string `mapstructure:"mode"`
	Port        int    `mapstructure:"port"`
	ControlPort int    `mapstructure:"control_port"`
	RelayURL    string `mapstructure:"relay_url"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`

	ICEServers           []string `mapstructure:"ice_servers"`
	ICECandidatePoolSize uint8    `mapstructure:"ice_candidate_pool_size"`

	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	MaxHeldCandidates  int           `mapstructure:"max_held_candidates"`

	CallRateLimit  int           `mapstructure:"call_rate_limit"`
	CallRateWindow time.Duration `mapstructure:"call_rate_window"`
}

// EnvPrefix namespaces environment overrides, e.g. PEERCALL_RELAY_URL.
const EnvPrefix = "PEERCALL"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("control_port", 8081)
	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/relay")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("ice_servers", []string{
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	})
	v.SetDefault("ice_candidate_pool_size", 10)
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("max_held_candidates", 256)
	v.SetDefault("call_rate_limit", 5)
	v.SetDefault("call_rate_window", "1m")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of the
// defaults; PEERCALL_* variables override both and set flags in fs, which
// may be nil, override everything.
func Load(fs *pflag.FlagSet) (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env), fs)
}

func LoadFile(fileName string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("control_port", cfg.ControlPort).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("config: ping_period must be positive")
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("config: negotiation_timeout must not be negative")
	}
	return nil
}
