package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/rocketscienceinc/tictactoe-relay/internal/room"
)

type Config struct {
	LogLevel          string        `yaml:"log-level" env-default:"info"`
	StorePath         string        `yaml:"store-path" env-default:".tictactoe"`
	ChannelPrefix     string        `yaml:"channel-prefix" env-default:"tictactoe"`
	HeartbeatInterval time.Duration `yaml:"heartbeat-interval" env-default:"5s"`
	ResumePolicy      string        `yaml:"resume-policy" env-default:"resume"`
	Redis             Redis         `yaml:"redis"`
}

type Redis struct {
	Host string `yaml:"host" env-default:"localhost"`
	Port string `yaml:"port" env-default:"6379"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	if err := config.Validate(); err != nil {
		panic(err)
	}

	return config
}

func (that *Config) Validate() error {
	if !room.Policy(that.ResumePolicy).IsValid() {
		return fmt.Errorf("unknown resume policy %q, want %q or %q", that.ResumePolicy, room.PolicyResume, room.PolicyAbandon)
	}

	if that.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", that.HeartbeatInterval)
	}

	return nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
