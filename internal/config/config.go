package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	QuestionSets struct {
		TTL string `yaml:"ttl"`
	} `yaml:"question_sets"`
	Game struct {
		PinLength   int    `yaml:"pin_length"`
		MaxSessions int    `yaml:"max_sessions"`
		MinPlayers  int    `yaml:"min_players"`
		BaseScore   int    `yaml:"base_score"`
		TimeLimit   string `yaml:"time_limit"`
		HostGrace   string `yaml:"host_grace"`
	} `yaml:"game"`
	History struct {
		MaxRetries  uint64 `yaml:"max_retries"`
		MaxInterval string `yaml:"max_interval"`
	} `yaml:"history"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty
// or malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
