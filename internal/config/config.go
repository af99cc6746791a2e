// Package config loads the relay server configuration: a TOML file,
// generated with defaults on first run, with environment overrides on
// top.
package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is the server's on-disk configuration. PrivateKey is reserved
// for a future handshake and unused by the current trust model.
type Config struct {
	Port       int    `toml:"port" env:"WORLDSYNC_PORT"`
	Bind       string `toml:"bind" env:"WORLDSYNC_BIND"`
	PrivateKey string `toml:"private_key" env:"WORLDSYNC_PRIVATE_KEY"`
	DiagAddr   string `toml:"diag_addr" env:"WORLDSYNC_DIAG_ADDR"`
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		Port:       3000,
		Bind:       "127.0.0.1",
		PrivateKey: "data/server.key",
	}
}

// Load reads the config file at path, creating it with defaults when
// missing, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		log.Printf("load config %s", path)
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else {
		log.Printf("generate default config %s", path)
		if err := write(path, cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}

func write(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Addr is the listen address for the relay listener.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
