package main

import "github.com/tim-br/diakonos/internal/config"

func daemonConfig() *config.Config {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		cfg = &config.Config{}
	}
	return cfg.WithDefaults()
}
