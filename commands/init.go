package commands

import (
	"context"
	"os"

	"dtnd/config"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a config file with default settings. An existing file is left alone.
func RunInit(ctx context.Context, cfg *config.Config) {
	if _, err := os.Stat(cfg.Path()); err == nil {
		log.Fatalf("Config file %s already exists", cfg.Path())
	}
	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	log.Infof("Node %s initialized, edit %s before running serve", cfg.Node.EID, cfg.Path())
}
