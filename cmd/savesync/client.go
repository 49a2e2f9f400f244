package main

import (
	"fmt"
	"strings"

	"savesync/internal/api"
	"savesync/internal/config"
)

func withClient(cfg *config.Config, fn func(*api.Client) error) error {
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		return fmt.Errorf("api_url is required")
	}
	return fn(api.NewClient(cfg.APIURL, cfg.Token))
}
