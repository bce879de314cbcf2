// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the unmarshaled application configuration.
type Config struct {
	Version string

	// Tracker
	BaseURL string `mapstructure:"baseUrl"`
	APIKey  string `mapstructure:"apiKey"`

	// Pool database
	DataDir  string `mapstructure:"dataDir"`
	PoolPath string `mapstructure:"poolPath"`

	// Media library (Plex) holdings, read-only
	PlexDatabase string `mapstructure:"plexDatabase"`

	// Download client (qBittorrent)
	QbitHost          string `mapstructure:"qbitHost"`
	QbitUsername      string `mapstructure:"qbitUsername"`
	QbitPassword      string `mapstructure:"qbitPassword"`
	QbitCategory      string `mapstructure:"qbitCategory"`
	QbitTLSSkipVerify bool   `mapstructure:"qbitTlsSkipVerify"`

	// Pipeline tuning
	FetchRetries     int `mapstructure:"fetchRetries"`
	DispatchWorkers  int `mapstructure:"dispatchWorkers"`
	DispatchAttempts int `mapstructure:"dispatchAttempts"`
	DownloadLimit    int `mapstructure:"downloadLimit"`

	// Logging
	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`
}
