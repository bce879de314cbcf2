// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/redman/internal/domain"
)

var envPrefix = "REDMAN__"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	// Watch for config changes (log level tweaks mid-run, mostly)
	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("baseUrl", "https://redacted.sh/")
	c.viper.SetDefault("apiKey", "")
	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)
	c.viper.SetDefault("poolPath", "")
	c.viper.SetDefault("plexDatabase", "")
	c.viper.SetDefault("qbitHost", "http://localhost:8080")
	c.viper.SetDefault("qbitUsername", "")
	c.viper.SetDefault("qbitPassword", "")
	c.viper.SetDefault("qbitCategory", "redman")
	c.viper.SetDefault("qbitTlsSkipVerify", false)
	c.viper.SetDefault("fetchRetries", 3)
	c.viper.SetDefault("dispatchWorkers", 3)
	c.viper.SetDefault("dispatchAttempts", 3)
	c.viper.SetDefault("downloadLimit", 0)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// With an explicit file viper reports a plain *PathError
			// instead of ConfigFileNotFoundError.
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if notFound || errors.Is(err, fs.ErrNotExist) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath(GetDefaultConfigDir())

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv() - it reads ALL env vars and causes conflicts
	// with deployment_PORT style variables. Bind explicitly instead.

	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.bindOrReadFromFile("apiKey", envPrefix+"API_KEY")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("poolPath", envPrefix+"POOL_PATH")
	c.viper.BindEnv("plexDatabase", envPrefix+"PLEX_DATABASE")
	c.viper.BindEnv("qbitHost", envPrefix+"QBIT_HOST")
	c.viper.BindEnv("qbitUsername", envPrefix+"QBIT_USERNAME")
	c.bindOrReadFromFile("qbitPassword", envPrefix+"QBIT_PASSWORD")
	c.viper.BindEnv("qbitCategory", envPrefix+"QBIT_CATEGORY")
	c.viper.BindEnv("qbitTlsSkipVerify", envPrefix+"QBIT_TLS_SKIP_VERIFY")
	c.viper.BindEnv("fetchRetries", envPrefix+"FETCH_RETRIES")
	c.viper.BindEnv("dispatchWorkers", envPrefix+"DISPATCH_WORKERS")
	c.viper.BindEnv("dispatchAttempts", envPrefix+"DISPATCH_ATTEMPTS")
	c.viper.BindEnv("downloadLimit", envPrefix+"DOWNLOAD_LIMIT")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.Config.Version = c.version
		c.ApplyLogConfig()
	})
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Tracker base URL
# Default: "{{ .baseUrl }}"
baseUrl = "{{ .baseUrl }}"

# Tracker API key
# Can also be supplied via REDMAN__API_KEY or REDMAN__API_KEY_FILE
#apiKey = ""

# Data directory (default: next to config file)
# The pool database (redman.db) is created inside this directory unless
# poolPath points somewhere else.
#dataDir = "/var/db/redman"

# Pool database path override
#poolPath = "/var/db/redman/pool.db"

# Plex metadata database (read-only), used to snapshot library holdings
#plexDatabase = "/var/lib/plexmediaserver/.../com.plexapp.plugins.library.db"

# qBittorrent Web UI
qbitHost = "{{ .qbitHost }}"
#qbitUsername = ""
#qbitPassword = ""

# Category assigned to added torrents
# Default: "{{ .qbitCategory }}"
#qbitCategory = "{{ .qbitCategory }}"

# Skip TLS certificate verification for qBittorrent
# Default: false
#qbitTlsSkipVerify = false

# Retry budget per tracker page request
# Default: {{ .fetchRetries }}
#fetchRetries = {{ .fetchRetries }}

# Concurrent add requests against qBittorrent
# Default: {{ .dispatchWorkers }}
#dispatchWorkers = {{ .dispatchWorkers }}

# Retry ceiling for transiently failing candidates
# Default: {{ .dispatchAttempts }}
#dispatchAttempts = {{ .dispatchAttempts }}

# Cap on torrents added per download run (0 = unlimited)
# Default: {{ .downloadLimit }}
#downloadLimit = {{ .downloadLimit }}

# Log file path
# If not defined, logs to stdout
#logPath = "log/redman.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"
`

	data := map[string]any{
		"baseUrl":          c.viper.GetString("baseUrl"),
		"qbitHost":         c.viper.GetString("qbitHost"),
		"qbitCategory":     c.viper.GetString("qbitCategory"),
		"fetchRetries":     c.viper.GetInt("fetchRetries"),
		"dispatchWorkers":  c.viper.GetInt("dispatchWorkers"),
		"dispatchAttempts": c.viper.GetInt("dispatchAttempts"),
		"downloadLimit":    c.viper.GetInt("downloadLimit"),
		"logLevel":         c.viper.GetString("logLevel"),
		"logMaxSize":       c.viper.GetInt("logMaxSize"),
		"logMaxBackups":    c.viper.GetInt("logMaxBackups"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// Helper functions

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// XDG_CONFIG_HOME first (containers set this to /config)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "redman")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "redman")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "redman")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "redman")
	}
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		writer.FormatTimestamp = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		}
		writer.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			msg := strings.TrimSpace(fmt.Sprint(i))
			if msg == "" {
				return ""
			}
			return msg
		}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetPoolPath returns the path to the pool database file
func (c *AppConfig) GetPoolPath() string {
	if c.Config.PoolPath != "" {
		return c.Config.PoolPath
	}
	return filepath.Join(c.dataDir, "redman.db")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// SetPoolPath overrides the pool database location (used by the --pool flag)
func (c *AppConfig) SetPoolPath(path string) {
	c.Config.PoolPath = path
}

// SetBaseURL overrides the tracker base URL (used by the --base-url flag)
func (c *AppConfig) SetBaseURL(u string) {
	c.Config.BaseURL = u
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// Sets viper variable if environment variable with _FILE suffix is present
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
	} else {
		c.viper.BindEnv(viperVar, envVar)
	}
}
