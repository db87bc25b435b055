// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPath is the config file the binaries look for when no flag is given.
const DefaultPath = "groundstation_config.txt"

// Config holds all application configuration values.
type Config struct {
	// Serial source
	SerialPort              string
	SerialBaudRate          int
	SerialReconnectInterval time.Duration // 0 = source stops after a failure
	ReplayFile              string        // replaces the serial port when set

	// Line parsing
	LineFormat    string // "delimited", "json" or "nmea"
	LineSeparator string
	LineTrim      bool

	// Schema and framing
	SchemaFile    string
	BoundaryField string // empty = first enabled schema field

	// Files
	LogFile             string
	TrackFile           string
	TrackLatitudeField  string
	TrackLongitudeField string
	TrackAltitudeField  string

	// Backup mirror
	BackupDir      string
	BackupFiles    []string // empty = log + track
	BackupInterval time.Duration

	// Relational mirror (disabled when SQLDSN is empty)
	SQLDSN   string
	SQLTable string

	// MQTT mirror (disabled when MQTTBroker is empty)
	MQTTBroker   string
	MQTTClientID string
	TopicFrame   string

	// Web Server
	WebServerPort    int
	WebStaticDir     string
	WebConfigDir     string
	TailPollInterval time.Duration // 0 = file-system events only
	SubscriberBuffer int

	// Behaviour
	FlushOnShutdown bool
	LogLevel        string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		SerialBaudRate:      115200,
		LineFormat:          "delimited",
		LineSeparator:       "=",
		LineTrim:            true,
		SchemaFile:          "config/csvFields.json",
		LogFile:             "sheet.csv",
		TrackFile:           "track.kml",
		TrackLatitudeField:  "Latitude",
		TrackLongitudeField: "Longitude",
		TrackAltitudeField:  "Altitude",
		BackupDir:           "backup",
		BackupInterval:      10 * time.Second,
		SQLTable:            "sensor_data",
		MQTTClientID:        "groundstation-mirror",
		TopicFrame:          "groundstation/frame",
		WebServerPort:       8080,
		WebStaticDir:        "web",
		WebConfigDir:        "config",
		SubscriberBuffer:    64,
		LogLevel:            "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	return LoadWithOverrides(configPath, nil)
}

// LoadWithOverrides is Load with KEY=VALUE pairs applied after the file and
// before validation. Command-line flags use it.
func LoadWithOverrides(configPath string, overrides map[string]string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	for key, value := range overrides {
		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("override: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Serial source
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		if rate <= 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE must be positive, got %d", rate)
		}
		c.SerialBaudRate = rate
	case "SERIAL_RECONNECT_INTERVAL":
		d, err := parseMillis(key, value)
		if err != nil {
			return err
		}
		c.SerialReconnectInterval = d
	case "REPLAY_FILE":
		c.ReplayFile = value

	// Line parsing
	case "LINE_FORMAT":
		c.LineFormat = strings.ToLower(value)
	case "LINE_SEPARATOR":
		c.LineSeparator = value
	case "LINE_TRIM":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid LINE_TRIM %q: %w", value, err)
		}
		c.LineTrim = b

	// Schema and framing
	case "SCHEMA_FILE":
		c.SchemaFile = value
	case "BOUNDARY_FIELD":
		c.BoundaryField = value

	// Files
	case "LOG_FILE":
		c.LogFile = value
	case "TRACK_FILE":
		c.TrackFile = value
	case "TRACK_LATITUDE_FIELD":
		c.TrackLatitudeField = value
	case "TRACK_LONGITUDE_FIELD":
		c.TrackLongitudeField = value
	case "TRACK_ALTITUDE_FIELD":
		c.TrackAltitudeField = value

	// Backup mirror
	case "BACKUP_DIR":
		c.BackupDir = value
	case "BACKUP_FILES":
		c.BackupFiles = splitList(value)
	case "BACKUP_INTERVAL_MS":
		d, err := parseMillis(key, value)
		if err != nil {
			return err
		}
		c.BackupInterval = d

	// Relational mirror
	case "SQL_DSN":
		c.SQLDSN = value
	case "SQL_TABLE":
		c.SQLTable = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_FRAME":
		c.TopicFrame = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value
	case "WEB_CONFIG_DIR":
		c.WebConfigDir = value
	case "TAIL_POLL_INTERVAL":
		d, err := parseMillis(key, value)
		if err != nil {
			return err
		}
		c.TailPollInterval = d
	case "SUBSCRIBER_BUFFER":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SUBSCRIBER_BUFFER %q: %w", value, err)
		}
		if n < 1 {
			return fmt.Errorf("SUBSCRIBER_BUFFER must be at least 1, got %d", n)
		}
		c.SubscriberBuffer = n

	// Behaviour
	case "FLUSH_ON_SHUTDOWN":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid FLUSH_ON_SHUTDOWN %q: %w", value, err)
		}
		c.FlushOnShutdown = b
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// parseMillis reads a non-negative integer number of milliseconds.
func parseMillis(key, value string) (time.Duration, error) {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if ms < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.SerialPort == "" && c.ReplayFile == "" {
		return fmt.Errorf("SERIAL_PORT or REPLAY_FILE is required")
	}
	switch c.LineFormat {
	case "delimited", "json", "nmea":
	default:
		return fmt.Errorf("LINE_FORMAT must be delimited, json or nmea, got %q", c.LineFormat)
	}
	if c.LineFormat == "delimited" && c.LineSeparator == "" {
		return fmt.Errorf("LINE_SEPARATOR is required for delimited lines")
	}
	if c.SchemaFile == "" {
		return fmt.Errorf("SCHEMA_FILE is required")
	}
	if c.LogFile == "" {
		return fmt.Errorf("LOG_FILE is required")
	}
	if c.TrackFile == "" {
		return fmt.Errorf("TRACK_FILE is required")
	}
	if c.TrackFile == c.LogFile {
		return fmt.Errorf("TRACK_FILE and LOG_FILE must differ")
	}
	if c.SQLDSN != "" && c.SQLTable == "" {
		return fmt.Errorf("SQL_TABLE is required when SQL_DSN is set")
	}
	if c.MQTTBroker != "" && c.TopicFrame == "" {
		return fmt.Errorf("TOPIC_FRAME is required when MQTT_BROKER is set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// BackupSources is the list of files mirrored by the backup sink.
func (c *Config) BackupSources() []string {
	if len(c.BackupFiles) > 0 {
		return c.BackupFiles
	}
	return []string{c.LogFile, c.TrackFile}
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string, overrides map[string]string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = LoadWithOverrides(configPath, overrides)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
