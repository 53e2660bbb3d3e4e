package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/shaunagostinho/agdash/internal/mcp2515"
	"gopkg.in/yaml.v3"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Frame source
	CAN CANConfig `yaml:"can" json:"can"`

	// Message history persistence
	History HistoryConfig `yaml:"history" json:"history"`

	// CSV logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type CANConfig struct {
	Source string `yaml:"source" json:"source"` // "mcp2515", "serial", "socketcan", "remote" or "demo"

	// MCP2515 on the local SPI bus
	SPIPort    string `yaml:"spi_port" json:"spiPort"` // e.g. /dev/spidev0.0
	SPISpeedHz int64  `yaml:"spi_speed_hz" json:"spiSpeedHz"`
	CSPin      string `yaml:"cs_pin" json:"csPin"`   // e.g. GPIO8
	IntPin     string `yaml:"int_pin" json:"intPin"` // e.g. GPIO25
	ClockHz    int    `yaml:"clock_hz" json:"clockHz"`
	Bitrate    int    `yaml:"bitrate" json:"bitrate"`
	Timing     string `yaml:"timing" json:"timing"` // profile name, overrides clock/bitrate

	// Serial gateway
	SerialPort string `yaml:"serial_port" json:"serialPort"`
	SerialBaud int    `yaml:"serial_baud" json:"serialBaud"`

	// SocketCAN
	Interface string `yaml:"interface" json:"interface"`

	// Remote gateway
	RemoteURL        string `yaml:"remote_url" json:"remoteUrl"`
	RemoteIntervalMs int    `yaml:"remote_interval_ms" json:"remoteIntervalMs"`

	PollHz          int `yaml:"poll_hz" json:"pollHz"`
	ConnectAttempts int `yaml:"connect_attempts" json:"connectAttempts"` // 0 retries forever
}

type HistoryConfig struct {
	Capacity int    `yaml:"capacity" json:"capacity"`
	Persist  bool   `yaml:"persist" json:"persist"`
	Path     string `yaml:"path" json:"path"`
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between rows of one PGN
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CAN: CANConfig{
			Source:           "demo",
			SPIPort:          "/dev/spidev0.0",
			SPISpeedHz:       10_000_000,
			CSPin:            "GPIO8",
			IntPin:           "GPIO25",
			ClockHz:          mcp2515.Profile8MHz250k.ClockHz,
			Bitrate:          mcp2515.Profile8MHz250k.Bitrate,
			SerialPort:       "/dev/ttyUSB0",
			SerialBaud:       115200,
			Interface:        "can0",
			RemoteURL:        "http://192.168.4.1",
			RemoteIntervalMs: 1000,
			PollHz:           100,
			ConnectAttempts:  10,
		},
		History: HistoryConfig{
			Capacity: 100,
			Persist:  false,
			Path:     "/var/lib/agdash/history.db",
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/agdash",
			Interval: 100,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: CAN_SOURCE, CAN_SPI_PORT, CAN_CS_PIN, CAN_INT_PIN, CAN_CLOCK_HZ,
// CAN_BITRATE, CAN_SERIAL_PORT, CAN_SERIAL_BAUD, CAN_INTERFACE,
// CAN_REMOTE_URL, HISTORY_PATH, LOG_ENABLED, LOG_PATH, LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				log.Printf("[config] ignoring %s=%q: not a number", key, v)
			}
		}
	}

	str("CAN_SOURCE", &c.CAN.Source)
	str("CAN_SPI_PORT", &c.CAN.SPIPort)
	str("CAN_CS_PIN", &c.CAN.CSPin)
	str("CAN_INT_PIN", &c.CAN.IntPin)
	num("CAN_CLOCK_HZ", &c.CAN.ClockHz)
	num("CAN_BITRATE", &c.CAN.Bitrate)
	str("CAN_SERIAL_PORT", &c.CAN.SerialPort)
	num("CAN_SERIAL_BAUD", &c.CAN.SerialBaud)
	str("CAN_INTERFACE", &c.CAN.Interface)
	str("CAN_REMOTE_URL", &c.CAN.RemoteURL)
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		c.History.Path = v
		c.History.Persist = true
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	str("LOG_PATH", &c.Logging.Path)
	str("LISTEN_ADDR", &c.Server.ListenAddr)
}

// TimingProfile resolves the MCP2515 bit-timing registers for the CAN
// section: a named profile if set, otherwise the clock/bitrate pair.
func (c *Config) TimingProfile() (mcp2515.Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.CAN.Timing != "" {
		p, ok := mcp2515.ProfileByName(c.CAN.Timing)
		if !ok {
			return mcp2515.Profile{}, fmt.Errorf("%w: no profile named %q", mcp2515.ErrUnsupportedTiming, c.CAN.Timing)
		}
		return p, nil
	}
	return mcp2515.LookupProfile(c.CAN.ClockHz, c.CAN.Bitrate)
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/agdash/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
