// Package config loads torque2mqtt configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up inside a directory.
const FileName = "config.yaml"

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/torque2mqtt/config.yaml,
// /etc/torque2mqtt/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{FileName}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "torque2mqtt", FileName))
	}

	paths = append(paths, filepath.Join("/etc", "torque2mqtt", FileName))
	return paths
}

// FindConfig locates a config file. An explicit path must exist; when it
// names a directory, config.yaml inside it is used. Otherwise the first
// existing entry of DefaultSearchPaths wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		if info.IsDir() {
			path := filepath.Join(explicit, FileName)
			if _, err := os.Stat(path); err != nil {
				return "", fmt.Errorf("config file not found: %s", path)
			}
			return path, nil
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all torque2mqtt configuration.
type Config struct {
	Server     ServerConfig  `yaml:"server"`
	MQTT       MQTTConfig    `yaml:"mqtt"`
	Imperial   bool          `yaml:"imperial"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	DataDir    string        `yaml:"data_dir"`
	LogLevel   string        `yaml:"log_level"`
	LogFormat  string        `yaml:"log_format"`
}

// ServerConfig is the HTTP listener the Torque app uploads to.
type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Addr returns the listener address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}

// Output formats for mqtt.format.
const (
	FormatJSON = "json"
	FormatRaw  = "raw"
)

// ClientIDAuto asks for a client id derived from the persistent instance id.
const ClientIDAuto = "auto"

// MQTTConfig describes the broker connection and message layout.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Cert is a CA bundle path. Setting it switches the connection to TLS.
	Cert      string `yaml:"cert"`
	Prefix    string `yaml:"prefix"`
	Format    string `yaml:"format"`
	ClientID  string `yaml:"client_id"`
	KeepAlive int    `yaml:"keepalive"`
}

// Raw reports whether messages are logged instead of published.
func (m MQTTConfig) Raw() bool {
	return m.Format == FormatRaw
}

// Default returns the configuration used for any key the file omits.
func Default() *Config {
	return &Config{
		Server: ServerConfig{IP: "0.0.0.0", Port: 5000},
		MQTT: MQTTConfig{
			Port:      1883,
			Prefix:    "torque",
			Format:    FormatJSON,
			ClientID:  "torque",
			KeepAlive: 60,
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file. A .env file next to it is
// loaded into the environment first, then ${VAR} references are expanded.
// The LOGLEVEL environment variable overrides log_level.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if lvl := os.Getenv("LOGLEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	cfg.MQTT.Format = strings.ToLower(strings.TrimSpace(cfg.MQTT.Format))
	cfg.DataDir = ExpandHome(cfg.DataDir)
	cfg.MQTT.Cert = ExpandHome(cfg.MQTT.Cert)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if !validPort(c.Server.Port) {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.MQTT.Format {
	case FormatJSON:
		if c.MQTT.Host == "" {
			errs = append(errs, errors.New("mqtt.host is required when mqtt.format is json"))
		}
	case FormatRaw:
	default:
		errs = append(errs, fmt.Errorf("mqtt.format %q is not json or raw", c.MQTT.Format))
	}
	if !validPort(c.MQTT.Port) {
		errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
	}
	if c.MQTT.KeepAlive < 0 || c.MQTT.KeepAlive > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.keepalive %d out of range", c.MQTT.KeepAlive))
	}
	if c.MQTT.ClientID == "" {
		errs = append(errs, errors.New("mqtt.client_id must not be empty"))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("session_ttl %s is negative", c.SessionTTL))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is not text or json", c.LogFormat))
	}

	return errors.Join(errs...)
}

// ExpandHome replaces a leading ~ with the user's home directory. Paths
// without one, and paths when the home directory is unknown, are
// returned unchanged.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
