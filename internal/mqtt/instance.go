package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nugget/torque2mqtt/internal/config"
)

const instanceFile = "instance_id"

// LoadOrCreateInstanceID returns the UUIDv7 stored in dataDir, creating
// and persisting one on first use.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceFile)

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0644); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return id.String(), nil
}

// ClientID resolves the MQTT client identifier. The literal "auto" yields
// "torque-<instance id>", stable across restarts so several bridges can
// share a broker.
func ClientID(cfg config.MQTTConfig, dataDir string) (string, error) {
	if cfg.ClientID != config.ClientIDAuto {
		return cfg.ClientID, nil
	}
	id, err := LoadOrCreateInstanceID(dataDir)
	if err != nil {
		return "", err
	}
	return "torque-" + id, nil
}
