package telemetry

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v2"
)

// RecordedEvent is one entry of a captured event sequence, used to replay
// published traffic against the emitter in tests and dry runs.
type RecordedEvent struct {
	Message string                 `yaml:"message"`
	Data    map[string]interface{} `yaml:"data"`
}

// LoadRecordedEvents reads a YAML fixture of captured events.
func LoadRecordedEvents(path string) ([]RecordedEvent, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var events []RecordedEvent
	if err := yaml.Unmarshal(contents, &events); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return events, nil
}
