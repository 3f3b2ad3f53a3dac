package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// modelMapFile is the on-disk shape of MODEL_MAP_FILE:
//
//	models:
//	  imagen-4: imagen-4.0-generate-preview-06-06
type modelMapFile struct {
	Models map[string]string `yaml:"models"`
}

// LoadModelMap reads the optional model mapping file. An empty path yields an
// empty map.
func LoadModelMap(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]string{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model map: %w", err)
	}
	return ParseModelMap(b)
}

// ParseModelMap validates a YAML model mapping payload.
func ParseModelMap(b []byte) (map[string]string, error) {
	var raw modelMapFile
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse model map yaml: %w", err)
	}
	out := make(map[string]string, len(raw.Models))
	for from, to := range raw.Models {
		from = strings.TrimSpace(from)
		to = strings.TrimSpace(to)
		if from == "" {
			return nil, fmt.Errorf("model map: empty source model name")
		}
		if to == "" {
			return nil, fmt.Errorf("model map: '%s' maps to an empty name", from)
		}
		out[from] = to
	}
	return out, nil
}
