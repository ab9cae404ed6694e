package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExtractorConfig declares the command that turns one file type into text.
type ExtractorConfig struct {
	Extension   string            `yaml:"extension" json:"extension"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
}

// ConfigFile represents the structure of extractors.yaml
type ConfigFile struct {
	Extractors []ExtractorConfig `yaml:"extractors" json:"extractors"`
}

// LoadExtractors reads a configuration file (YAML or JSON) and returns the
// extractors keyed by normalized extension. A missing file means no extractors.
func LoadExtractors(path string) (map[string]ExtractorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ExtractorConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read extractors config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	out := make(map[string]ExtractorConfig)
	for _, e := range cfg.Extractors {
		ext := normalizeExt(e.Extension)
		if ext == "" || e.Command == "" {
			continue
		}
		e.Extension = ext
		out[ext] = e
	}
	return out, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
