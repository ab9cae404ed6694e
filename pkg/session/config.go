package session

import (
	"path/filepath"
	"strings"

	"github.com/aretw0/docket/pkg/pacing"
)

// DefaultAllowedExtensions is the upload whitelist used when none is configured.
var DefaultAllowedExtensions = []string{".pdf", ".docx", ".xlsx", ".jpg", ".jpeg", ".png", ".txt"}

const (
	// DefaultExtension is sent to path generation when the file has none.
	DefaultExtension = ".pdf"
	// DefaultPath is used when the backend proposes no destination folder.
	DefaultPath = "/Documentos/Otros"
)

// Config is the explicit configuration of a session.
type Config struct {
	AllowedExtensions []string      `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	DefaultExtension  string        `yaml:"default_extension" mapstructure:"default_extension"`
	DefaultPath       string        `yaml:"default_path" mapstructure:"default_path"`
	Pacing            pacing.Config `yaml:"pacing" mapstructure:"pacing"`
	AnalysisEnabled   bool          `yaml:"analysis_enabled" mapstructure:"analysis_enabled"`
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		DefaultExtension:  DefaultExtension,
		DefaultPath:       DefaultPath,
		Pacing:            pacing.DefaultConfig(),
		AnalysisEnabled:   true,
	}
}

// withDefaults fills the empty string fields.
func (c Config) withDefaults() Config {
	if c.DefaultExtension == "" {
		c.DefaultExtension = DefaultExtension
	}
	if c.DefaultPath == "" {
		c.DefaultPath = DefaultPath
	}
	return c
}

// Allows reports whether ext (with or without the leading dot, any case) is whitelisted.
// An empty whitelist allows everything.
func (c Config) Allows(ext string) bool {
	if len(c.AllowedExtensions) == 0 {
		return true
	}
	ext = NormalizeExtension(ext)
	for _, a := range c.AllowedExtensions {
		if NormalizeExtension(a) == ext {
			return true
		}
	}
	return false
}

// NormalizeExtension lowercases ext and ensures the leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// extensionOf returns the normalized extension declared on a file or derived from its name.
func extensionOf(ext, name string) string {
	if ext != "" {
		return NormalizeExtension(ext)
	}
	return NormalizeExtension(filepath.Ext(name))
}
