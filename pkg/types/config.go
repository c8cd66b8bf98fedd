package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfig is the optional runwatch.yaml configuration.
type ProjectConfig struct {
	StatusSource StatusSourceConfig `yaml:"statusSource" json:"statusSource"`
	Watch        WatchConfig        `yaml:"watch" json:"watch"`
}

// StatusSourceConfig locates the workflow-run status API.
type StatusSourceConfig struct {
	BaseURL   string `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	Owner     string `yaml:"owner,omitempty" json:"owner,omitempty"`
	Repo      string `yaml:"repo,omitempty" json:"repo,omitempty"`
	UserAgent string `yaml:"userAgent,omitempty" json:"userAgent,omitempty"`
}

// WatchConfig controls polling cadence and the process ceiling.
type WatchConfig struct {
	Interval       Duration `yaml:"interval,omitempty" json:"interval,omitempty"`             // e.g. "60s"
	Ceiling        Duration `yaml:"ceiling,omitempty" json:"ceiling,omitempty"`               // e.g. "1h"
	RequestTimeout Duration `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"` // per fetch/notify call
}

// Duration is a time.Duration that reads from YAML strings such as "90s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats the duration the way time.Duration does.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
