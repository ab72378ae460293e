package audit

import "fmt"

// Config selects the action-log backend.
type Config struct {
	// Backend is one of "memory", "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location for persistent backends.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.Path == "" {
		c.Path = "control_actions.db"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "memory", "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown audit backend %s", c.Backend)
	}
	if c.Backend != "memory" && c.Path == "" {
		return fmt.Errorf("path is required for backend %s", c.Backend)
	}
	return nil
}

// Open constructs the configured store.
func (c Config) Open() (Store, error) {
	switch c.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "jsonl":
		return NewJSONLStore(c.Path)
	case "sqlite":
		return NewSQLiteStore(c.Path)
	default:
		return nil, fmt.Errorf("unknown audit backend %s", c.Backend)
	}
}
