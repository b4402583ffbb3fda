package backend

// InstanceConfig is one backend instance declaration. The same record shape
// feeds the YAML config file and the session-start HTTP body. Declaration
// order across a list is fallback priority: first listed is tried first.
type InstanceConfig struct {
	Name         string         `yaml:"name" json:"name"`
	Enabled      *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	URL          string         `yaml:"url,omitempty" json:"url,omitempty"`
	Capabilities map[string]any `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// IsEnabled treats an omitted enabled field as true.
func (c InstanceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EnabledOnly filters configs down to the enabled ones, preserving order.
func EnabledOnly(configs []InstanceConfig) []InstanceConfig {
	out := make([]InstanceConfig, 0, len(configs))
	for _, c := range configs {
		if c.IsEnabled() {
			out = append(out, c)
		}
	}
	return out
}
