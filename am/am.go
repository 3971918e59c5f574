// Package am loads and validates linkaudit configuration.
//
// Sources in precedence order (lowest first): defaults, /etc/linkaudit/config.toml,
// ~/.linkaudit/config.toml, the nearest ./linkaudit.toml walking up from the
// working directory, then LINKAUDIT_* environment variables.
package am

// Config represents the linkaudit configuration
type Config struct {
	Tracker TrackerConfig `mapstructure:"tracker" json:"tracker" toml:"tracker" yaml:"tracker"`
	Audit   AuditConfig   `mapstructure:"audit" json:"audit" toml:"audit" yaml:"audit"`
	History HistoryConfig `mapstructure:"history" json:"history" toml:"history" yaml:"history"`
}

// TrackerConfig configures access to the work tracking service
type TrackerConfig struct {
	BaseURL           string `mapstructure:"base_url" json:"base_url" toml:"base_url" yaml:"base_url"`
	Org               string `mapstructure:"org" json:"org" toml:"org" yaml:"org"`
	Project           string `mapstructure:"project" json:"project" toml:"project" yaml:"project"` // display name, may contain spaces
	APIVersion        string `mapstructure:"api_version" json:"api_version" toml:"api_version" yaml:"api_version"`
	Token             string `mapstructure:"token" json:"token" toml:"token" yaml:"token"` // personal access token, no default
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" json:"timeout_seconds" toml:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" json:"requests_per_minute" toml:"requests_per_minute" yaml:"requests_per_minute"` // 0 = no cap
	BlockPrivateIP    bool   `mapstructure:"block_private_ip" json:"block_private_ip" toml:"block_private_ip" yaml:"block_private_ip"`
}

// AuditConfig configures the relationship audit
type AuditConfig struct {
	WorkItemType  string   `mapstructure:"work_item_type" json:"work_item_type" toml:"work_item_type" yaml:"work_item_type"`
	AreaPath      string   `mapstructure:"area_path" json:"area_path" toml:"area_path" yaml:"area_path"` // empty = whole project
	ExcludeStates []string `mapstructure:"exclude_states" json:"exclude_states" toml:"exclude_states" yaml:"exclude_states"`
	BatchSize     int      `mapstructure:"batch_size" json:"batch_size" toml:"batch_size" yaml:"batch_size"`
	BatchDelayMS  int      `mapstructure:"batch_delay_ms" json:"batch_delay_ms" toml:"batch_delay_ms" yaml:"batch_delay_ms"`
	TitleWidth    int      `mapstructure:"title_width" json:"title_width" toml:"title_width" yaml:"title_width"`
}

// HistoryConfig configures the optional run history database
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" json:"path" toml:"path" yaml:"path"`
}

// Limits imposed by the tracker API
const (
	MaxBatchSize        = 200 // work items per batch request
	MinBatchDelayMS     = 300 // pause between batch requests
	DefaultTimeoutSecs  = 60
	DefaultTitleWidth   = 60
	DefaultHistoryPath  = "linkaudit.db"
	ProjectConfigName   = "linkaudit.toml"
	UserConfigDirName   = ".linkaudit"
	SystemConfigPath    = "/etc/linkaudit/config.toml"
	EnvPrefix           = "LINKAUDIT"
	DefaultDirPerms     = 0755
	RedactedPlaceholder = "********"
)

// Redacted returns a copy of the config safe for display
func (c Config) Redacted() Config {
	if c.Tracker.Token != "" {
		c.Tracker.Token = RedactedPlaceholder
	}
	return c
}
