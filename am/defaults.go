package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
// The tracker token deliberately has none.
func SetDefaults(v *viper.Viper) {
	// Tracker defaults
	v.SetDefault("tracker.base_url", "https://dev.azure.com")
	v.SetDefault("tracker.org", "my-org")
	v.SetDefault("tracker.project", "My Project")
	v.SetDefault("tracker.api_version", "7.0")
	v.SetDefault("tracker.timeout_seconds", DefaultTimeoutSecs)
	v.SetDefault("tracker.requests_per_minute", 0)
	v.SetDefault("tracker.block_private_ip", true)

	// Audit defaults
	v.SetDefault("audit.work_item_type", "Task")
	v.SetDefault("audit.area_path", "")
	v.SetDefault("audit.exclude_states", []string{})
	v.SetDefault("audit.batch_size", MaxBatchSize)
	v.SetDefault("audit.batch_delay_ms", MinBatchDelayMS)
	v.SetDefault("audit.title_width", DefaultTitleWidth)

	// History defaults
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", DefaultHistoryPath)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables.
// The first variable that is set wins.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("tracker.token", "LINKAUDIT_TRACKER_TOKEN", "AZURE_DEVOPS_PAT", "AZDO_PAT")
	_ = v.BindEnv("tracker.org", "LINKAUDIT_TRACKER_ORG", "AZURE_DEVOPS_ORG")
	_ = v.BindEnv("tracker.project", "LINKAUDIT_TRACKER_PROJECT", "AZURE_DEVOPS_PROJECT")
	_ = v.BindEnv("tracker.api_version", "LINKAUDIT_TRACKER_API_VERSION", "AZURE_DEVOPS_API_VERSION")
}
