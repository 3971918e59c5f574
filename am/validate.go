package am

import (
	"net/url"

	"github.com/teranos/linkaudit/errors"
)

// Validate checks that the configuration is usable for an audit run.
// Every failure is marked errors.ErrConfig.
func (c *Config) Validate() error {
	if c.Tracker.Token == "" {
		return errors.WithHint(
			errors.NewConfigError("tracker token is not set"),
			"export LINKAUDIT_TRACKER_TOKEN (or AZURE_DEVOPS_PAT) with a personal access token that can read work items",
		)
	}

	if c.Tracker.Org == "" {
		return errors.NewConfigError("tracker.org cannot be empty")
	}
	if c.Tracker.Project == "" {
		return errors.NewConfigError("tracker.project cannot be empty")
	}
	if c.Tracker.APIVersion == "" {
		return errors.NewConfigError("tracker.api_version cannot be empty")
	}

	u, err := url.Parse(c.Tracker.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.NewConfigError("tracker.base_url must be an absolute URL, got %q", c.Tracker.BaseURL)
	}

	if c.Tracker.TimeoutSeconds <= 0 {
		return errors.NewConfigError("tracker.timeout_seconds must be > 0, got %d", c.Tracker.TimeoutSeconds)
	}
	// 0 = no cap, negative = invalid
	if c.Tracker.RequestsPerMinute < 0 {
		return errors.NewConfigError("tracker.requests_per_minute must be >= 0, got %d", c.Tracker.RequestsPerMinute)
	}

	if c.Audit.WorkItemType == "" {
		return errors.NewConfigError("audit.work_item_type cannot be empty")
	}
	if c.Audit.BatchSize < 1 || c.Audit.BatchSize > MaxBatchSize {
		return errors.NewConfigError("audit.batch_size must be between 1 and %d, got %d", MaxBatchSize, c.Audit.BatchSize)
	}
	if c.Audit.BatchDelayMS < MinBatchDelayMS {
		return errors.WithHintf(
			errors.NewConfigError("audit.batch_delay_ms must be >= %d, got %d", MinBatchDelayMS, c.Audit.BatchDelayMS),
			"the tracker throttles clients that issue batch requests faster than every %dms", MinBatchDelayMS,
		)
	}
	if c.Audit.TitleWidth < 10 {
		return errors.NewConfigError("audit.title_width must be >= 10, got %d", c.Audit.TitleWidth)
	}

	if c.History.Enabled && c.History.Path == "" {
		return errors.NewConfigError("history.path cannot be empty when history is enabled")
	}

	return nil
}
