package audit

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/linkaudit/am"
	"github.com/teranos/linkaudit/internal/httpclient"
	"github.com/teranos/linkaudit/tracker"
)

// ConfigConnector returns a Connector that validates cfg and builds a tracker
// client from it. Nothing is sent over the network until the query runs.
func ConfigConnector(cfg *am.Config, log *zap.SugaredLogger) Connector {
	return func() (Tracker, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		blockPrivate := cfg.Tracker.BlockPrivateIP
		httpClient := httpclient.NewSaferClientWithOptions(
			time.Duration(cfg.Tracker.TimeoutSeconds)*time.Second,
			httpclient.Options{
				BlockPrivateIP:    &blockPrivate,
				RequestsPerMinute: cfg.Tracker.RequestsPerMinute,
			},
		)

		client, err := tracker.NewClient(TrackerConfig(cfg), httpClient, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// TrackerConfig extracts the tracker client settings from cfg
func TrackerConfig(cfg *am.Config) tracker.Config {
	return tracker.Config{
		BaseURL:    cfg.Tracker.BaseURL,
		Org:        cfg.Tracker.Org,
		Project:    cfg.Tracker.Project,
		APIVersion: cfg.Tracker.APIVersion,
		Token:      cfg.Tracker.Token,
	}
}

// OptionsFromConfig derives run options, including the WIQL query, from cfg
func OptionsFromConfig(cfg *am.Config) Options {
	return Options{
		WorkItemType: cfg.Audit.WorkItemType,
		Query: tracker.BuildQuery(tracker.QueryScope{
			Project:       cfg.Tracker.Project,
			WorkItemType:  cfg.Audit.WorkItemType,
			AreaPath:      cfg.Audit.AreaPath,
			ExcludeStates: cfg.Audit.ExcludeStates,
		}),
		BatchSize:  cfg.Audit.BatchSize,
		BatchDelay: time.Duration(cfg.Audit.BatchDelayMS) * time.Millisecond,
	}
}
