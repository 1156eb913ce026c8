package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/estuary/source-singlestore/observe"
)

// Config tells the connector how to connect to the source database and
// which table's change stream to capture.
type Config struct {
	Address  string         `json:"address" jsonschema:"title=Server Address,description=The host or host:port at which SingleStore can be reached." jsonschema_extras:"order=0"`
	User     string         `json:"user" jsonschema:"title=Login Username,default=flow_capture,description=The database user to authenticate as." jsonschema_extras:"order=1"`
	Password string         `json:"password" jsonschema:"title=Login Password,description=Password for the specified database user." jsonschema_extras:"secret=true,order=2"`
	Database string         `json:"database" jsonschema:"title=Database,description=The name of the database containing the observed table." jsonschema_extras:"order=3"`
	Table    string         `json:"table" jsonschema:"title=Table,description=The single table whose change stream is captured. The OBSERVE protocol addresses exactly one table per stream." jsonschema_extras:"order=4"`
	Advanced advancedConfig `json:"advanced,omitempty" jsonschema:"title=Advanced Options,description=Options for advanced users. You should not typically need to modify these." jsonschema_extra:"advanced=true"`
}

type advancedConfig struct {
	SnapshotMode        string `json:"snapshot_mode,omitempty" jsonschema:"title=Snapshot Mode,default=initial,description=When set to 'initial_only' the connector never streams changes.,enum=initial,enum=initial_only"`
	PopulateInternalID  bool   `json:"populate_internal_id,omitempty" jsonschema:"title=Populate Internal ID,default=false,description=Add a synthetic 'internalId' field populated from the row's internal id when the table has no usable primary key."`
	PollIntervalSeconds int    `json:"poll_interval_seconds,omitempty" jsonschema:"title=Shutdown Poll Interval,default=1,description=How often (in seconds) the shutdown watcher re-checks whether the connector has been asked to stop while a read is blocked."`
}

// Validate checks that the configuration possesses all required properties.
func (c *Config) Validate() error {
	var requiredProperties = [][]string{
		{"address", c.Address},
		{"user", c.User},
		{"password", c.Password},
		{"database", c.Database},
		{"table", c.Table},
	}
	for _, req := range requiredProperties {
		if req[1] == "" {
			return fmt.Errorf("missing '%s'", req[0])
		}
	}
	if c.Advanced.SnapshotMode != "" {
		if err := observe.SnapshotMode(c.Advanced.SnapshotMode).Validate(); err != nil {
			return err
		}
	}
	if c.Advanced.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll interval must not be negative: %d", c.Advanced.PollIntervalSeconds)
	}
	return nil
}

// SetDefaults fills in the default values for unset optional parameters.
func (c *Config) SetDefaults() {
	// The address config property should accept a host or host:port
	// value, and if the port is unspecified it should be the default 3306.
	if !strings.Contains(c.Address, ":") {
		c.Address += ":3306"
	}
	if c.Advanced.SnapshotMode == "" {
		c.Advanced.SnapshotMode = string(observe.SnapshotModeInitial)
	}
	if c.Advanced.PollIntervalSeconds == 0 {
		c.Advanced.PollIntervalSeconds = 1
	}
}

func (c *Config) pollInterval() time.Duration {
	return time.Duration(c.Advanced.PollIntervalSeconds) * time.Second
}

func (c *Config) tableID() observe.TableID {
	return observe.TableID{Database: c.Database, Name: c.Table}
}
