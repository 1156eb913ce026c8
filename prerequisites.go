package main

import (
	"fmt"
	"strconv"
	"strings"

	cerrors "github.com/estuary/source-singlestore/go/connector-errors"
	"github.com/go-mysql-org/go-mysql/client"
	log "github.com/sirupsen/logrus"
)

// Change streaming requires SingleStore 8.5 or newer.
const (
	minimumMajorVersion = 8
	minimumMinorVersion = 5
)

// prerequisiteChecks runs fail-fast sanity checks before any streaming
// starts, accumulating every failure so the user sees them all at once.
func prerequisiteChecks(conn *client.Conn, cfg *Config) error {
	var errs = new(cerrors.PrereqErr)
	for _, check := range []func(conn *client.Conn, cfg *Config) error{
		checkServerVersion,
		checkDatabaseExists,
	} {
		if err := check(conn, cfg); err != nil {
			errs.Err(err)
		}
	}
	if errs.Len() > 0 {
		return cerrors.NewUserError(nil, errs.Error())
	}
	return nil
}

func checkServerVersion(conn *client.Conn, _ *Config) error {
	var results, err = conn.Execute("SELECT @@memsql_version;")
	if err != nil {
		return fmt.Errorf("error querying server version: %w", err)
	}
	defer results.Close()
	if len(results.Values) == 0 {
		return fmt.Errorf("server version query returned no rows")
	}
	var version = string(results.Values[0][0].AsString())
	major, minor, err := parseVersion(version)
	if err != nil {
		return fmt.Errorf("unable to parse server version %q: %w", version, err)
	}
	if major < minimumMajorVersion || (major == minimumMajorVersion && minor < minimumMinorVersion) {
		return fmt.Errorf("change data capture requires SingleStore %d.%d or newer (server reports %q)",
			minimumMajorVersion, minimumMinorVersion, version)
	}
	log.WithField("version", version).Debug("checked server version")
	return nil
}

func parseVersion(version string) (major, minor int, err error) {
	var parts = strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("expected at least '<major>.<minor>'")
	}
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, err
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

func checkDatabaseExists(conn *client.Conn, cfg *Config) error {
	var results, err = conn.Execute("SELECT schema_name FROM information_schema.schemata WHERE schema_name = ?;", cfg.Database)
	if err != nil {
		return fmt.Errorf("error checking for database %q: %w", cfg.Database, err)
	}
	defer results.Close()
	if len(results.Values) == 0 {
		return fmt.Errorf("database %q does not exist or user %q cannot access it", cfg.Database, cfg.User)
	}
	return nil
}
