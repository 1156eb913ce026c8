package main

import (
	"fmt"

	"github.com/estuary/source-singlestore/observe"
	"github.com/go-mysql-org/go-mysql/client"
	log "github.com/sirupsen/logrus"
)

// tableSchema is the discovered identity, column order, and partition count
// of the single observed table. It implements observe.SchemaInfo.
type tableSchema struct {
	table      observe.TableID
	columns    []string
	partitions int
}

func (s *tableSchema) TableIDs() []observe.TableID {
	return []observe.TableID{s.table}
}

func (s *tableSchema) ColumnNames(table observe.TableID) ([]string, error) {
	if table != s.table {
		return nil, fmt.Errorf("unknown table %q", table.String())
	}
	return s.columns, nil
}

const queryDiscoverColumns = `
  SELECT column_name
  FROM information_schema.columns
  WHERE table_schema = ? AND table_name = ?
  ORDER BY ordinal_position;`

const queryPartitionCount = `
  SELECT num_partitions
  FROM information_schema.distributed_databases
  WHERE database_name = ?;`

// discoverTableSchema resolves the observed table's ordered column list and
// the partition count of its database. The partition count sizes the offset
// context and is stable for the life of the stream.
func discoverTableSchema(conn *client.Conn, cfg *Config) (*tableSchema, error) {
	var results, err = conn.Execute(queryDiscoverColumns, cfg.Database, cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("error listing columns of %q.%q: %w", cfg.Database, cfg.Table, err)
	}
	var columns []string
	for _, row := range results.Values {
		columns = append(columns, string(row[0].AsString()))
	}
	results.Close()
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q.%q has no discoverable columns (does the table exist?)", cfg.Database, cfg.Table)
	}
	if cfg.Advanced.PopulateInternalID {
		columns = append(columns, observe.InternalIDField)
	}

	results, err = conn.Execute(queryPartitionCount, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error querying partition count of %q: %w", cfg.Database, err)
	}
	defer results.Close()
	if len(results.Values) == 0 {
		return nil, fmt.Errorf("database %q is not a distributed database (no partition count reported)", cfg.Database)
	}
	var partitions = int(results.Values[0][0].AsInt64())
	if partitions <= 0 {
		return nil, fmt.Errorf("database %q reports a nonsensical partition count %d", cfg.Database, partitions)
	}

	log.WithFields(log.Fields{
		"table":      cfg.Table,
		"columns":    len(columns),
		"partitions": partitions,
	}).Info("discovered table schema")
	return &tableSchema{
		table:      cfg.tableID(),
		columns:    columns,
		partitions: partitions,
	}, nil
}
